package agentroom

import (
	"errors"
	"fmt"
	"net/url"
)

// Common error variables
var (
	// ErrClosed is returned when attempting to use a client that has been
	// closed. The signaling connection has been terminated and the client
	// is no longer usable; create a new client to rejoin.
	ErrClosed = errors.New("agentroom: connection is closed")

	// ErrInvalidConfig is returned when required configuration fields are missing.
	ErrInvalidConfig = errors.New("agentroom: invalid configuration")

	// ErrConnectionFailed is returned when the signaling connection cannot be established.
	ErrConnectionFailed = errors.New("agentroom: connection failed")

	// ErrSendTimeout is returned when sending a signaling message times out.
	ErrSendTimeout = errors.New("agentroom: send timeout")

	// ErrRPCTimeout is returned when the agent does not answer an RPC
	// within the configured timeout.
	ErrRPCTimeout = errors.New("agentroom: rpc timeout")

	// ErrPermissionDenied is returned when the participant token does not
	// grant the attempted operation, e.g. publishing without a publish grant.
	ErrPermissionDenied = errors.New("agentroom: permission denied")

	// ErrNoMediaPeer is returned when a track operation is attempted before
	// a media peer has been attached to the client.
	ErrNoMediaPeer = errors.New("agentroom: no media peer attached")
)

// ConfigError represents a configuration validation error.
// It provides detailed information about which configuration field is invalid.
type ConfigError struct {
	Field   string // The configuration field that is invalid
	Value   string // The invalid value (if safe to log)
	Message string // Detailed error message
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("agentroom: invalid config field %q (value: %q): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("agentroom: invalid config field %q: %s", e.Field, e.Message)
}

// Is implements error matching for ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ConnectionError represents a signaling connection error.
// It wraps underlying network errors with additional context.
type ConnectionError struct {
	URL       string // The signaling URL that failed to connect
	Cause     error  // The underlying error
	Operation string // The operation that failed (e.g., "dial", "handshake")
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("agentroom: %s failed for %q: %v", e.Operation, e.URL, e.Cause)
	}
	return fmt.Sprintf("agentroom: %s failed for %q", e.Operation, e.URL)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for ConnectionError.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionFailed
}

// SendError represents an error that occurred while sending a signaling message.
type SendError struct {
	MessageType string // The type of message being sent
	Cause       error  // The underlying error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("agentroom: failed to send %s message: %v", e.MessageType, e.Cause)
}

// Unwrap returns the underlying error.
func (e *SendError) Unwrap() error {
	return e.Cause
}

// IsTimeout returns true if the error was caused by a timeout.
func (e *SendError) IsTimeout() bool {
	return errors.Is(e.Cause, ErrSendTimeout)
}

// RPCError represents a failed remote-procedure call to the agent.
// It carries the error object the call resolved to, either received from
// the agent or synthesized locally (timeouts, unparseable responses).
type RPCError struct {
	Method  string // The RPC method that failed
	Code    string // Machine-readable error code (e.g. "TIMEOUT", "PARSE_ERROR")
	Message string // Human-readable error description
	Cause   error  // The underlying error, if synthesized locally
}

func (e *RPCError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("agentroom: rpc %q failed [%s]: %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("agentroom: rpc %q failed: %s", e.Method, e.Message)
}

// Unwrap returns the underlying error.
func (e *RPCError) Unwrap() error {
	return e.Cause
}

// IsTimeout returns true if the call failed because the agent did not
// answer in time.
func (e *RPCError) IsTimeout() bool {
	return e.Code == rpcCodeTimeout || errors.Is(e.Cause, ErrRPCTimeout)
}

// EventError represents an error in processing an event from the platform.
type EventError struct {
	EventType string // The type of event that caused the error
	RawData   []byte // The raw JSON data (if available)
	Cause     error  // The underlying parsing error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("agentroom: failed to process %s event: %v", e.EventType, e.Cause)
}

// Unwrap returns the underlying error.
func (e *EventError) Unwrap() error {
	return e.Cause
}

// Helper functions for creating specific errors

// NewConfigError creates a new configuration error.
func NewConfigError(field, value, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewConnectionError creates a new connection error.
func NewConnectionError(url, operation string, cause error) *ConnectionError {
	return &ConnectionError{
		URL:       url,
		Operation: operation,
		Cause:     cause,
	}
}

// NewSendError creates a new send error.
func NewSendError(messageType string, cause error) *SendError {
	return &SendError{
		MessageType: messageType,
		Cause:       cause,
	}
}

// NewRPCError creates a new RPC error.
func NewRPCError(method, code, message string, cause error) *RPCError {
	return &RPCError{
		Method:  method,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Validation helper functions

// ValidateConfig performs comprehensive configuration validation.
func ValidateConfig(cfg Config) error {
	if cfg.ServerURL == "" {
		return NewConfigError("ServerURL", "", "cannot be empty")
	}

	u, err := url.Parse(cfg.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return NewConfigError("ServerURL", cfg.ServerURL, "invalid URL format")
	}

	if cfg.RoomName == "" {
		return NewConfigError("RoomName", "", "cannot be empty")
	}

	if cfg.Identity == "" {
		return NewConfigError("Identity", "", "cannot be empty")
	}

	if cfg.Credential == nil {
		return NewConfigError("Credential", "", "cannot be nil")
	}

	if cfg.DialTimeout < 0 {
		return NewConfigError("DialTimeout", cfg.DialTimeout.String(), "cannot be negative")
	}

	if cfg.RPCTimeout < 0 {
		return NewConfigError("RPCTimeout", cfg.RPCTimeout.String(), "cannot be negative")
	}

	return nil
}
