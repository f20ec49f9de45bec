package agentroom

import (
	"net/http"
	"time"
)

// Credential represents an authentication method for joining a session room.
// Implementations must apply the appropriate authentication headers to the
// signaling handshake request.
type Credential interface{ apply(h http.Header) }

// AccessToken implements Credential using a platform participant token,
// typically minted by the agent-gateway connection-details route.
type AccessToken string

// apply adds the participant token to the Authorization header.
func (t AccessToken) apply(h http.Header) {
	if t != "" {
		h.Set("Authorization", "Bearer "+string(t))
	}
}

// Bearer implements Credential using a pre-issued OAuth2 Bearer token.
// Use this when the deployment fronts the signaling endpoint with its own
// identity provider instead of platform participant tokens.
type Bearer string

// apply adds the Bearer token to the Authorization header.
func (b Bearer) apply(h http.Header) {
	if b != "" {
		h.Set("Authorization", "Bearer "+string(b))
	}
}

// DefaultRPCTimeout bounds how long PerformRPC waits for the agent's reply
// when the caller's context carries no sooner deadline.
const DefaultRPCTimeout = 5 * time.Second

// Config holds all configuration options for creating a session client.
// All fields marked as required must be provided for a successful join.
type Config struct {
	// ServerURL is the base URL of the session server.
	// Format: https://{host} (the signaling path is appended automatically).
	// Required: Yes
	ServerURL string

	// RoomName is the name of the session room to join.
	// Required: Yes
	RoomName string

	// Identity uniquely identifies this participant within the room.
	// Required: Yes
	Identity string

	// ParticipantName is the human-readable display name.
	// Required: No (defaults to Identity)
	ParticipantName string

	// Credential provides authentication for the signaling handshake.
	// Use AccessToken for participant tokens or Bearer for IdP tokens.
	// Required: Yes
	Credential Credential

	// DialTimeout sets the maximum time to wait for the signaling
	// connection to be established. If zero, no timeout is applied
	// (not recommended for production).
	// Required: No
	DialTimeout time.Duration

	// RPCTimeout overrides DefaultRPCTimeout for agent RPCs.
	// Required: No
	RPCTimeout time.Duration

	// HandshakeHeaders allows adding custom headers to the signaling
	// handshake request. Useful for proxy authentication or tracing.
	// Required: No
	HandshakeHeaders http.Header

	// Logger is called for significant events and can be used for
	// debugging and monitoring. Events include: signal_connected,
	// bad_event_json, rpc_timeout, and other operational events.
	// Required: No (if nil, no logging occurs)
	Logger func(event string, fields map[string]any)

	// StructuredLogger provides leveled structured logging. If both Logger
	// and StructuredLogger are provided, StructuredLogger takes precedence.
	// Use NewLogger() or NewLoggerFromEnv() to create one.
	// Required: No
	StructuredLogger *Logger
}

// rpcTimeout returns the effective timeout for agent RPCs.
func (c Config) rpcTimeout() time.Duration {
	if c.RPCTimeout > 0 {
		return c.RPCTimeout
	}
	return DefaultRPCTimeout
}
