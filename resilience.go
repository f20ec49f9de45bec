package agentroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// RetryConfig configures retry behavior for failed operations.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	// Set to 0 to disable retries.
	MaxRetries int

	// BaseDelay is the initial delay between retries.
	// Default: 1 second
	BaseDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	// Default: 30 seconds
	MaxDelay time.Duration

	// Multiplier is used for exponential backoff.
	// Each retry delay is multiplied by this factor.
	// Default: 2.0
	Multiplier float64

	// Jitter adds randomness to retry delays to avoid thundering herd.
	// Value between 0.0 and 1.0. Default: 0.1 (10% jitter)
	Jitter float64

	// RetryableErrors is a function that determines if an error should
	// trigger a retry. If nil, all errors are considered retryable.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns a sensible default retry configuration.
// Configuration and permission errors never retry; connection and send
// failures do. RPC timeouts are not retried by default because the agent
// may still be acting on the original request.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
		RetryableErrors: func(err error) bool {
			var configErr *ConfigError
			if errors.As(err, &configErr) {
				return false
			}
			if errors.Is(err, ErrPermissionDenied) {
				return false
			}
			var rpcErr *RPCError
			if errors.As(err, &rpcErr) {
				return false
			}
			var connErr *ConnectionError
			var sendErr *SendError
			return errors.As(err, &connErr) || errors.As(err, &sendErr)
		},
	}
}

// RetryableOperation represents an operation that can be retried.
type RetryableOperation func() error

// WithRetry executes an operation with retry logic based on the provided configuration.
func WithRetry(ctx context.Context, config RetryConfig, op RetryableOperation) error {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			return nil // Success
		}

		lastErr = err

		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			return fmt.Errorf("non-retryable error: %w", err)
		}

		// Don't delay after the last attempt
		if attempt == config.MaxRetries {
			break
		}

		delay := calculateDelay(attempt, config)

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
			// Continue to next retry
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries+1, lastErr)
}

// calculateDelay computes the delay for a retry attempt with exponential backoff and jitter.
func calculateDelay(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))

	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter > 0 {
		jitterAmount := delay * config.Jitter
		delay += (2.0 * jitterAmount) - jitterAmount // Simplified: just add max jitter for deterministic behavior
	}

	return time.Duration(delay)
}

// RetryableClient wraps a client so that transient signaling failures are
// retried automatically. RPCs are not wrapped: the single-timeout contract
// of PerformRPC stays intact (re-invoking an agent method is not known to
// be idempotent).
type RetryableClient struct {
	client *Client
	config RetryConfig
}

// NewRetryableClient wraps a client with retry functionality.
func NewRetryableClient(client *Client, config RetryConfig) *RetryableClient {
	return &RetryableClient{
		client: client,
		config: config,
	}
}

// UpdateAttributes attempts an attribute update with retry logic.
func (r *RetryableClient) UpdateAttributes(ctx context.Context, attrs map[string]string) error {
	return WithRetry(ctx, r.config, func() error {
		return r.client.UpdateAttributes(ctx, attrs)
	})
}

// SendChat attempts to send a chat message with retry logic.
func (r *RetryableClient) SendChat(ctx context.Context, message string) error {
	return WithRetry(ctx, r.config, func() error {
		return r.client.SendChat(ctx, message)
	})
}

// SetTrackMuted attempts a mute state change with retry logic.
func (r *RetryableClient) SetTrackMuted(ctx context.Context, pub *LocalTrackPublication, muted bool) error {
	return WithRetry(ctx, r.config, func() error {
		return r.client.SetTrackMuted(ctx, pub, muted)
	})
}

// PerformRPC delegates to the underlying client without retry.
func (r *RetryableClient) PerformRPC(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	return r.client.PerformRPC(ctx, method, payload)
}

// Delegate methods that don't need retry logic
func (r *RetryableClient) Close() error                                 { return r.client.Close() }
func (r *RetryableClient) Leave(ctx context.Context) error              { return r.client.Leave(ctx) }
func (r *RetryableClient) OnError(fn func(ErrorEvent))                  { r.client.OnError(fn) }
func (r *RetryableClient) OnRoomJoined(fn func(RoomJoined))             { r.client.OnRoomJoined(fn) }
func (r *RetryableClient) OnParticipantJoined(fn func(ParticipantJoined)) {
	r.client.OnParticipantJoined(fn)
}
func (r *RetryableClient) OnParticipantLeft(fn func(ParticipantLeft)) { r.client.OnParticipantLeft(fn) }
func (r *RetryableClient) OnTranscriptionReceived(fn func(TranscriptionReceived)) {
	r.client.OnTranscriptionReceived(fn)
}
func (r *RetryableClient) OnAgentStateChanged(fn func(AgentStateChanged)) {
	r.client.OnAgentStateChanged(fn)
}
func (r *RetryableClient) OnDisconnected(fn func(Disconnected)) { r.client.OnDisconnected(fn) }

// DialWithRetry creates a new client with automatic retry on connection failure.
func DialWithRetry(ctx context.Context, cfg Config, retryConfig RetryConfig) (*Client, error) {
	var client *Client
	err := WithRetry(ctx, retryConfig, func() error {
		var err error
		client, err = Dial(ctx, cfg)
		return err
	})
	return client, err
}

// DialResilient creates a new client with built-in retry features.
// This is a convenience function that combines Dial with retry logic.
func DialResilient(ctx context.Context, cfg Config) (*RetryableClient, error) {
	retryConfig := DefaultRetryConfig()

	client, err := DialWithRetry(ctx, cfg, retryConfig)
	if err != nil {
		return nil, err
	}

	return NewRetryableClient(client, retryConfig), nil
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures that triggers the circuit breaker.
	FailureThreshold int

	// RecoveryTimeout is how long to wait before attempting to recover.
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of successes needed to close the circuit.
	SuccessThreshold int
}

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState int

const (
	CircuitClosed CircuitBreakerState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker implements the circuit breaker pattern to prevent
// hammering a session server that is refusing joins.
type CircuitBreaker struct {
	config          CircuitBreakerConfig
	state           CircuitBreakerState
	failures        int
	successes       int
	lastFailureTime time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
	}
}

// Execute runs an operation through the circuit breaker.
func (cb *CircuitBreaker) Execute(op func() error) error {
	if !cb.shouldAllow() {
		return fmt.Errorf("circuit breaker is open")
	}

	err := op()

	if err != nil {
		cb.onFailure()
		return err
	}

	cb.onSuccess()
	return nil
}

// shouldAllow determines if an operation should be allowed based on circuit breaker state.
func (cb *CircuitBreaker) shouldAllow() bool {
	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.RecoveryTimeout {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	case CircuitHalfOpen:
		return true
	default:
		return false
	}
}

// onFailure handles a failed operation.
func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.successes = 0
	cb.lastFailureTime = time.Now()

	if cb.failures >= cb.config.FailureThreshold {
		cb.state = CircuitOpen
	}
}

// onSuccess handles a successful operation.
func (cb *CircuitBreaker) onSuccess() {
	cb.successes++
	cb.failures = 0

	if cb.state == CircuitHalfOpen && cb.successes >= cb.config.SuccessThreshold {
		cb.state = CircuitClosed
	}
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	return cb.state
}
