package voice

import (
	"errors"
	"fmt"
)

// Sentinel errors for the voice package.
var (
	// ErrNotConnected indicates the transport is not open.
	ErrNotConnected = errors.New("voice: not connected")

	// ErrConnectionClosed indicates the connection was closed by the remote side.
	ErrConnectionClosed = errors.New("voice: connection closed")

	// ErrMissingAPIKey indicates the API key was not provided.
	ErrMissingAPIKey = errors.New("voice: API key is required")

	// ErrProviderNotSupported indicates no dialer is registered for the provider.
	ErrProviderNotSupported = errors.New("voice: provider not supported")

	// ErrSetupFailed indicates the remote side rejected or never acknowledged setup.
	ErrSetupFailed = errors.New("voice: session setup failed")
)

// ConnectionError represents a WebSocket connection error.
type ConnectionError struct {
	// Reason describes why the connection failed.
	Reason string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if reconnection should be attempted.
	Retryable bool
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("voice: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("voice: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if reconnection should be attempted.
func (e *ConnectionError) IsRetryable() bool {
	return e.Retryable
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(reason string, cause error, retryable bool) *ConnectionError {
	return &ConnectionError{
		Reason:    reason,
		Cause:     cause,
		Retryable: retryable,
	}
}

// IsNotConnected returns true if the error indicates no connection.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrConnectionClosed)
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.IsRetryable()
	}
	return false
}
