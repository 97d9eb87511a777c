package callaudio

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

var (
	// ErrAlreadyListening is returned when a listener is already attached.
	ErrAlreadyListening = errors.New("callaudio: already listening")

	// ErrNotListening is returned when stopping a call nobody listens to.
	ErrNotListening = errors.New("callaudio: not listening")

	// ErrStopped is returned by Listen when Stop abandons the dial.
	ErrStopped = errors.New("callaudio: stopped while connecting")

	// ErrMissingCallID is returned for an empty call id.
	ErrMissingCallID = errors.New("callaudio: call id is required")
)

// invalidCallHint is attached to abnormal closures, which the call service
// produces when it drops an unknown or expired call.
const invalidCallHint = "call id may be invalid or the session expired"

// CloseError is a non-clean close of the call-audio socket.
type CloseError struct {
	Code int
	Text string

	// Hint is a user-facing suggestion, set for abnormal closures.
	Hint string
}

func (e *CloseError) Error() string {
	msg := fmt.Sprintf("callaudio: connection closed (code %d)", e.Code)
	if e.Text != "" {
		msg += ": " + e.Text
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// StreamError is an error the call service reported in-band.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "callaudio: stream error: " + e.Message
}

// IsInvalidCall reports whether err is an abnormal closure, the usual sign of
// a bad call id.
func IsInvalidCall(err error) bool {
	var ce *CloseError
	return errors.As(err, &ce) && ce.Code == websocket.CloseAbnormalClosure
}

// classifyClose maps a read error to the listener's result. A clean close is nil.
func classifyClose(err error) error {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return fmt.Errorf("callaudio: read: %w", err)
	}
	switch ce.Code {
	case websocket.CloseNormalClosure:
		return nil
	case websocket.CloseAbnormalClosure:
		return &CloseError{Code: ce.Code, Text: ce.Text, Hint: invalidCallHint}
	default:
		return &CloseError{Code: ce.Code, Text: ce.Text}
	}
}

// resultLabel names err for metrics.
func resultLabel(err error) string {
	var se *StreamError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &se):
		return "stream_error"
	case IsInvalidCall(err):
		return "invalid_call"
	default:
		return "disconnected"
	}
}
