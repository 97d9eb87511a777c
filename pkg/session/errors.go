package session

import (
	"errors"
	"fmt"

	"github.com/teslashibe/voiceops/pkg/audioio"
)

// Sentinel errors for the session package.
var (
	// ErrAlreadyStarted is returned by Start when the session is not idle.
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrDeviceUnavailable indicates the microphone could not be opened.
	ErrDeviceUnavailable = errors.New("session: device unavailable")

	// ErrSessionClosed is returned by Start when End ran while connecting.
	ErrSessionClosed = errors.New("session: closed")

	// ErrNotActive is returned by mic controls when no session is running.
	ErrNotActive = errors.New("session: not active")
)

// TransportError is a failure of the model connection. It always ends the session.
type TransportError struct {
	Reason string
	Cause  error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("session: transport error: %s: %v", e.Reason, e.Cause)
	}
	return "session: transport error: " + e.Reason
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// IsDeviceError reports whether err came from the capture device.
func IsDeviceError(err error) bool {
	return errors.Is(err, ErrDeviceUnavailable) || errors.Is(err, audioio.ErrDeviceUnavailable)
}

// IsTransportError reports whether err is a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
