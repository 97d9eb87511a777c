package audioio

import "io"

// Output is a clocked playback device. Buffers are placed on the device
// timeline at an absolute time; the device clock decides when they sound.
type Output interface {
	// Now returns the current position of the output clock in seconds.
	Now() float64

	// Play schedules frame to start at the given clock time. done is invoked
	// once when the buffer finishes playing naturally; it is never invoked
	// from within Play itself, and it is not invoked after Stop.
	Play(frame Frame, at float64, done func()) (Voice, error)

	// SampleRate returns the device sample rate.
	SampleRate() int

	// Name returns the backend name (e.g., "malgo", "mock").
	Name() string

	io.Closer
}

// Voice is one scheduled buffer on an Output.
type Voice interface {
	// Stop silences the buffer immediately. Stopping a finished buffer is a no-op.
	Stop()
}

// OutputStats contains statistics about an output device.
type OutputStats struct {
	// Scheduled is the total number of buffers accepted by Play.
	Scheduled int64 `json:"scheduled"`

	// Active is the number of buffers scheduled but not yet finished.
	Active int64 `json:"active"`

	// Underruns counts device periods rendered with no scheduled audio
	// while buffers were still pending.
	Underruns int64 `json:"underruns"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// OutputWithStats extends Output with statistics.
type OutputWithStats interface {
	Output
	Stats() OutputStats
}
