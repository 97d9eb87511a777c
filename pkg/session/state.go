package session

import "time"

// Phase is the lifecycle position of a Session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseActive
	PhaseClosing
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseActive:
		return "active"
	case PhaseClosing:
		return "closing"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is a point-in-time view of a session.
type State struct {
	ID        string    `json:"id,omitempty"`
	Phase     Phase     `json:"phase"`
	StartedAt time.Time `json:"started_at,omitempty"`

	// PlaybackClockOffset is the output-clock time the next model buffer starts at.
	PlaybackClockOffset float64 `json:"playback_clock_offset"`

	MicPaused        bool     `json:"mic_paused"`
	PendingToolCalls []string `json:"pending_tool_calls"`

	// LastError is the reason the previous session failed, if it did.
	LastError string `json:"last_error,omitempty"`
}
