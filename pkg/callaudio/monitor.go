package callaudio

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/teslashibe/voiceops/pkg/audioio"
	"github.com/teslashibe/voiceops/pkg/telemetry"
)

// CallStatus describes one monitored call.
type CallStatus struct {
	CallID    string    `json:"call_id"`
	Listening bool      `json:"listening"`
	StartedAt time.Time `json:"started_at"`
	Stats     Stats     `json:"stats"`
	Error     string    `json:"error,omitempty"`
	Hint      string    `json:"hint,omitempty"`
}

// Monitor runs one Listener per call over a shared output device.
type Monitor struct {
	cfg     Config
	out     audioio.Output
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu    sync.Mutex
	calls map[string]*monitored
}

type monitored struct {
	listener   *Listener
	startedAt  time.Time
	connecting bool // Listen has not returned yet
}

// NewMonitor creates a monitor. Options are passed to every Listener.
func NewMonitor(cfg Config, out audioio.Output, opts ...Option) *Monitor {
	probe := &Listener{logger: slog.Default()}
	for _, opt := range opts {
		opt(probe)
	}
	return &Monitor{
		cfg:     cfg,
		out:     out,
		logger:  probe.logger,
		metrics: probe.metrics,
		calls:   make(map[string]*monitored),
	}
}

// Listen starts monitoring callID. A call whose previous listener has
// finished is restarted.
func (m *Monitor) Listen(ctx context.Context, callID string) error {
	m.mu.Lock()
	if c, ok := m.calls[callID]; ok && (c.connecting || c.listener.Active()) {
		m.mu.Unlock()
		return ErrAlreadyListening
	}
	l := NewListener(m.cfg, m.out, WithLogger(m.logger), WithMetrics(m.metrics))
	entry := &monitored{listener: l, startedAt: time.Now(), connecting: true}
	m.calls[callID] = entry
	m.mu.Unlock()

	err := l.Listen(ctx, callID)

	m.mu.Lock()
	entry.connecting = false
	tracked := m.calls[callID] == entry
	if err != nil && tracked {
		delete(m.calls, callID)
	}
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if !tracked {
		// Stopped before the listener could be reached.
		l.Stop()
		return ErrStopped
	}
	return nil
}

// Stop stops monitoring callID and forgets it.
func (m *Monitor) Stop(callID string) error {
	m.mu.Lock()
	c, ok := m.calls[callID]
	delete(m.calls, callID)
	m.mu.Unlock()
	if !ok {
		return ErrNotListening
	}
	if err := c.listener.Stop(); err != nil && !errors.Is(err, ErrNotListening) {
		return err
	}
	return nil
}

// StopAll stops every monitored call.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	calls := m.calls
	m.calls = make(map[string]*monitored)
	m.mu.Unlock()
	for _, c := range calls {
		c.listener.Stop()
	}
}

// Status lists monitored calls, including finished ones with their result.
func (m *Monitor) Status() []CallStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]CallStatus, 0, len(m.calls))
	for id, c := range m.calls {
		st := CallStatus{
			CallID:    id,
			Listening: c.listener.Listening(),
			StartedAt: c.startedAt,
			Stats:     c.listener.Stats(),
		}
		if err := c.listener.Err(); err != nil {
			st.Error = err.Error()
			var ce *CloseError
			if errors.As(err, &ce) {
				st.Hint = ce.Hint
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
