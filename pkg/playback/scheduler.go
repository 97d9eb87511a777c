// Package playback schedules decoded audio buffers back-to-back on an output clock.
package playback

import (
	"log/slog"
	"sync"

	"github.com/teslashibe/voiceops/pkg/audioio"
	"github.com/teslashibe/voiceops/pkg/telemetry"
)

// Scheduler places buffers on an audioio.Output timeline in enqueue order.
// Each buffer starts exactly where the previous one ends, unless the clock has
// already passed that point, in which case it starts at the current clock.
type Scheduler struct {
	out     audioio.Output
	logger  *slog.Logger
	metrics *telemetry.Metrics
	source  string

	mu        sync.Mutex
	nextStart float64
	inFlight  map[uint64]audioio.Voice
	seq       uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records scheduling under the given source label.
func WithMetrics(m *telemetry.Metrics, source string) Option {
	return func(s *Scheduler) {
		s.metrics = m
		s.source = source
	}
}

// New creates a scheduler on out.
func New(out audioio.Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:      out,
		logger:   slog.Default(),
		source:   "playback",
		inFlight: make(map[uint64]audioio.Voice),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "playback", "source", s.source)
	return s
}

// Enqueue schedules frame relative to clockNow and returns its start time.
// Empty frames are accepted but not scheduled and do not advance the timeline.
func (s *Scheduler) Enqueue(frame audioio.Frame, clockNow float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nextStart < clockNow {
		s.nextStart = clockNow
	}
	start := s.nextStart

	if frame.Empty() {
		return start, nil
	}

	s.seq++
	id := s.seq
	voice, err := s.out.Play(frame, start, func() { s.finish(id) })
	if err != nil {
		return start, err
	}

	s.inFlight[id] = voice
	s.nextStart = start + frame.Duration()
	s.metrics.RecordScheduled(s.source)
	s.metrics.SetInFlight(s.source, len(s.inFlight))
	return start, nil
}

// Schedule enqueues frame against the output's current clock.
func (s *Scheduler) Schedule(frame audioio.Frame) (float64, error) {
	return s.Enqueue(frame, s.out.Now())
}

func (s *Scheduler) finish(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
	s.metrics.SetInFlight(s.source, len(s.inFlight))
}

// StopAll halts every in-flight buffer and resets the timeline to zero.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	voices := make([]audioio.Voice, 0, len(s.inFlight))
	for id, v := range s.inFlight {
		voices = append(voices, v)
		delete(s.inFlight, id)
	}
	s.nextStart = 0
	s.metrics.SetInFlight(s.source, 0)
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	if len(voices) > 0 {
		s.logger.Debug("stopped in-flight audio", "buffers", len(voices))
	}
}

// NextStart returns the clock time at which the next buffer would begin.
func (s *Scheduler) NextStart() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// InFlight returns the number of buffers scheduled and not yet finished.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Output returns the device the scheduler plays on.
func (s *Scheduler) Output() audioio.Output {
	return s.out
}
