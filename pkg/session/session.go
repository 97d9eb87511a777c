// Package session runs a live voice conversation: microphone audio goes to
// the model, model audio goes to the speaker, and model tool calls are
// answered from the CRM.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/voiceops/pkg/audioio"
	"github.com/teslashibe/voiceops/pkg/pcm"
	"github.com/teslashibe/voiceops/pkg/playback"
	"github.com/teslashibe/voiceops/pkg/telemetry"
	"github.com/teslashibe/voiceops/pkg/tools"
	"github.com/teslashibe/voiceops/pkg/voice"
)

// Config holds per-session audio and model settings.
type Config struct {
	Model            string
	InputSampleRate  int // Mic rate sent to the model (default: 16000)
	OutputSampleRate int // Rate of model audio (default: 24000)
}

// Deps are the collaborators a session drives. All are required.
type Deps struct {
	Dialer voice.Dialer
	Mic    MicOpener
	Player *playback.Scheduler
	Tools  *tools.Dispatcher
}

// StartOptions configure one conversation.
type StartOptions struct {
	SystemInstruction string
	VoiceID           string

	// Tools defaults to every tool the dispatcher knows.
	Tools []tools.Schema
}

// ToolCallRecord is reported to OnToolCall after each dispatch.
type ToolCallRecord struct {
	SessionID string         `json:"session_id"`
	Call      voice.ToolCall `json:"call"`
	Result    tools.Result   `json:"result"`
	Duration  time.Duration  `json:"duration"`
}

// Session is the live voice session state machine:
// idle -> connecting -> active -> closing -> idle, with error reachable
// from connecting and active. At most one conversation runs at a time.
type Session struct {
	deps    Deps
	cfg     Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	latency *voice.MetricsCollector

	mu         sync.Mutex
	phase      Phase
	gen        uint64
	id         string
	startedAt  time.Time
	mic        Microphone
	transport  voice.Transport
	cancel     context.CancelFunc
	pending    map[string]struct{}
	transcript []TranscriptEvent
	seq        int
	lastErr    error
	idle       chan struct{} // closed when the running teardown reaches idle

	// handleMu serializes inbound message handling with teardown so no
	// audio is scheduled after StopAll.
	handleMu sync.Mutex

	obsMu        sync.RWMutex
	onPhase      func(Phase)
	onTranscript func(TranscriptEvent)
	onToolCall   func(ToolCallRecord)
	onError      func(error)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records session telemetry.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// New creates an idle session.
func New(deps Deps, cfg Config, opts ...Option) (*Session, error) {
	if deps.Dialer == nil || deps.Mic == nil || deps.Player == nil || deps.Tools == nil {
		return nil, errors.New("session: dialer, mic, player and tools are required")
	}
	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = audioio.InputSampleRate
	}
	if cfg.OutputSampleRate <= 0 {
		cfg.OutputSampleRate = audioio.OutputSampleRate
	}

	s := &Session{
		deps:    deps,
		cfg:     cfg,
		logger:  slog.Default(),
		latency: voice.NewMetricsCollector(),
		pending: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")
	return s, nil
}

// OnPhase registers a callback for phase transitions.
func (s *Session) OnPhase(fn func(Phase)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.onPhase = fn
}

// OnTranscript registers a callback for transcript updates.
// Callbacks run on the message loop and must not call End.
func (s *Session) OnTranscript(fn func(TranscriptEvent)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.onTranscript = fn
}

// OnToolCall registers a callback invoked after each tool dispatch.
// Callbacks run on the message loop and must not call End.
func (s *Session) OnToolCall(fn func(ToolCallRecord)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.onToolCall = fn
}

// OnError registers a callback for session-ending errors.
func (s *Session) OnError(fn func(error)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.onError = fn
}

// Start opens the microphone, dials the model and returns once the session
// is active. ctx bounds only the start itself; there is no built-in timeout.
func (s *Session) Start(ctx context.Context, opts StartOptions) error {
	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		cancel()
		return ErrAlreadyStarted
	}
	s.gen++
	gen := s.gen
	s.id = uuid.NewString()
	s.startedAt = time.Now()
	s.cancel = cancel
	s.lastErr = nil
	id := s.id
	s.setPhaseLocked(PhaseConnecting)
	s.mu.Unlock()
	s.notifyPhase(PhaseConnecting)

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	log := s.logger.With("session_id", id)
	log.Info("session starting", "voice", opts.VoiceID)

	mic, err := s.deps.Mic(runCtx)
	if err != nil {
		if !s.current(gen) {
			return ErrSessionClosed
		}
		err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		log.Error("microphone unavailable", "error", err)
		// Device failures are not session failures: straight back to idle.
		s.teardown(gen, nil, "device_error")
		return err
	}

	s.mu.Lock()
	if s.gen != gen || s.phase != PhaseConnecting {
		s.mu.Unlock()
		_ = mic.Close()
		return ErrSessionClosed
	}
	s.mic = mic
	s.mu.Unlock()

	toolSchemas := opts.Tools
	if toolSchemas == nil {
		toolSchemas = s.deps.Tools.Schemas()
	}

	transport, err := s.deps.Dialer.Dial(runCtx, voice.SessionConfig{
		Model:             s.cfg.Model,
		SystemInstruction: opts.SystemInstruction,
		VoiceID:           opts.VoiceID,
		Tools:             toolSchemas,
		InputSampleRate:   s.cfg.InputSampleRate,
		OutputSampleRate:  s.cfg.OutputSampleRate,
	})
	if err != nil {
		if !s.current(gen) {
			return ErrSessionClosed
		}
		if ctx.Err() != nil {
			s.teardown(gen, nil, "canceled")
			return ctx.Err()
		}
		terr := &TransportError{Reason: "connect", Cause: err}
		s.fail(gen, terr)
		return terr
	}

	// Detach from the caller's ctx before going active. If it already fired,
	// runCtx is cancelled and the loops would exit at once.
	if !stop() {
		_ = transport.Close()
		if !s.current(gen) {
			return ErrSessionClosed
		}
		s.teardown(gen, nil, "canceled")
		return ctx.Err()
	}

	s.mu.Lock()
	if s.gen != gen || s.phase != PhaseConnecting {
		s.mu.Unlock()
		_ = transport.Close()
		return ErrSessionClosed
	}
	s.transport = transport
	s.setPhaseLocked(PhaseActive)
	s.mu.Unlock()
	s.notifyPhase(PhaseActive)

	s.latency.Reset()
	drain(mic.Frames())
	go s.pumpMic(runCtx, gen, mic, transport)
	go s.readLoop(runCtx, gen, transport)

	log.Info("session active", "tools", len(toolSchemas))
	return nil
}

// drain discards mic frames captured while connecting.
func drain(frames <-chan []byte) {
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// End stops the conversation and returns to idle. It is a no-op when idle.
// If a teardown is already running, End waits for it to finish. Observers
// must not call End.
func (s *Session) End() error {
	s.mu.Lock()
	phase, gen, idle := s.phase, s.gen, s.idle
	s.mu.Unlock()
	switch phase {
	case PhaseIdle:
		return nil
	case PhaseClosing:
		<-idle
		return nil
	}

	s.teardown(gen, nil, "ok")

	// A concurrent failure may have won the teardown.
	s.mu.Lock()
	phase, idle = s.phase, s.idle
	s.mu.Unlock()
	if phase == PhaseClosing && idle != nil {
		<-idle
	}
	return nil
}

// fail moves to error, reports err and tears the session down.
func (s *Session) fail(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen || (s.phase != PhaseConnecting && s.phase != PhaseActive) {
		s.mu.Unlock()
		return
	}
	s.lastErr = err
	id := s.id
	s.setPhaseLocked(PhaseError)
	s.mu.Unlock()

	s.logger.Error("session failed", "session_id", id, "error", err)
	s.notifyPhase(PhaseError)
	var te *TransportError
	if errors.As(err, &te) {
		s.metrics.RecordTransportError(te.Reason)
	}
	s.obsMu.RLock()
	onError := s.onError
	s.obsMu.RUnlock()
	if onError != nil {
		onError(err)
	}

	s.teardown(gen, err, "error")
}

// teardown releases everything owned by generation gen. Close failures are
// logged and swallowed.
func (s *Session) teardown(gen uint64, cause error, status string) {
	s.mu.Lock()
	if s.gen != gen || s.phase == PhaseIdle || s.phase == PhaseClosing {
		s.mu.Unlock()
		return
	}
	// Invalidate in-flight loops for this generation.
	s.gen++
	idle := make(chan struct{})
	s.idle = idle
	id := s.id
	started := s.startedAt
	mic, transport, cancel := s.mic, s.transport, s.cancel
	s.mic, s.transport, s.cancel = nil, nil, nil
	s.setPhaseLocked(PhaseClosing)
	s.mu.Unlock()
	s.notifyPhase(PhaseClosing)

	if cancel != nil {
		cancel()
	}
	if mic != nil {
		if err := mic.Close(); err != nil {
			s.logger.Debug("mic close failed", "session_id", id, "error", err)
		}
	}
	if transport != nil {
		if err := transport.Close(); err != nil {
			s.logger.Debug("transport close failed", "session_id", id, "error", err)
		}
	}

	s.handleMu.Lock()
	s.deps.Player.StopAll()
	s.handleMu.Unlock()

	s.mu.Lock()
	s.pending = make(map[string]struct{})
	s.transcript = nil
	s.seq = 0
	s.id = ""
	s.startedAt = time.Time{}
	s.setPhaseLocked(PhaseIdle)
	s.idle = nil
	s.mu.Unlock()
	s.notifyPhase(PhaseIdle)
	close(idle)

	dur := time.Since(started)
	s.metrics.RecordSessionEnd(status, dur)
	s.logger.Info("session ended", "session_id", id, "status", status,
		"duration", dur.Round(time.Millisecond), "cause", cause)
}

// PauseMic hard-mutes the microphone without closing it.
func (s *Session) PauseMic() error {
	s.mu.Lock()
	mic := s.mic
	s.mu.Unlock()
	if mic == nil {
		return ErrNotActive
	}
	mic.Pause()
	return nil
}

// ResumeMic undoes PauseMic.
func (s *Session) ResumeMic() error {
	s.mu.Lock()
	mic := s.mic
	s.mu.Unlock()
	if mic == nil {
		return ErrNotActive
	}
	mic.Resume()
	return nil
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// ID returns the current session id, or "" when idle.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		ID:                  s.id,
		Phase:               s.phase,
		StartedAt:           s.startedAt,
		PlaybackClockOffset: s.deps.Player.NextStart(),
		PendingToolCalls:    make([]string, 0, len(s.pending)),
	}
	if s.mic != nil {
		st.MicPaused = s.mic.Paused()
	}
	for id := range s.pending {
		st.PendingToolCalls = append(st.PendingToolCalls, id)
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Err returns the error that ended the most recent session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Transcript returns every retained transcript event of the running session.
func (s *Session) Transcript() []TranscriptEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TranscriptEvent, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// TranscriptView returns the transcript as display lines.
func (s *Session) TranscriptView() []TranscriptLine {
	return View(s.Transcript())
}

// Latency returns the average turn latency seen so far.
func (s *Session) Latency() voice.Metrics {
	return s.latency.Average()
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

// setPhaseLocked must be called with s.mu held.
func (s *Session) setPhaseLocked(p Phase) {
	s.phase = p
	s.metrics.SetPhase(int(p))
}

func (s *Session) notifyPhase(p Phase) {
	s.obsMu.RLock()
	fn := s.onPhase
	s.obsMu.RUnlock()
	if fn != nil {
		fn(p)
	}
}

// pumpMic forwards captured frames to the model in capture order.
func (s *Session) pumpMic(ctx context.Context, gen uint64, mic Microphone, t voice.Transport) {
	frames := mic.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				if ctx.Err() == nil {
					s.fail(gen, fmt.Errorf("%w: capture stopped", ErrDeviceUnavailable))
				}
				return
			}
			if err := t.SendAudio(ctx, frame); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.fail(gen, &TransportError{Reason: "send audio", Cause: err})
				return
			}
			s.latency.IncrementAudioIn()
		}
	}
}

// readLoop handles inbound messages until the transport closes.
func (s *Session) readLoop(ctx context.Context, gen uint64, t voice.Transport) {
	for msg := range t.Messages() {
		s.handle(ctx, gen, t, msg)
	}
	if ctx.Err() != nil {
		return
	}
	err := t.Err()
	if err == nil {
		err = voice.ErrConnectionClosed
	}
	s.fail(gen, &TransportError{Reason: "connection lost", Cause: err})
}

func (s *Session) handle(ctx context.Context, gen uint64, t voice.Transport, msg voice.Message) {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	if !s.current(gen) {
		return
	}

	for _, d := range msg.Transcripts {
		s.appendTranscript(d)
	}

	if len(msg.ToolCallCancellations) > 0 {
		s.mu.Lock()
		for _, id := range msg.ToolCallCancellations {
			delete(s.pending, id)
		}
		s.mu.Unlock()
		s.logger.Debug("tool calls cancelled", "ids", msg.ToolCallCancellations)
	}

	if len(msg.ToolCalls) > 0 {
		s.runTools(ctx, gen, t, msg.ToolCalls)
	}

	if msg.DecodeErrors > 0 {
		s.metrics.RecordDecodeError("session", msg.DecodeErrors)
		s.logger.Warn("dropped undecodable audio", "count", msg.DecodeErrors)
	}

	if msg.Interrupted {
		s.deps.Player.StopAll()
		s.logger.Debug("model interrupted, playback flushed")
	}

	for _, chunk := range msg.Audio {
		s.playAudio(chunk)
	}

	if msg.TurnComplete {
		s.latency.MarkResponseDone()
	}
}

func (s *Session) appendTranscript(d voice.TranscriptDelta) {
	s.mu.Lock()
	s.seq++
	ev := TranscriptEvent{Seq: s.seq, Role: d.Role, Text: d.Text, Final: d.Final, At: time.Now()}
	s.transcript = append(s.transcript, ev)
	s.mu.Unlock()

	if d.Role == voice.RoleUser {
		s.latency.MarkSpeechEnd()
	}

	s.obsMu.RLock()
	fn := s.onTranscript
	s.obsMu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (s *Session) playAudio(chunk []byte) {
	first := s.latency.Current().FirstAudioTime.IsZero()
	s.latency.MarkFirstAudio()
	if first {
		if lat := s.latency.Current().FirstAudio; lat > 0 {
			s.metrics.RecordFirstAudio(lat)
		}
	}

	frame := audioio.NewMonoFrame(pcm.PCMToFloat(chunk), s.cfg.OutputSampleRate)
	if _, err := s.deps.Player.Schedule(frame); err != nil {
		s.logger.Warn("failed to schedule model audio", "error", err)
	}
}

// runTools dispatches a whole batch and answers it with one response.
func (s *Session) runTools(ctx context.Context, gen uint64, t voice.Transport, calls []voice.ToolCall) {
	s.mu.Lock()
	id := s.id
	for _, c := range calls {
		s.pending[c.ID] = struct{}{}
	}
	s.mu.Unlock()

	s.obsMu.RLock()
	onToolCall := s.onToolCall
	s.obsMu.RUnlock()

	results := make([]voice.ToolResult, 0, len(calls))
	for _, c := range calls {
		start := time.Now()
		res := s.deps.Tools.Dispatch(c.Name, c.Args)
		results = append(results, voice.ToolResult{CallID: c.ID, Name: c.Name, Result: res})

		s.logger.Info("tool call", "session_id", id, "tool", c.Name, "call_id", c.ID, "ok", res.OK)
		if onToolCall != nil {
			onToolCall(ToolCallRecord{SessionID: id, Call: c, Result: res, Duration: time.Since(start)})
		}
	}
	s.latency.IncrementToolCalls(len(calls))

	err := t.SendToolResponse(ctx, results)

	s.mu.Lock()
	for _, c := range calls {
		delete(s.pending, c.ID)
	}
	s.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		// fail tears down under handleMu, which this goroutine holds.
		go s.fail(gen, &TransportError{Reason: "send tool response", Cause: err})
	}
}
