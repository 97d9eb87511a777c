// Package callaudio listens to the audio of an existing phone call and plays
// it through its own playback scheduler.
package callaudio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/voiceops/pkg/audioio"
	"github.com/teslashibe/voiceops/pkg/pcm"
	"github.com/teslashibe/voiceops/pkg/playback"
	"github.com/teslashibe/voiceops/pkg/telemetry"
)

// Config configures call-audio listening.
type Config struct {
	// BaseURL is the monitoring endpoint. A "{call_id}" placeholder is
	// replaced with the call id, otherwise the id is appended as a path segment.
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// SampleRate of the call feed (default: 16000).
	SampleRate int

	// HandshakeTimeout bounds the websocket handshake (default: 10s).
	HandshakeTimeout time.Duration
}

// URL returns the socket URL for callID.
func (c Config) URL(callID string) (string, error) {
	if callID == "" {
		return "", ErrMissingCallID
	}
	if c.BaseURL == "" {
		return "", fmt.Errorf("callaudio: base url is required")
	}
	escaped := url.PathEscape(callID)
	if strings.Contains(c.BaseURL, "{call_id}") {
		return strings.ReplaceAll(c.BaseURL, "{call_id}", escaped), nil
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("callaudio: invalid base url: %w", err)
	}
	return u.JoinPath(escaped).String(), nil
}

// frame is a JSON text frame from the call service.
type frame struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

// Stats counts what one listener has received.
type Stats struct {
	FramesPlayed  int64 `json:"frames_played"`
	FramesDropped int64 `json:"frames_dropped"`
	BytesReceived int64 `json:"bytes_received"`
}

// Listener plays one call at a time. Retries are left to the caller.
type Listener struct {
	cfg     Config
	player  *playback.Scheduler
	dialer  *websocket.Dialer
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu         sync.Mutex
	active     bool // dialing or connected
	cancelDial context.CancelFunc
	dialing    chan struct{} // closed when the current dial resolves
	ws         *websocket.Conn
	callID     string
	startedAt  time.Time
	stopping   bool
	done       chan struct{}
	err        error

	played  atomic.Int64
	dropped atomic.Int64
	bytes   atomic.Int64
}

// Option configures a Listener.
type Option func(*Listener)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ln *Listener) {
		if l != nil {
			ln.logger = l
		}
	}
}

// WithMetrics records listener telemetry.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(ln *Listener) { ln.metrics = m }
}

// NewListener creates a listener that schedules call audio on out.
func NewListener(cfg Config, out audioio.Output, opts ...Option) *Listener {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audioio.InputSampleRate
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	l := &Listener{
		cfg:    cfg,
		logger: slog.Default(),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "callaudio")
	l.player = playback.New(out, playback.WithLogger(l.logger), playback.WithMetrics(l.metrics, "call"))
	return l
}

// Listen connects to callID and starts playing its audio in the background.
// It returns once the socket is open.
func (l *Listener) Listen(ctx context.Context, callID string) error {
	endpoint, err := l.cfg.URL(callID)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	if l.active {
		l.mu.Unlock()
		return ErrAlreadyListening
	}
	dialing := make(chan struct{})
	defer close(dialing)
	l.active = true
	l.stopping = false
	l.cancelDial = cancel
	l.dialing = dialing
	l.mu.Unlock()

	header := http.Header{}
	if l.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+l.cfg.Token)
	}

	ws, resp, err := l.dialer.DialContext(dialCtx, endpoint, header)

	l.mu.Lock()
	l.cancelDial = nil
	if l.stopping {
		l.active = false
		l.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		l.metrics.RecordCallListener("stopped")
		return ErrStopped
	}
	if err != nil {
		l.active = false
		l.mu.Unlock()
		l.metrics.RecordCallListener("dial_failed")
		if resp != nil {
			return fmt.Errorf("callaudio: dial %s: %s: %w", callID, resp.Status, err)
		}
		return fmt.Errorf("callaudio: dial %s: %w", callID, err)
	}

	done := make(chan struct{})
	l.ws = ws
	l.callID = callID
	l.startedAt = time.Now()
	l.done = done
	l.err = nil
	l.played.Store(0)
	l.dropped.Store(0)
	l.bytes.Store(0)
	l.mu.Unlock()

	l.logger.Info("listening to call", "call_id", callID)
	go l.readLoop(ws, callID, done)
	return nil
}

// Run listens to callID until the call ends, ctx is cancelled, or the
// socket fails. A clean close returns nil.
func (l *Listener) Run(ctx context.Context, callID string) error {
	if err := l.Listen(ctx, callID); err != nil {
		return err
	}
	done := l.Done()
	select {
	case <-done:
	case <-ctx.Done():
		l.Stop()
		<-done
	}
	return l.Err()
}

// Done is closed when the current call stops. It is nil before Listen.
func (l *Listener) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Err returns why the last call stopped; nil for a clean or local close.
func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// CallID returns the call being listened to, or "".
func (l *Listener) CallID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ws == nil {
		return ""
	}
	return l.callID
}

// Active reports whether the listener is dialing or attached to a call.
func (l *Listener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Listening reports whether a call is attached.
func (l *Listener) Listening() bool {
	return l.CallID() != ""
}

// Stats returns counters for the current or last call.
func (l *Listener) Stats() Stats {
	return Stats{
		FramesPlayed:  l.played.Load(),
		FramesDropped: l.dropped.Load(),
		BytesReceived: l.bytes.Load(),
	}
}

// Stop closes the socket and halts playback immediately. A dial in progress
// is abandoned; Stop returns once it has resolved.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return ErrNotListening
	}
	ws := l.ws
	done := l.done
	if ws == nil {
		l.stopping = true
		cancel, dialing := l.cancelDial, l.dialing
		l.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		<-dialing
		return nil
	}
	l.stopping = true
	l.mu.Unlock()

	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	ws.Close()
	<-done
	return nil
}

func (l *Listener) readLoop(ws *websocket.Conn, callID string, done chan struct{}) {
	err := l.consume(ws)

	ws.Close()
	l.player.StopAll()

	l.mu.Lock()
	if l.stopping {
		err = nil
	}
	l.err = err
	l.ws = nil
	l.active = false
	l.mu.Unlock()

	l.metrics.RecordCallListener(resultLabel(err))
	if err != nil {
		l.logger.Warn("call audio stopped", "call_id", callID, "error", err)
	} else {
		l.logger.Info("call audio stopped", "call_id", callID, "frames", l.played.Load())
	}
	close(done)
}

// consume reads until the socket ends or the call service reports an error.
func (l *Listener) consume(ws *websocket.Conn) error {
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			return classifyClose(err)
		}
		l.bytes.Add(int64(len(data)))

		switch kind {
		case websocket.BinaryMessage:
			l.play(data)

		case websocket.TextMessage:
			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				l.drop("unparseable text frame", err)
				continue
			}
			if strings.EqualFold(f.Status, "error") {
				msg := f.Message
				if msg == "" {
					msg = "unknown error"
				}
				return &StreamError{Message: msg}
			}
			if f.Data == "" {
				l.logger.Debug("ignoring control frame", "status", f.Status)
				continue
			}
			audio, err := pcm.DecodeBase64(f.Data)
			if err != nil {
				l.drop("bad base64 payload", err)
				continue
			}
			l.play(audio)
		}
	}
}

func (l *Listener) play(data []byte) {
	if len(data) == 0 {
		return
	}
	frame := audioio.NewMonoFrame(pcm.PCMToFloat(data), l.cfg.SampleRate)
	if _, err := l.player.Schedule(frame); err != nil {
		l.drop("schedule failed", err)
		return
	}
	l.played.Add(1)
}

func (l *Listener) drop(reason string, err error) {
	l.dropped.Add(1)
	l.metrics.RecordDecodeError("call", 1)
	l.logger.Debug("dropping call audio frame", "reason", reason, "error", err)
}

// Scheduler exposes the listener's playback scheduler.
func (l *Listener) Scheduler() *playback.Scheduler {
	return l.player
}
