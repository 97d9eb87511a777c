// Package capture frames microphone audio into fixed-size PCM16 chunks for
// the model transport.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/voiceops/pkg/audioio"
	"github.com/teslashibe/voiceops/pkg/pcm"
	"github.com/teslashibe/voiceops/pkg/telemetry"
)

// DefaultFrameSize is the number of samples per outbound frame.
const DefaultFrameSize = 4096

// Config holds pipeline configuration.
type Config struct {
	// FrameSize is the number of mono samples per outbound frame.
	FrameSize int

	// SampleRate is the rate frames are delivered at. Device audio at a
	// different rate is resampled.
	SampleRate int

	// QueueSize is how many encoded frames may wait for the consumer
	// before new ones are dropped.
	QueueSize int
}

// DefaultConfig returns 4096-sample frames at 16 kHz.
func DefaultConfig() Config {
	return Config{
		FrameSize:  DefaultFrameSize,
		SampleRate: audioio.InputSampleRate,
		QueueSize:  32,
	}
}

// Stats contains pipeline counters.
type Stats struct {
	FramesSent    int64 `json:"frames_sent"`
	FramesDropped int64 `json:"frames_dropped"`
	Overflows     int64 `json:"overflows"`
	Paused        bool  `json:"paused"`
}

// Pipeline reads device audio, cuts it into fixed-size frames and delivers
// each frame as PCM16LE bytes on Frames. While paused, completed frames are
// discarded instead of queued.
type Pipeline struct {
	src     audioio.Source
	cfg     Config
	logger  *slog.Logger
	metrics *telemetry.Metrics

	frames chan []byte
	paused atomic.Bool

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	sent      atomic.Int64
	dropped   atomic.Int64
	overflows atomic.Int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics records frame outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Open starts src and the framing loop. A source that fails to start is
// reported as audioio.ErrDeviceUnavailable.
func Open(ctx context.Context, src audioio.Source, cfg Config, opts ...Option) (*Pipeline, error) {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audioio.InputSampleRate
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}

	p := &Pipeline{
		src:    src,
		cfg:    cfg,
		logger: slog.Default(),
		frames: make(chan []byte, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "capture", "backend", src.Name())

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	if err := src.Start(loopCtx); err != nil {
		cancel()
		_ = src.Close()
		if IsDeviceError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", audioio.ErrDeviceUnavailable, err)
	}

	go p.run(loopCtx, src.Stream())

	p.logger.Info("capture pipeline opened",
		"frame_size", cfg.FrameSize,
		"sample_rate", cfg.SampleRate,
	)
	return p, nil
}

// OpenDevice creates a source from audioCfg and opens a pipeline on it.
func OpenDevice(ctx context.Context, audioCfg audioio.Config, cfg Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}

	src, err := audioio.NewSource(audioCfg, p.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audioio.ErrDeviceUnavailable, err)
	}
	return Open(ctx, src, cfg, opts...)
}

func (p *Pipeline) run(ctx context.Context, stream <-chan audioio.Frame) {
	defer close(p.done)
	defer close(p.frames)

	acc := make([]float32, 0, p.cfg.FrameSize*2)
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-stream:
			if !ok {
				return
			}
			if frame.SampleRate != p.cfg.SampleRate || frame.Channels > 1 {
				frame = audioio.ResampleFrame(frame, p.cfg.SampleRate)
			}
			acc = append(acc, frame.Samples...)

			for len(acc) >= p.cfg.FrameSize {
				p.emit(acc[:p.cfg.FrameSize])
				acc = append(acc[:0], acc[p.cfg.FrameSize:]...)
			}
		}
	}
}

func (p *Pipeline) emit(samples []float32) {
	if p.paused.Load() {
		p.dropped.Add(1)
		p.metrics.RecordMicFrame("paused")
		return
	}

	select {
	case p.frames <- pcm.FloatToPCM(samples):
		p.sent.Add(1)
		p.metrics.RecordMicFrame("sent")
	default:
		p.overflows.Add(1)
		p.metrics.RecordMicFrame("overflow")
		p.logger.Warn("capture queue full, dropping frame")
	}
}

// Frames returns encoded frames in capture order. The channel is closed when
// the pipeline stops.
func (p *Pipeline) Frames() <-chan []byte {
	return p.frames
}

// Pause discards frames until Resume. The device stays open.
func (p *Pipeline) Pause() {
	if !p.paused.Swap(true) {
		p.logger.Debug("capture paused")
	}
}

// Resume forwards frames again from the next frame boundary.
func (p *Pipeline) Resume() {
	if p.paused.Swap(false) {
		p.logger.Debug("capture resumed")
	}
}

// Paused reports whether frames are being discarded.
func (p *Pipeline) Paused() bool {
	return p.paused.Load()
}

// Stats returns pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		FramesSent:    p.sent.Load(),
		FramesDropped: p.dropped.Load(),
		Overflows:     p.overflows.Load(),
		Paused:        p.paused.Load(),
	}
}

// Close stops the device and the framing loop. It is safe to call more than once.
func (p *Pipeline) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.cancel()
		err = p.src.Close()
		<-p.done
		p.logger.Info("capture pipeline closed",
			"frames_sent", p.sent.Load(),
			"frames_dropped", p.dropped.Load(),
		)
	})
	return err
}

// Closed reports whether Close has been called.
func (p *Pipeline) Closed() bool {
	return p.closed.Load()
}
