package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a mock audio source for testing.
// Frames are either pushed by the test with Push, or generated on a ticker
// (silence or sine wave) when WithSineWave or WithGenerator is used.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sendMu   sync.RWMutex // held by Push while sending; Stop waits on it before closing streamCh
	running  bool
	closed   bool
	streamCh chan Frame
	stopCh   chan struct{}
	startErr error

	// Stats
	framesRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64

	// Synthetic audio generation
	generate  bool
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave on a ticker.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.generate = true
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithGenerator makes the mock produce silent frames on a ticker.
func WithGenerator() MockSourceOption {
	return func(m *MockSource) {
		m.generate = true
	}
}

// WithStartError makes Start fail, simulating a denied or missing device.
func WithStartError(err error) MockSourceOption {
	return func(m *MockSource) {
		m.startErr = err
	}
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		streamCh:  make(chan Frame, 64),
		stopCh:    make(chan struct{}),
		amplitude: 0.5,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins delivering audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, m.startErr)
	}
	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.streamCh = make(chan Frame, 64)

	if m.generate {
		go m.generateLoop(ctx, m.stopCh)
	}

	m.logger.Info("mock audio source started",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
	)

	return nil
}

// Push delivers samples as one captured frame. It blocks until the frame is
// queued and returns io.ErrClosedPipe if the source is not running.
func (m *MockSource) Push(samples []float32) error {
	m.sendMu.RLock()
	defer m.sendMu.RUnlock()

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return io.ErrClosedPipe
	}
	streamCh, stopCh := m.streamCh, m.stopCh
	m.mu.Unlock()

	frame := Frame{Samples: samples, SampleRate: m.cfg.SampleRate, Channels: m.cfg.Channels}
	select {
	case streamCh <- frame:
		m.framesRead.Add(1)
		m.samplesRead.Add(int64(len(samples)))
		return nil
	case <-stopCh:
		return io.ErrClosedPipe
	}
}

func (m *MockSource) generateLoop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-stopCh:
			return
		case <-ticker.C:
			frame := m.generateFrame()
			m.mu.Lock()
			if !m.running {
				m.mu.Unlock()
				return
			}
			select {
			case m.streamCh <- frame:
				m.framesRead.Add(1)
				m.samplesRead.Add(int64(len(frame.Samples)))
			default:
				// Buffer full, drop frame (overrun)
				m.overruns.Add(1)
				m.logger.Debug("mock source: buffer full, dropping frame")
			}
			m.mu.Unlock()
		}
	}
}

func (m *MockSource) generateFrame() Frame {
	bufferSize := m.cfg.BufferSize()
	samples := make([]float32, bufferSize*m.cfg.Channels)

	if m.frequency > 0 {
		for i := 0; i < bufferSize; i++ {
			sample := float32(m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = sample
			}

			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}

	return Frame{
		Samples:    samples,
		SampleRate: m.cfg.SampleRate,
		Channels:   m.cfg.Channels,
	}
}

// Stop halts audio delivery and closes the stream.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	streamCh := m.streamCh
	m.mu.Unlock()

	m.sendMu.Lock()
	close(streamCh)
	m.sendMu.Unlock()

	m.logger.Info("mock audio source stopped")

	return nil
}

// Stream returns the frame channel.
func (m *MockSource) Stream() <-chan Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCh
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Closed reports whether Close has been called.
func (m *MockSource) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		FramesRead:  m.framesRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    m.overruns.Load(),
		Running:     running,
		Backend:     "mock",
	}
}

// Ensure MockSource implements SourceWithStats.
var _ SourceWithStats = (*MockSource)(nil)

// MockOutput is a mock clocked output for testing.
// Its clock only moves when the test calls SetNow or Advance, and buffers
// finish only when the clock passes their end or Complete is called.
type MockOutput struct {
	mu         sync.Mutex
	now        float64
	sampleRate int
	closed     bool
	voices     []*MockVoice
	scheduled  int64
}

// MockVoice records one Play call on a MockOutput.
type MockVoice struct {
	Frame Frame
	At    float64

	out      *MockOutput
	done     func()
	stopped  bool
	finished bool
}

// NewMockOutput creates a mock output running at sampleRate.
func NewMockOutput(sampleRate int) *MockOutput {
	if sampleRate <= 0 {
		sampleRate = OutputSampleRate
	}
	return &MockOutput{sampleRate: sampleRate}
}

// Now returns the mock clock.
func (m *MockOutput) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// SetNow moves the clock to t without finishing any buffers.
func (m *MockOutput) SetNow(t float64) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d seconds and finishes every buffer
// whose end time has been reached.
func (m *MockOutput) Advance(d float64) {
	m.mu.Lock()
	m.now += d
	var finished []func()
	for _, v := range m.voices {
		if v.stopped || v.finished {
			continue
		}
		if v.At+v.Frame.Duration() <= m.now {
			v.finished = true
			if v.done != nil {
				finished = append(finished, v.done)
			}
		}
	}
	m.mu.Unlock()

	for _, fn := range finished {
		fn()
	}
}

// Complete finishes v immediately as if it had played to the end.
func (m *MockOutput) Complete(v *MockVoice) {
	m.mu.Lock()
	if v.stopped || v.finished {
		m.mu.Unlock()
		return
	}
	v.finished = true
	done := v.done
	m.mu.Unlock()

	if done != nil {
		done()
	}
}

// Play records the buffer.
func (m *MockOutput) Play(frame Frame, at float64, done func()) (Voice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, io.ErrClosedPipe
	}

	v := &MockVoice{Frame: frame, At: at, out: m, done: done}
	m.voices = append(m.voices, v)
	m.scheduled++
	return v, nil
}

// Voices returns every buffer played so far, in Play order.
func (m *MockOutput) Voices() []*MockVoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockVoice, len(m.voices))
	copy(out, m.voices)
	return out
}

// SampleRate returns the configured rate.
func (m *MockOutput) SampleRate() int {
	return m.sampleRate
}

// Name returns "mock".
func (m *MockOutput) Name() string {
	return "mock"
}

// Close marks the output closed; further Play calls fail.
func (m *MockOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Stats returns output statistics.
func (m *MockOutput) Stats() OutputStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var active int64
	for _, v := range m.voices {
		if !v.stopped && !v.finished {
			active++
		}
	}
	return OutputStats{
		Scheduled: m.scheduled,
		Active:    active,
		Backend:   "mock",
	}
}

// Stop silences the buffer.
func (v *MockVoice) Stop() {
	v.out.mu.Lock()
	defer v.out.mu.Unlock()
	if !v.finished {
		v.stopped = true
	}
}

// Stopped reports whether Stop silenced the buffer before it finished.
func (v *MockVoice) Stopped() bool {
	v.out.mu.Lock()
	defer v.out.mu.Unlock()
	return v.stopped
}

// Finished reports whether the buffer played to the end.
func (v *MockVoice) Finished() bool {
	v.out.mu.Lock()
	defer v.out.mu.Unlock()
	return v.finished
}

// Ensure MockOutput implements OutputWithStats.
var _ OutputWithStats = (*MockOutput)(nil)
