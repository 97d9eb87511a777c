//go:build cgo

package audioio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

const malgoAvailable = true

// malgoSource captures audio from the default input device via miniaudio.
type malgoSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	mctx     *malgo.AllocatedContext
	device   *malgo.Device
	running  bool
	closed   bool
	streamCh chan Frame

	framesRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newMalgoSource(cfg Config, logger *slog.Logger) (Source, error) {
	if cfg.EchoCancellation || cfg.NoiseSuppression || cfg.AutoGainControl {
		logger.Debug("malgo: input processing is left to the OS audio stack",
			"echo_cancellation", cfg.EchoCancellation,
			"noise_suppression", cfg.NoiseSuppression,
			"auto_gain_control", cfg.AutoGainControl,
		)
	}
	return &malgoSource{cfg: cfg, logger: logger}, nil
}

func (s *malgoSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: source closed", ErrDeviceUnavailable)
	}
	if s.running {
		return nil
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: init context: %v", ErrDeviceUnavailable, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(s.cfg.Channels)
	deviceConfig.SampleRate = uint32(s.cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(s.cfg.BufferDuration.Milliseconds())
	deviceConfig.Alsa.NoMMap = 1

	streamCh := make(chan Frame, 64)
	channels := s.cfg.Channels
	onRecv := func(_, pSample []byte, framecount uint32) {
		if framecount == 0 {
			return
		}
		n := int(framecount) * channels
		samples := make([]float32, n)
		for i := 0; i < n; i++ {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(pSample[i*4:]))
		}
		select {
		case streamCh <- Frame{Samples: samples, SampleRate: s.cfg.SampleRate, Channels: channels}:
			s.framesRead.Add(1)
			s.samplesRead.Add(int64(n))
		default:
			s.overruns.Add(1)
		}
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: init capture device: %v", ErrDeviceUnavailable, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: start capture device: %v", ErrDeviceUnavailable, err)
	}

	s.mctx = mctx
	s.device = device
	s.streamCh = streamCh
	s.running = true

	s.logger.Info("malgo audio source started",
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *malgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if err := s.device.Stop(); err != nil {
		s.logger.Warn("malgo: stop capture device", "error", err)
	}
	s.device.Uninit()
	_ = s.mctx.Uninit()
	s.mctx.Free()
	close(s.streamCh)

	s.logger.Info("malgo audio source stopped")
	return nil
}

func (s *malgoSource) Stream() <-chan Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

func (s *malgoSource) Config() Config { return s.cfg }

func (s *malgoSource) Name() string { return string(BackendMalgo) }

func (s *malgoSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

func (s *malgoSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		FramesRead:  s.framesRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     string(BackendMalgo),
	}
}

// malgoOutput mixes scheduled buffers into a playback device. The clock is
// the number of sample frames the device has consumed.
type malgoOutput struct {
	cfg    Config
	logger *slog.Logger

	mctx   *malgo.AllocatedContext
	device *malgo.Device

	mu        sync.Mutex
	played    int64
	voices    []*malgoVoice
	mix       []float32
	closed    bool
	scheduled int64
	underruns int64
}

type malgoVoice struct {
	out     *malgoOutput
	samples []float32
	start   int64
	done    func()
}

func newMalgoOutput(cfg Config, logger *slog.Logger) (Output, error) {
	o := &malgoOutput{cfg: cfg, logger: logger}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %v", ErrDeviceUnavailable, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(cfg.BufferDuration.Milliseconds())
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: o.render})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: init playback device: %v", ErrDeviceUnavailable, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: start playback device: %v", ErrDeviceUnavailable, err)
	}

	o.mctx = mctx
	o.device = device

	logger.Info("malgo audio output started",
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)
	return o, nil
}

// render is the device data callback.
func (o *malgoOutput) render(pOut, _ []byte, framecount uint32) {
	n := int(framecount)
	channels := o.cfg.Channels

	o.mu.Lock()
	if cap(o.mix) < n {
		o.mix = make([]float32, n)
	}
	mix := o.mix[:n]
	clear(mix)

	base := o.played
	end := base + int64(n)
	var finished []func()
	var sounded bool
	kept := o.voices[:0]
	for _, v := range o.voices {
		vEnd := v.start + int64(len(v.samples))
		if v.start < end && vEnd > base {
			from := max(v.start, base)
			to := min(vEnd, end)
			for abs := from; abs < to; abs++ {
				mix[abs-base] += v.samples[abs-v.start]
			}
			sounded = true
		}
		if vEnd <= end {
			if v.done != nil {
				finished = append(finished, v.done)
			}
			continue
		}
		kept = append(kept, v)
	}
	o.voices = kept
	if !sounded && len(kept) > 0 && kept[0].start < base {
		o.underruns++
	}
	o.played = end
	o.mu.Unlock()

	for i, s := range mix {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		bits := math.Float32bits(s)
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint32(pOut[(i*channels+ch)*4:], bits)
		}
	}

	for _, fn := range finished {
		go fn()
	}
}

func (o *malgoOutput) Now() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return float64(o.played) / float64(o.cfg.SampleRate)
}

func (o *malgoOutput) Play(frame Frame, at float64, done func()) (Voice, error) {
	if frame.SampleRate != o.cfg.SampleRate || frame.Channels != 1 {
		frame = ResampleFrame(frame, o.cfg.SampleRate)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, fmt.Errorf("%w: output closed", ErrDeviceUnavailable)
	}

	start := int64(math.Round(at * float64(o.cfg.SampleRate)))
	if start < o.played {
		start = o.played
	}
	v := &malgoVoice{out: o, samples: frame.Samples, start: start, done: done}
	o.voices = append(o.voices, v)
	o.scheduled++
	return v, nil
}

func (v *malgoVoice) Stop() {
	o := v.out
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, cur := range o.voices {
		if cur == v {
			o.voices = append(o.voices[:i], o.voices[i+1:]...)
			return
		}
	}
}

func (o *malgoOutput) SampleRate() int { return o.cfg.SampleRate }

func (o *malgoOutput) Name() string { return string(BackendMalgo) }

func (o *malgoOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.voices = nil
	o.mu.Unlock()

	if err := o.device.Stop(); err != nil {
		o.logger.Warn("malgo: stop playback device", "error", err)
	}
	o.device.Uninit()
	_ = o.mctx.Uninit()
	o.mctx.Free()
	return nil
}

func (o *malgoOutput) Stats() OutputStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return OutputStats{
		Scheduled: o.scheduled,
		Active:    int64(len(o.voices)),
		Underruns: o.underruns,
		Backend:   string(BackendMalgo),
	}
}

var (
	_ SourceWithStats = (*malgoSource)(nil)
	_ OutputWithStats = (*malgoOutput)(nil)
)
