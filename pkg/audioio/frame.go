package audioio

// Frame is a buffer of linear PCM samples at a fixed sample rate and channel
// count. Samples are interleaved float32 in [-1, 1]. A Frame is treated as
// immutable once produced; stages that need to modify samples copy them.
type Frame struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// NewMonoFrame wraps samples as a single-channel frame.
func NewMonoFrame(samples []float32, sampleRate int) Frame {
	return Frame{Samples: samples, SampleRate: sampleRate, Channels: 1}
}

// Len returns the number of sample frames (samples per channel).
func (f Frame) Len() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}

// Duration returns the playback length of this frame in seconds.
func (f Frame) Duration() float64 {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return float64(f.Len()) / float64(f.SampleRate)
}

// Empty reports whether the frame contributes no audio.
func (f Frame) Empty() bool {
	return f.Duration() == 0
}
