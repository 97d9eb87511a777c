package audioio

import (
	"math"
	"testing"
)

func TestResample_SameRate(t *testing.T) {
	samples := []float32{0.1, 0.2, 0.3, 0.4, 0.5}
	result := Resample(samples, 24000, 24000)

	if len(result) != len(samples) {
		t.Errorf("Expected %d samples, got %d", len(samples), len(result))
	}

	for i, s := range samples {
		if result[i] != s {
			t.Errorf("Sample %d: expected %v, got %v", i, s, result[i])
		}
	}
}

func TestResample_Downsample(t *testing.T) {
	// 48kHz -> 24kHz (2:1 ratio)
	samples := make([]float32, 960) // 20ms at 48kHz
	for i := range samples {
		samples[i] = float32(i) / 960
	}

	result := Resample(samples, 48000, 24000)

	if len(result) != 480 {
		t.Errorf("Expected 480 samples, got %d", len(result))
	}
	if result[10] != samples[20] {
		t.Errorf("Expected exact source sample at even positions, got %v want %v", result[10], samples[20])
	}
}

func TestResample_Upsample(t *testing.T) {
	// 16kHz -> 24kHz (2:3 ratio)
	samples := make([]float32, 320) // 20ms at 16kHz

	result := Resample(samples, 16000, 24000)

	if len(result) != 480 {
		t.Errorf("Expected 480 samples, got %d", len(result))
	}
}

func TestResample_Empty(t *testing.T) {
	if result := Resample(nil, 24000, 48000); len(result) != 0 {
		t.Errorf("Expected empty result for nil input")
	}
	if result := Resample([]float32{}, 24000, 48000); len(result) != 0 {
		t.Errorf("Expected empty result for empty input")
	}
}

func TestResampleFrame_Stereo(t *testing.T) {
	f := Frame{Samples: []float32{0.2, 0.4, 0.6, 0.8}, SampleRate: 24000, Channels: 2}

	out := ResampleFrame(f, 24000)

	if out.Channels != 1 || out.SampleRate != 24000 {
		t.Fatalf("unexpected format: %+v", out)
	}
	if len(out.Samples) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(out.Samples))
	}
	if math.Abs(float64(out.Samples[0]-0.3)) > 1e-6 || math.Abs(float64(out.Samples[1]-0.7)) > 1e-6 {
		t.Errorf("unexpected downmix: %v", out.Samples)
	}
}

func TestMonoToInterleaved(t *testing.T) {
	out := MonoToInterleaved([]float32{0.1, -0.1}, 2)
	want := []float32{0.1, 0.1, -0.1, -0.1}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("Sample %d: expected %v, got %v", i, want[i], out[i])
		}
	}
}

func TestCalculateRMS(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0 {
		t.Errorf("Expected 0 for empty input, got %v", rms)
	}

	rms := CalculateRMS([]float32{0.5, -0.5, 0.5, -0.5})
	if math.Abs(rms-0.5) > 1e-9 {
		t.Errorf("Expected RMS 0.5, got %v", rms)
	}
}
