package pcm

import (
	"math"
	"math/rand"
	"testing"
)

func TestFloatToPCM_Extremes(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"silence", 0, 0},
		{"full negative", -1, -32768},
		{"full positive", 1, 32767},
		{"clamp below", -3.5, -32768},
		{"clamp above", 2, 32767},
		{"half negative", -0.5, -16384},
		{"half positive", 0.5, 16383},
		{"nan", float32(math.NaN()), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := FloatToPCM([]float32{tt.in})
			if len(out) != 2 {
				t.Fatalf("expected 2 bytes, got %d", len(out))
			}
			got := int16(uint16(out[0]) | uint16(out[1])<<8)
			if got != tt.want {
				t.Errorf("FloatToPCM(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestPCMToFloat_LittleEndian(t *testing.T) {
	// 0x8000 = -32768, 0x7fff = 32767, 0x0100 = 1
	data := []byte{0x00, 0x80, 0xff, 0x7f, 0x01, 0x00}
	got := PCMToFloat(data)
	want := []float32{-1, 32767.0 / 32768, 1.0 / 32768}

	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCMToFloat_DropsTrailingByte(t *testing.T) {
	got := PCMToFloat([]byte{0x00, 0x40, 0x7f})
	if len(got) != 1 {
		t.Fatalf("expected 1 sample from 3 bytes, got %d", len(got))
	}
	if got[0] != 0.5 {
		t.Errorf("expected 0.5, got %v", got[0])
	}
}

func TestBase64RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	samples := make([]float32, 4096)
	for i := range samples {
		samples[i] = rng.Float32()*2 - 1
	}
	samples[0], samples[1], samples[2] = -1, 0, 1

	encoded := FloatToPCMBase64(samples)
	decoded, err := PCMBase64ToFloat(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(decoded))
	}

	// Negative samples lose at most one quantization step. Positive samples
	// are scaled by 32767 but read back by 32768, which adds up to one more.
	for i, s := range samples {
		tol := 1.0 / 32768
		if s > 0 {
			tol = 2.0 / 32768
		}
		if diff := math.Abs(float64(s - decoded[i])); diff > tol {
			t.Fatalf("sample %d: %v -> %v differs by %v (tolerance %v)", i, s, decoded[i], diff, tol)
		}
	}
}

func TestPCMBase64ToFloat_Malformed(t *testing.T) {
	if _, err := PCMBase64ToFloat("not base64!!"); err == nil {
		t.Error("expected error for malformed base64")
	}
}

func TestFloatToPCM_Deterministic(t *testing.T) {
	in := []float32{0.25, -0.75, 0.125}
	a := FloatToPCMBase64(in)
	b := FloatToPCMBase64(in)
	if a != b {
		t.Errorf("encoding is not deterministic: %q vs %q", a, b)
	}
}

func TestDuration(t *testing.T) {
	if got := Duration(48000, 24000); got != 1 {
		t.Errorf("expected 1s, got %v", got)
	}
	if got := Duration(100, 0); got != 0 {
		t.Errorf("expected 0 for invalid rate, got %v", got)
	}
}
