// Package pcm converts between float32 audio samples and 16-bit
// little-endian linear PCM, and between PCM bytes and the base64 text
// encoding used by websocket transports.
//
// All functions are pure and safe for concurrent use.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// BytesPerSample is the size of one mono PCM16 sample.
const BytesPerSample = 2

// FloatToPCM clamps each sample to [-1, 1] and packs it as signed 16-bit
// little-endian. Negative values scale by 32768, positive values by 32767,
// so -1 maps to -32768 and 1 maps to 32767.
func FloatToPCM(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(floatToInt16(s)))
	}
	return out
}

// PCMToFloat reads signed 16-bit little-endian samples and divides them by
// 32768. A trailing odd byte belongs to a truncated frame and is ignored.
func PCMToFloat(data []byte) []float32 {
	n := len(data) / BytesPerSample
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
		out[i] = float32(v) / 32768
	}
	return out
}

// FloatToPCMBase64 is FloatToPCM followed by standard base64 encoding.
func FloatToPCMBase64(samples []float32) string {
	return base64.StdEncoding.EncodeToString(FloatToPCM(samples))
}

// PCMBase64ToFloat decodes a base64 PCM16 payload into float samples.
// Only malformed base64 is an error; an odd decoded length is tolerated.
func PCMBase64ToFloat(b64 string) ([]float32, error) {
	data, err := DecodeBase64(b64)
	if err != nil {
		return nil, err
	}
	return PCMToFloat(data), nil
}

// EncodeBase64 encodes raw PCM bytes for a text transport.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes a text-transport payload back into raw PCM bytes.
func DecodeBase64(b64 string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("pcm: decode base64: %w", err)
	}
	return data, nil
}

// Duration returns the playback length in seconds of n bytes of mono PCM16.
func Duration(n, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(n/BytesPerSample) / float64(sampleRate)
}

func floatToInt16(s float32) int16 {
	switch {
	case math.IsNaN(float64(s)):
		return 0
	case s <= -1:
		return -32768
	case s >= 1:
		return 32767
	case s < 0:
		return int16(s * 32768)
	default:
		return int16(s * 32767)
	}
}
