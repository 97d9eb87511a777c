// Package audioio provides audio capture and clocked playback devices.
//
// This package supports two backends:
//   - malgo (miniaudio) - real microphone and speaker on Linux, macOS and Windows
//   - Mock - CI/testing without hardware, driven entirely by the test
//
// The backend is selected automatically (malgo when built with cgo), or can be
// explicitly specified via configuration.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendMalgo uses miniaudio through github.com/gen2brain/malgo.
	BackendMalgo Backend = "malgo"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Sample rates used by the voice engine.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
)

// Config holds audio configuration for one device direction.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the device period size.
	// Default: 20ms
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device is the backend-specific device name, empty for the system default.
	Device string `yaml:"device" json:"device"`

	// Input processing requested from the backend where it is supported.
	EchoCancellation bool `yaml:"echo_cancellation" json:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression" json:"noise_suppression"`
	AutoGainControl  bool `yaml:"auto_gain_control" json:"auto_gain_control"`
}

// DefaultInputConfig returns the microphone configuration: 16 kHz mono with
// echo cancellation, noise suppression and auto-gain requested.
func DefaultInputConfig() Config {
	return Config{
		Backend:          BackendAuto,
		SampleRate:       InputSampleRate,
		Channels:         1,
		BufferDuration:   20 * time.Millisecond,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// DefaultOutputConfig returns the speaker configuration: 24 kHz mono.
func DefaultOutputConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     OutputSampleRate,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of frames per device period.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}
