// Package config loads voiceops configuration from a YAML file, a .env file
// and the environment, in that order. Command-line flags are applied by the
// binaries after Load.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/voiceops/pkg/audioio"
	"github.com/teslashibe/voiceops/pkg/callaudio"
	"github.com/teslashibe/voiceops/pkg/capture"
	"github.com/teslashibe/voiceops/pkg/voice"
)

// Default configuration values.
const (
	DefaultAddr           = ":8080"
	DefaultCallSampleRate = 16000
	DefaultInstruction    = "You are a friendly airline reservations agent. " +
		"Use the booking tools to look up, create and change reservations. " +
		"Confirm changes with the caller before making them."
)

// Config holds all configuration for the console and call monitor.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Audio     AudioConfig     `yaml:"audio"`
	CallAudio CallAudioConfig `yaml:"call_audio"`
	CRM       CRMConfig       `yaml:"crm"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the console HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ModelConfig selects and authenticates the realtime model.
type ModelConfig struct {
	Provider          voice.Provider `yaml:"provider"`
	APIKey            string         `yaml:"api_key"`
	Model             string         `yaml:"model"`
	Endpoint          string         `yaml:"endpoint"`
	Voice             string         `yaml:"voice"`
	SystemInstruction string         `yaml:"system_instruction"`
	HandshakeTimeout  time.Duration  `yaml:"handshake_timeout"`
}

// AudioConfig configures the local microphone and speaker.
type AudioConfig struct {
	Backend      audioio.Backend `yaml:"backend"`
	InputRate    int             `yaml:"input_rate"`
	OutputRate   int             `yaml:"output_rate"`
	FrameSize    int             `yaml:"frame_size"`
	InputDevice  string          `yaml:"input_device"`
	OutputDevice string          `yaml:"output_device"`

	EchoCancellation bool `yaml:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression"`
	AutoGainControl  bool `yaml:"auto_gain_control"`
}

// CallAudioConfig configures live call monitoring.
type CallAudioConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Token            string        `yaml:"token"`
	SampleRate       int           `yaml:"sample_rate"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// CRMConfig configures the booking store.
type CRMConfig struct {
	// Seed loads the demo bookings on first access.
	Seed bool `yaml:"seed"`

	// SeedFile replaces the demo bookings with those in a snapshot file.
	SeedFile string `yaml:"seed_file"`

	// SnapshotPath, when set, receives a JSON snapshot after every change.
	SnapshotPath string `yaml:"snapshot_path"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	in := audioio.DefaultInputConfig()
	return Config{
		Server: ServerConfig{Addr: DefaultAddr},
		Model: ModelConfig{
			Provider:          voice.ProviderGemini,
			SystemInstruction: DefaultInstruction,
			HandshakeTimeout:  10 * time.Second,
		},
		Audio: AudioConfig{
			Backend:          audioio.BackendAuto,
			InputRate:        audioio.InputSampleRate,
			OutputRate:       audioio.OutputSampleRate,
			FrameSize:        capture.DefaultFrameSize,
			EchoCancellation: in.EchoCancellation,
			NoiseSuppression: in.NoiseSuppression,
			AutoGainControl:  in.AutoGainControl,
		},
		CallAudio: CallAudioConfig{
			SampleRate:       DefaultCallSampleRate,
			HandshakeTimeout: 10 * time.Second,
		},
		CRM: CRMConfig{Seed: true},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, .env and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read is Load without validation, for tools that only need part of the
// configuration.
func Read(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	cfg.LoadEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// LoadEnv applies environment overrides. Unset variables leave values alone.
func (c *Config) LoadEnv() {
	setString(&c.Server.Addr, "VOICEOPS_ADDR")
	if p := os.Getenv("VOICEOPS_PROVIDER"); p != "" {
		c.Model.Provider = voice.Provider(p)
	}
	setString(&c.Model.Model, "VOICEOPS_MODEL")
	setString(&c.Model.Voice, "VOICEOPS_VOICE")
	setString(&c.Model.Endpoint, "VOICEOPS_MODEL_ENDPOINT")

	if c.Model.APIKey == "" {
		c.Model.APIKey = os.Getenv(apiKeyEnv(c.Model.Provider))
	}

	if b := os.Getenv("AUDIO_BACKEND"); b != "" {
		c.Audio.Backend = audioio.Backend(b)
	}
	setString(&c.Audio.InputDevice, "AUDIO_INPUT_DEVICE")
	setString(&c.Audio.OutputDevice, "AUDIO_OUTPUT_DEVICE")

	setString(&c.CallAudio.BaseURL, "CALL_AUDIO_URL")
	setString(&c.CallAudio.Token, "CALL_AUDIO_TOKEN")
	if v := os.Getenv("CALL_AUDIO_SAMPLE_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CallAudio.SampleRate = n
		}
	}

	setString(&c.CRM.SeedFile, "CRM_SEED_FILE")
	setString(&c.CRM.SnapshotPath, "CRM_SNAPSHOT_PATH")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	c.applyProvider()
}

// SetProvider switches the model provider, taking its key from the
// environment when one is set.
func (c *Config) SetProvider(p voice.Provider) {
	c.Model.Provider = p
	if key := os.Getenv(apiKeyEnv(p)); key != "" {
		c.Model.APIKey = key
	}
	c.applyProvider()
}

func apiKeyEnv(p voice.Provider) string {
	if p == voice.ProviderOpenAI {
		return "OPENAI_API_KEY"
	}
	return "GOOGLE_API_KEY"
}

// applyProvider pins the capture rate the provider requires.
func (c *Config) applyProvider() {
	if c.Model.Provider == voice.ProviderOpenAI {
		c.Audio.InputRate = 24000
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return &ConfigError{Field: "server.addr", Message: "server address is required"}
	}
	switch c.Model.Provider {
	case voice.ProviderGemini, voice.ProviderOpenAI:
	default:
		return &ConfigError{Field: "model.provider", Message: fmt.Sprintf("unknown model provider %q", c.Model.Provider)}
	}
	if c.Model.APIKey == "" && c.Model.Endpoint == "" {
		return &ConfigError{Field: "model.api_key", Message: apiKeyEnv(c.Model.Provider) + " environment variable is required"}
	}
	switch c.Audio.Backend {
	case audioio.BackendAuto, audioio.BackendMalgo, audioio.BackendMock:
	default:
		return &ConfigError{Field: "audio.backend", Message: fmt.Sprintf("unknown audio backend %q", c.Audio.Backend)}
	}
	if c.Audio.InputRate <= 0 || c.Audio.OutputRate <= 0 {
		return &ConfigError{Field: "audio", Message: "sample rates must be positive"}
	}
	if c.Audio.FrameSize <= 0 {
		return &ConfigError{Field: "audio.frame_size", Message: "frame size must be positive"}
	}
	if c.CallAudio.SampleRate <= 0 {
		return &ConfigError{Field: "call_audio.sample_rate", Message: "call sample rate must be positive"}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ConfigError{Field: "log.level", Message: fmt.Sprintf("unknown log level %q", c.Log.Level)}
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return &ConfigError{Field: "log.format", Message: fmt.Sprintf("unknown log format %q", c.Log.Format)}
	}
	return nil
}

// CallAudioConfig returns the call listener configuration.
func (c *Config) CallAudioConfig() callaudio.Config {
	return callaudio.Config{
		BaseURL:          c.CallAudio.BaseURL,
		Token:            c.CallAudio.Token,
		SampleRate:       c.CallAudio.SampleRate,
		HandshakeTimeout: c.CallAudio.HandshakeTimeout,
	}
}

// Voice returns the transport configuration.
func (c *Config) Voice() voice.Config {
	vc := voice.DefaultConfig()
	vc.Provider = c.Model.Provider
	vc.APIKey = c.Model.APIKey
	vc.Endpoint = c.Model.Endpoint
	vc.Model = c.Model.Model
	if c.Model.HandshakeTimeout > 0 {
		vc.HandshakeTimeout = c.Model.HandshakeTimeout
	}
	return vc
}

// Input returns the microphone device configuration.
func (c *Config) Input() audioio.Config {
	in := audioio.DefaultInputConfig()
	in.Backend = c.Audio.Backend
	in.Device = c.Audio.InputDevice
	in.EchoCancellation = c.Audio.EchoCancellation
	in.NoiseSuppression = c.Audio.NoiseSuppression
	in.AutoGainControl = c.Audio.AutoGainControl
	return in
}

// Output returns the speaker device configuration.
func (c *Config) Output() audioio.Config {
	out := audioio.DefaultOutputConfig()
	out.Backend = c.Audio.Backend
	out.SampleRate = c.Audio.OutputRate
	out.Device = c.Audio.OutputDevice
	return out
}

// Capture returns the framing configuration.
func (c *Config) Capture() capture.Config {
	cc := capture.DefaultConfig()
	cc.FrameSize = c.Audio.FrameSize
	cc.SampleRate = c.Audio.InputRate
	return cc
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Field + ": " + e.Message
}
