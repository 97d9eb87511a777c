package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/teslashibe/voiceops/pkg/audioio"
	"github.com/teslashibe/voiceops/pkg/voice"
)

var envKeys = []string{
	"VOICEOPS_ADDR", "VOICEOPS_PROVIDER", "VOICEOPS_MODEL", "VOICEOPS_VOICE",
	"VOICEOPS_MODEL_ENDPOINT", "GOOGLE_API_KEY", "OPENAI_API_KEY",
	"AUDIO_BACKEND", "AUDIO_INPUT_DEVICE", "AUDIO_OUTPUT_DEVICE",
	"CALL_AUDIO_URL", "CALL_AUDIO_TOKEN", "CALL_AUDIO_SAMPLE_RATE",
	"CRM_SEED_FILE", "CRM_SNAPSHOT_PATH", "LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voiceops.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_RequiresAPIKey(t *testing.T) {
	clearEnv(t)

	_, err := Load("")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load() error = %v, want ConfigError", err)
	}
	if cfgErr.Field != "model.api_key" {
		t.Errorf("Field = %q, want model.api_key", cfgErr.Field)
	}
}

func TestLoad_EnvDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_API_KEY", "g-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.APIKey != "g-key" {
		t.Errorf("APIKey = %q", cfg.Model.APIKey)
	}
	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("Addr = %q, want %q", cfg.Server.Addr, DefaultAddr)
	}
	if cfg.Audio.InputRate != audioio.InputSampleRate || cfg.Audio.OutputRate != audioio.OutputSampleRate {
		t.Errorf("rates = %d/%d", cfg.Audio.InputRate, cfg.Audio.OutputRate)
	}
	if !cfg.CRM.Seed {
		t.Error("seed should default to true")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
server:
  addr: ":9000"
model:
  api_key: file-key
  voice: Kore
audio:
  backend: mock
  frame_size: 2048
call_audio:
  base_url: wss://calls.example/listen/{call_id}
crm:
  seed: false
log:
  level: debug
  format: json
`)
	t.Setenv("VOICEOPS_ADDR", ":9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9100" {
		t.Errorf("env should override file addr, got %q", cfg.Server.Addr)
	}
	if cfg.Model.APIKey != "file-key" || cfg.Model.Voice != "Kore" {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.Audio.Backend != audioio.BackendMock || cfg.Audio.FrameSize != 2048 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.CRM.Seed {
		t.Error("seed should be disabled by file")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log format = %q", cfg.Log.Format)
	}
	// Defaults survive for keys the file leaves out.
	if cfg.CallAudio.SampleRate != DefaultCallSampleRate {
		t.Errorf("call sample rate = %d", cfg.CallAudio.SampleRate)
	}
}

func TestLoad_OpenAIPinsInputRate(t *testing.T) {
	clearEnv(t)
	t.Setenv("VOICEOPS_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "o-key")
	t.Setenv("GOOGLE_API_KEY", "g-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.Provider != voice.ProviderOpenAI || cfg.Model.APIKey != "o-key" {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.Audio.InputRate != 24000 {
		t.Errorf("InputRate = %d, want 24000", cfg.Audio.InputRate)
	}
	if got := cfg.Capture().SampleRate; got != 24000 {
		t.Errorf("capture rate = %d", got)
	}
}

func TestLoad_BadFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeFile(t, "server: [")); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"ok", func(*Config) {}, ""},
		{"endpoint without key", func(c *Config) { c.Model.APIKey, c.Model.Endpoint = "", "ws://localhost:9" }, ""},
		{"no addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"provider", func(c *Config) { c.Model.Provider = "nope" }, "model.provider"},
		{"backend", func(c *Config) { c.Audio.Backend = "alsa" }, "audio.backend"},
		{"frame size", func(c *Config) { c.Audio.FrameSize = 0 }, "audio.frame_size"},
		{"call rate", func(c *Config) { c.CallAudio.SampleRate = -1 }, "call_audio.sample_rate"},
		{"log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Model.APIKey = "k"
			tt.edit(&cfg)
			err := cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) || cfgErr.Field != tt.field {
				t.Fatalf("Validate() = %v, want field %s", err, tt.field)
			}
		})
	}
}

func TestDerivedConfigs(t *testing.T) {
	cfg := Default()
	cfg.Model.APIKey = "k"
	cfg.Model.Model = "gemini-live"
	cfg.Audio.OutputDevice = "speakers"
	cfg.Audio.NoiseSuppression = false

	vc := cfg.Voice()
	if vc.Provider != voice.ProviderGemini || vc.APIKey != "k" || vc.Model != "gemini-live" {
		t.Errorf("Voice() = %+v", vc)
	}
	if err := vc.Validate(); err != nil {
		t.Errorf("voice config invalid: %v", err)
	}
	if out := cfg.Output(); out.Device != "speakers" || out.SampleRate != audioio.OutputSampleRate {
		t.Errorf("Output() = %+v", out)
	}
	if in := cfg.Input(); in.NoiseSuppression || !in.EchoCancellation {
		t.Errorf("Input() = %+v", in)
	}
}

func TestRead_SkipsValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALL_AUDIO_URL", "wss://calls.example/listen")
	t.Setenv("CALL_AUDIO_SAMPLE_RATE", "8000")

	cfg, err := Read("")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	cc := cfg.CallAudioConfig()
	if cc.BaseURL != "wss://calls.example/listen" || cc.SampleRate != 8000 {
		t.Errorf("CallAudioConfig() = %+v", cc)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should still require a model key")
	}
}

func TestSetProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("OPENAI_API_KEY", "o-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.SetProvider(voice.ProviderOpenAI)
	if cfg.Model.APIKey != "o-key" || cfg.Audio.InputRate != 24000 {
		t.Errorf("after SetProvider: key=%q rate=%d", cfg.Model.APIKey, cfg.Audio.InputRate)
	}
}
