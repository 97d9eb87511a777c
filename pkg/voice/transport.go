package voice

import (
	"context"
	"errors"
	"time"

	"github.com/teslashibe/voiceops/pkg/tools"
)

// Provider identifies the remote model provider.
type Provider string

const (
	// ProviderGemini uses Google's Gemini Live API.
	ProviderGemini Provider = "gemini"

	// ProviderOpenAI uses OpenAI's Realtime API. It expects 24kHz input.
	ProviderOpenAI Provider = "openai"
)

// Role identifies who produced a transcript.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult answers one ToolCall.
type ToolResult struct {
	CallID string       `json:"call_id"`
	Name   string       `json:"name"`
	Result tools.Result `json:"result"`
}

// TranscriptDelta is a piece of recognized or generated speech text.
type TranscriptDelta struct {
	Role  Role   `json:"role"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Message is one inbound event from the model, already decoded.
type Message struct {
	// Audio holds PCM16LE chunks at the session output rate, in arrival order.
	Audio [][]byte

	// ToolCalls is a batch that must be answered with a single
	// SendToolResponse covering every call.
	ToolCalls []ToolCall

	// ToolCallCancellations lists call IDs the model no longer needs.
	ToolCallCancellations []string

	Transcripts []TranscriptDelta

	// TurnComplete marks the end of a model turn.
	TurnComplete bool

	// Interrupted means the user barged in and queued model audio is stale.
	Interrupted bool

	// DecodeErrors counts audio parts dropped because they could not be decoded.
	DecodeErrors int
}

// Empty reports whether the message carries nothing.
func (m Message) Empty() bool {
	return len(m.Audio) == 0 && len(m.ToolCalls) == 0 && len(m.ToolCallCancellations) == 0 &&
		len(m.Transcripts) == 0 && !m.TurnComplete && !m.Interrupted && m.DecodeErrors == 0
}

// SessionConfig configures one model session.
type SessionConfig struct {
	Model             string
	SystemInstruction string
	VoiceID           string
	Tools             []tools.Schema
	InputSampleRate   int
	OutputSampleRate  int
}

// Transport is an open session with the remote model.
type Transport interface {
	// SendAudio streams one chunk of PCM16LE microphone audio.
	SendAudio(ctx context.Context, pcm []byte) error

	// SendToolResponse answers a whole tool-call batch in one message.
	SendToolResponse(ctx context.Context, results []ToolResult) error

	// Messages delivers inbound events. It is closed when the transport
	// closes or fails; Err then reports why.
	Messages() <-chan Message

	// Err returns the error that closed Messages, or nil after a local Close.
	Err() error

	// Close shuts the transport down. It is safe to call more than once.
	Close() error
}

// Dialer opens transports. Dial returns once the remote side has
// acknowledged the session setup.
type Dialer interface {
	Dial(ctx context.Context, cfg SessionConfig) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, cfg SessionConfig) (Transport, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, cfg SessionConfig) (Transport, error) {
	return f(ctx, cfg)
}

// Config holds provider connection settings.
type Config struct {
	Provider Provider

	// APIKey authenticates with the provider.
	APIKey string

	// Endpoint overrides the provider's websocket URL.
	Endpoint string

	// Model is the default model when SessionConfig.Model is empty.
	Model string

	// HandshakeTimeout bounds the websocket handshake (default: 10s).
	HandshakeTimeout time.Duration

	// KeepAlive is the ping interval (default: 20s, negative disables).
	KeepAlive time.Duration
}

// DefaultConfig returns a Gemini configuration without credentials.
func DefaultConfig() Config {
	return Config{
		Provider:         ProviderGemini,
		HandshakeTimeout: 10 * time.Second,
		KeepAlive:        20 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Provider == "" {
		return errors.New("voice: provider is required")
	}
	if c.APIKey == "" && c.Endpoint == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// DialerFactory builds a Dialer for a provider.
type DialerFactory func(cfg Config) (Dialer, error)

// factories holds the registered dialer factories.
var factories = make(map[Provider]DialerFactory)

// Register sets the dialer factory for a provider.
// This is called by bundled implementations in init().
func Register(p Provider, f DialerFactory) {
	factories[p] = f
}

// NewDialer creates a Dialer for cfg.Provider.
func NewDialer(cfg Config) (Dialer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f, ok := factories[cfg.Provider]
	if !ok {
		return nil, ErrProviderNotSupported
	}
	return f(cfg)
}
