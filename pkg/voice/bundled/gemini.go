// Package bundled provides websocket implementations of voice.Transport.
package bundled

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/voiceops/pkg/audioio"
	"github.com/teslashibe/voiceops/pkg/pcm"
	"github.com/teslashibe/voiceops/pkg/voice"
)

const (
	// Gemini Live API WebSocket endpoint
	geminiLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// Default model for Gemini Live
	geminiDefaultModel = "models/gemini-2.0-flash-live-001"

	// Default prebuilt voice
	geminiDefaultVoice = "Puck"
)

// Gemini dials Gemini Live sessions.
type Gemini struct {
	config voice.Config
	logger *slog.Logger
	dialer *websocket.Dialer
}

// options are shared by the bundled dialers.
type options struct {
	logger *slog.Logger
}

// Option configures a bundled dialer.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewGemini creates a Gemini Live dialer.
func NewGemini(cfg voice.Config, opts ...Option) (*Gemini, error) {
	if cfg.APIKey == "" && cfg.Endpoint == "" {
		return nil, voice.ErrMissingAPIKey
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	o := buildOptions(opts)
	return &Gemini{
		config: cfg,
		logger: o.logger.With("component", "gemini"),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}, nil
}

func (g *Gemini) endpoint() (string, error) {
	raw := g.config.Endpoint
	if raw == "" {
		raw = geminiLiveURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("voice/gemini: invalid endpoint: %w", err)
	}
	if g.config.APIKey != "" {
		q := u.Query()
		q.Set("key", g.config.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dial connects, sends the session setup and waits for setupComplete.
func (g *Gemini) Dial(ctx context.Context, sc voice.SessionConfig) (voice.Transport, error) {
	endpoint, err := g.endpoint()
	if err != nil {
		return nil, err
	}

	ws, _, err := g.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, voice.NewConnectionError("dial", err, true)
	}

	// Unblock the setup read if ctx ends first.
	stop := context.AfterFunc(ctx, func() { ws.Close() })

	if err := ws.WriteJSON(g.setupMessage(sc)); err != nil {
		stop()
		ws.Close()
		return nil, voice.NewConnectionError("send setup", err, true)
	}

	if err := awaitSetupComplete(ws); err != nil {
		stop()
		ws.Close()
		if ctx.Err() != nil {
			return nil, voice.NewConnectionError("setup canceled", ctx.Err(), false)
		}
		return nil, err
	}

	if !stop() {
		// ctx ended and the AfterFunc already closed the socket.
		return nil, voice.NewConnectionError("setup canceled", ctx.Err(), false)
	}

	inputRate := sc.InputSampleRate
	if inputRate <= 0 {
		inputRate = audioio.InputSampleRate
	}

	t := &geminiTransport{
		conn:      newConn(ws, g.logger),
		inputMime: fmt.Sprintf("audio/pcm;rate=%d", inputRate),
	}
	t.start(t.decode, g.config.KeepAlive)

	g.logger.Info("gemini live session ready", "model", g.model(sc), "voice", voiceName(sc))
	return t, nil
}

func (g *Gemini) model(sc voice.SessionConfig) string {
	model := sc.Model
	if model == "" {
		model = g.config.Model
	}
	if model == "" {
		model = geminiDefaultModel
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	return model
}

func voiceName(sc voice.SessionConfig) string {
	if sc.VoiceID != "" {
		return sc.VoiceID
	}
	return geminiDefaultVoice
}

// setupMessage builds the initial configuration for Gemini Live.
func (g *Gemini) setupMessage(sc voice.SessionConfig) map[string]any {
	setup := map[string]any{
		"model": g.model(sc),
		"generationConfig": map[string]any{
			"responseModalities": []string{"AUDIO"},
			"speechConfig": map[string]any{
				"voiceConfig": map[string]any{
					"prebuiltVoiceConfig": map[string]any{
						"voiceName": voiceName(sc),
					},
				},
			},
		},
		"inputAudioTranscription":  map[string]any{},
		"outputAudioTranscription": map[string]any{},
	}

	if sc.SystemInstruction != "" {
		setup["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": sc.SystemInstruction}},
		}
	}

	if len(sc.Tools) > 0 {
		decls := make([]map[string]any, 0, len(sc.Tools))
		for _, tool := range sc.Tools {
			decls = append(decls, map[string]any{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  tool.Parameters,
			})
		}
		setup["tools"] = []map[string]any{{"functionDeclarations": decls}}
	}

	return map[string]any{"setup": setup}
}

// awaitSetupComplete reads until the server acknowledges setup.
func awaitSetupComplete(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return classifyReadError(err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.SetupComplete != nil {
			return nil
		}
		if msg.Error != nil {
			return fmt.Errorf("%w: %s", voice.ErrSetupFailed, msg.Error.Message)
		}
	}
}

// serverMessage is the subset of BidiGenerateContentServerMessage we use.
type serverMessage struct {
	SetupComplete *struct{} `json:"setupComplete"`

	ServerContent *struct {
		ModelTurn *struct {
			Parts []struct {
				Text       string `json:"text"`
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"modelTurn"`
		TurnComplete        bool           `json:"turnComplete"`
		Interrupted         bool           `json:"interrupted"`
		InputTranscription  *transcription `json:"inputTranscription"`
		OutputTranscription *transcription `json:"outputTranscription"`
	} `json:"serverContent"`

	ToolCall *struct {
		FunctionCalls []struct {
			ID   string         `json:"id"`
			Name string         `json:"name"`
			Args map[string]any `json:"args"`
		} `json:"functionCalls"`
	} `json:"toolCall"`

	ToolCallCancellation *struct {
		IDs []string `json:"ids"`
	} `json:"toolCallCancellation"`

	GoAway *struct {
		TimeLeft string `json:"timeLeft"`
	} `json:"goAway"`

	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type transcription struct {
	Text string `json:"text"`
}

// geminiTransport is an open Gemini Live session.
type geminiTransport struct {
	*conn
	inputMime string

	// Accumulated transcript text for the current turn. Only touched by the read loop.
	userText  strings.Builder
	modelText strings.Builder
}

// SendAudio streams PCM16 microphone audio.
func (t *geminiTransport) SendAudio(ctx context.Context, chunk []byte) error {
	return t.sendJSON(ctx, map[string]any{
		"realtimeInput": map[string]any{
			"audio": map[string]any{
				"data":     pcm.EncodeBase64(chunk),
				"mimeType": t.inputMime,
			},
		},
	})
}

// SendToolResponse answers a tool-call batch in one message.
func (t *geminiTransport) SendToolResponse(ctx context.Context, results []voice.ToolResult) error {
	responses := make([]map[string]any, 0, len(results))
	for _, r := range results {
		responses = append(responses, map[string]any{
			"id":       r.CallID,
			"name":     r.Name,
			"response": r.Result.Map(),
		})
	}
	return t.sendJSON(ctx, map[string]any{
		"toolResponse": map[string]any{
			"functionResponses": responses,
		},
	})
}

func (t *geminiTransport) decode(data []byte) (voice.Message, error) {
	var raw serverMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.logger.Debug("failed to parse message", "error", err)
		return voice.Message{}, nil
	}
	if raw.Error != nil {
		return voice.Message{}, voice.NewConnectionError("server error", errors.New(raw.Error.Message), false)
	}
	if raw.GoAway != nil {
		t.logger.Warn("server is going away", "time_left", raw.GoAway.TimeLeft)
	}
	return t.translate(&raw), nil
}

// translate converts a server message into a voice.Message.
func (t *geminiTransport) translate(raw *serverMessage) voice.Message {
	var msg voice.Message

	if tc := raw.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			msg.ToolCalls = append(msg.ToolCalls, voice.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}
	if c := raw.ToolCallCancellation; c != nil {
		msg.ToolCallCancellations = append(msg.ToolCallCancellations, c.IDs...)
	}

	sc := raw.ServerContent
	if sc == nil {
		return msg
	}

	if it := sc.InputTranscription; it != nil && it.Text != "" {
		t.userText.WriteString(it.Text)
		msg.Transcripts = append(msg.Transcripts, voice.TranscriptDelta{Role: voice.RoleUser, Text: t.userText.String()})
	}

	modelSpeaking := false
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData == nil || !strings.HasPrefix(part.InlineData.MimeType, "audio/pcm") {
				continue
			}
			audio, err := pcm.DecodeBase64(part.InlineData.Data)
			if err != nil {
				msg.DecodeErrors++
				t.logger.Debug("dropping malformed audio part", "error", err)
				continue
			}
			if len(audio) > 0 {
				msg.Audio = append(msg.Audio, audio)
				modelSpeaking = true
			}
		}
	}

	if ot := sc.OutputTranscription; ot != nil && ot.Text != "" {
		t.modelText.WriteString(ot.Text)
		modelSpeaking = true
	}

	// The user's turn is over once the model starts answering.
	if modelSpeaking && t.userText.Len() > 0 {
		msg.Transcripts = append(msg.Transcripts, voice.TranscriptDelta{Role: voice.RoleUser, Text: t.userText.String(), Final: true})
		t.userText.Reset()
	}
	if ot := sc.OutputTranscription; ot != nil && ot.Text != "" {
		msg.Transcripts = append(msg.Transcripts, voice.TranscriptDelta{Role: voice.RoleModel, Text: t.modelText.String()})
	}

	if sc.Interrupted {
		msg.Interrupted = true
	}
	if sc.TurnComplete || sc.Interrupted {
		if t.modelText.Len() > 0 {
			msg.Transcripts = append(msg.Transcripts, voice.TranscriptDelta{Role: voice.RoleModel, Text: t.modelText.String(), Final: true})
			t.modelText.Reset()
		}
	}
	if sc.TurnComplete {
		msg.TurnComplete = true
	}

	return msg
}

// Ensure Gemini implements voice.Dialer at compile time.
var _ voice.Dialer = (*Gemini)(nil)

// Register Gemini provider in voice package.
func init() {
	voice.Register(voice.ProviderGemini, func(cfg voice.Config) (voice.Dialer, error) {
		return NewGemini(cfg)
	})
}
