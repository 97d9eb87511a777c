package bundled

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/voiceops/pkg/pcm"
	"github.com/teslashibe/voiceops/pkg/voice"
)

const (
	openAIRealtimeURL = "wss://api.openai.com/v1/realtime"
	openAIModel       = "gpt-4o-realtime-preview-2024-12-17"
	openAIVoice       = "alloy"

	// OpenAIInputSampleRate is the only pcm16 rate the Realtime API accepts.
	OpenAIInputSampleRate = 24000
)

// OpenAI dials OpenAI Realtime sessions.
type OpenAI struct {
	config voice.Config
	logger *slog.Logger
	dialer *websocket.Dialer
}

// NewOpenAI creates an OpenAI Realtime dialer.
func NewOpenAI(cfg voice.Config, opts ...Option) (*OpenAI, error) {
	if cfg.APIKey == "" && cfg.Endpoint == "" {
		return nil, voice.ErrMissingAPIKey
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	o := buildOptions(opts)
	return &OpenAI{
		config: cfg,
		logger: o.logger.With("component", "openai"),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}, nil
}

func (o *OpenAI) model(sc voice.SessionConfig) string {
	switch {
	case sc.Model != "":
		return sc.Model
	case o.config.Model != "":
		return o.config.Model
	}
	return openAIModel
}

// Dial connects and waits until the session update is acknowledged.
func (o *OpenAI) Dial(ctx context.Context, sc voice.SessionConfig) (voice.Transport, error) {
	if sc.InputSampleRate > 0 && sc.InputSampleRate != OpenAIInputSampleRate {
		o.logger.Warn("openai realtime expects 24kHz input", "input_rate", sc.InputSampleRate)
	}

	raw := o.config.Endpoint
	if raw == "" {
		raw = openAIRealtimeURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("voice/openai: invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("model", o.model(sc))
	u.RawQuery = q.Encode()

	header := http.Header{}
	if o.config.APIKey != "" {
		header.Set("Authorization", "Bearer "+o.config.APIKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	ws, _, err := o.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, voice.NewConnectionError("dial", err, true)
	}

	stop := context.AfterFunc(ctx, func() { ws.Close() })
	fail := func(err error) (voice.Transport, error) {
		stop()
		ws.Close()
		if ctx.Err() != nil {
			return nil, voice.NewConnectionError("setup canceled", ctx.Err(), false)
		}
		return nil, err
	}

	if err := ws.WriteJSON(sessionUpdate(sc)); err != nil {
		return fail(voice.NewConnectionError("send session.update", err, true))
	}
	if err := awaitEvent(ws, "session.updated"); err != nil {
		return fail(err)
	}
	if !stop() {
		return nil, voice.NewConnectionError("setup canceled", ctx.Err(), false)
	}

	t := &openAITransport{
		conn:    newConn(ws, o.logger),
		pending: make(map[string]voice.ToolCall),
	}
	t.start(t.decode, o.config.KeepAlive)

	o.logger.Info("openai realtime session ready", "model", o.model(sc))
	return t, nil
}

func sessionUpdate(sc voice.SessionConfig) map[string]any {
	voiceID := sc.VoiceID
	if voiceID == "" {
		voiceID = openAIVoice
	}

	apiTools := make([]map[string]any, 0, len(sc.Tools))
	for _, tool := range sc.Tools {
		apiTools = append(apiTools, map[string]any{
			"type":        "function",
			"name":        tool.Name,
			"description": tool.Description,
			"parameters":  tool.Parameters,
		})
	}

	return map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"instructions":        sc.SystemInstruction,
			"voice":               voiceID,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": map[string]any{
				"model": "whisper-1",
			},
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           0.5,
				"prefix_padding_ms":   300,
				"silence_duration_ms": 500,
			},
			"tools":       apiTools,
			"tool_choice": "auto",
		},
	}
}

// awaitEvent reads until an event of the given type arrives.
func awaitEvent(ws *websocket.Conn, want string) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return classifyReadError(err)
		}
		var ev openAIEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case want:
			return nil
		case "error":
			return fmt.Errorf("%w: %s", voice.ErrSetupFailed, ev.errorMessage())
		}
	}
}

// openAIEvent is the union of the server events we read.
type openAIEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	Error      *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *openAIEvent) errorMessage() string {
	if e.Error == nil {
		return "unknown error"
	}
	return e.Error.Message
}

// openAITransport is an open Realtime session. Function calls arrive one at
// a time and are released as a single batch when the response finishes.
type openAITransport struct {
	*conn

	// Only touched by the read loop.
	pending   map[string]voice.ToolCall
	order     []string
	modelText strings.Builder
}

// SendAudio appends PCM16 audio to the input buffer.
func (t *openAITransport) SendAudio(ctx context.Context, chunk []byte) error {
	return t.sendJSON(ctx, map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": pcm.EncodeBase64(chunk),
	})
}

// SendToolResponse posts every output and then asks for one new response.
func (t *openAITransport) SendToolResponse(ctx context.Context, results []voice.ToolResult) error {
	for _, r := range results {
		output, err := json.Marshal(r.Result)
		if err != nil {
			return fmt.Errorf("voice/openai: encode result for %s: %w", r.Name, err)
		}
		err = t.sendJSON(ctx, map[string]any{
			"type": "conversation.item.create",
			"item": map[string]any{
				"type":    "function_call_output",
				"call_id": r.CallID,
				"output":  string(output),
			},
		})
		if err != nil {
			return err
		}
	}
	return t.sendJSON(ctx, map[string]any{"type": "response.create"})
}

func (t *openAITransport) decode(data []byte) (voice.Message, error) {
	var msg voice.Message
	var ev openAIEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.logger.Debug("failed to parse event", "error", err)
		return msg, nil
	}

	switch ev.Type {
	case "input_audio_buffer.speech_started":
		// Barge-in: whatever the model queued is stale.
		msg.Interrupted = true
		if t.modelText.Len() > 0 {
			msg.Transcripts = append(msg.Transcripts, voice.TranscriptDelta{Role: voice.RoleModel, Text: t.modelText.String(), Final: true})
			t.modelText.Reset()
		}

	case "conversation.item.input_audio_transcription.completed":
		if ev.Transcript != "" {
			msg.Transcripts = append(msg.Transcripts, voice.TranscriptDelta{Role: voice.RoleUser, Text: strings.TrimSpace(ev.Transcript), Final: true})
		}

	case "response.audio.delta":
		audio, err := pcm.DecodeBase64(ev.Delta)
		if err != nil {
			msg.DecodeErrors++
			t.logger.Debug("dropping malformed audio delta", "error", err)
		} else if len(audio) > 0 {
			msg.Audio = append(msg.Audio, audio)
		}

	case "response.audio_transcript.delta":
		t.modelText.WriteString(ev.Delta)
		msg.Transcripts = append(msg.Transcripts, voice.TranscriptDelta{Role: voice.RoleModel, Text: t.modelText.String()})

	case "response.audio_transcript.done":
		text := ev.Transcript
		if text == "" {
			text = t.modelText.String()
		}
		t.modelText.Reset()
		if text != "" {
			msg.Transcripts = append(msg.Transcripts, voice.TranscriptDelta{Role: voice.RoleModel, Text: text, Final: true})
		}

	case "response.function_call_arguments.done":
		args := map[string]any{}
		if ev.Arguments != "" {
			if err := json.Unmarshal([]byte(ev.Arguments), &args); err != nil {
				t.logger.Warn("unparseable tool arguments", "tool", ev.Name, "error", err)
				args = map[string]any{}
			}
		}
		if _, dup := t.pending[ev.CallID]; !dup {
			t.order = append(t.order, ev.CallID)
		}
		t.pending[ev.CallID] = voice.ToolCall{ID: ev.CallID, Name: ev.Name, Args: args}

	case "response.done":
		if len(t.order) > 0 {
			for _, id := range t.order {
				msg.ToolCalls = append(msg.ToolCalls, t.pending[id])
			}
			t.pending = make(map[string]voice.ToolCall)
			t.order = t.order[:0]
		} else {
			msg.TurnComplete = true
		}

	case "error":
		// Most realtime errors are scoped to one client event.
		t.logger.Warn("openai realtime error", "code", ev.errorCode(), "message", ev.errorMessage())
		if ev.Error != nil && ev.Error.Type == "invalid_request_error" && ev.Error.Code == "session_expired" {
			return msg, voice.NewConnectionError("session expired", errors.New(ev.errorMessage()), false)
		}
	}

	return msg, nil
}

func (e *openAIEvent) errorCode() string {
	if e.Error == nil {
		return ""
	}
	return e.Error.Code
}

// Ensure OpenAI implements voice.Dialer at compile time.
var _ voice.Dialer = (*OpenAI)(nil)

func init() {
	voice.Register(voice.ProviderOpenAI, func(cfg voice.Config) (voice.Dialer, error) {
		return NewOpenAI(cfg)
	})
}
