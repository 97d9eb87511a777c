package bundled

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/voiceops/pkg/tools"
	"github.com/teslashibe/voiceops/pkg/voice"
)

// fakeGemini is a minimal Gemini Live peer. The handler runs after the
// setup message has been read and acknowledged.
type fakeGemini struct {
	srv   *httptest.Server
	setup chan map[string]any
	recv  chan map[string]any
}

func newFakeGemini(t *testing.T, ack bool, handler func(ws *websocket.Conn)) *fakeGemini {
	t.Helper()
	f := &fakeGemini{
		setup: make(chan map[string]any, 1),
		recv:  make(chan map[string]any, 16),
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			http.Error(w, "bad key", http.StatusForbidden)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		var setup map[string]any
		if err := ws.ReadJSON(&setup); err != nil {
			return
		}
		f.setup <- setup
		if !ack {
			time.Sleep(time.Second)
			return
		}
		// Gemini sends JSON in binary frames.
		ws.WriteMessage(websocket.BinaryMessage, []byte(`{"setupComplete":{}}`))

		go func() {
			for {
				var msg map[string]any
				if err := ws.ReadJSON(&msg); err != nil {
					return
				}
				f.recv <- msg
			}
		}()
		handler(ws)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGemini) dialer(t *testing.T) *Gemini {
	t.Helper()
	g, err := NewGemini(voice.Config{
		Provider:  voice.ProviderGemini,
		APIKey:    "test-key",
		Endpoint:  "ws" + strings.TrimPrefix(f.srv.URL, "http"),
		KeepAlive: -1,
	})
	if err != nil {
		t.Fatalf("NewGemini: %v", err)
	}
	return g
}

func nextMessage(t *testing.T, tr voice.Transport) voice.Message {
	t.Helper()
	select {
	case msg, ok := <-tr.Messages():
		if !ok {
			t.Fatalf("messages closed: %v", tr.Err())
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return voice.Message{}
}

func TestNewGemini_MissingKey(t *testing.T) {
	if _, err := NewGemini(voice.Config{Provider: voice.ProviderGemini}); !errors.Is(err, voice.ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestRegistered(t *testing.T) {
	d, err := voice.NewDialer(voice.Config{Provider: voice.ProviderGemini, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	if _, ok := d.(*Gemini); !ok {
		t.Fatalf("expected *Gemini, got %T", d)
	}
}

func TestDial_SendsSetup(t *testing.T) {
	f := newFakeGemini(t, true, func(ws *websocket.Conn) {
		time.Sleep(100 * time.Millisecond)
	})

	tr, err := f.dialer(t).Dial(context.Background(), voice.SessionConfig{
		SystemInstruction: "Be brief.",
		VoiceID:           "Kore",
		Tools:             []tools.Schema{{Name: "crm_get_booking_by_pnr", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	setup := (<-f.setup)["setup"].(map[string]any)
	if setup["model"] != geminiDefaultModel {
		t.Errorf("model = %v", setup["model"])
	}
	voiceName := setup["generationConfig"].(map[string]any)["speechConfig"].(map[string]any)["voiceConfig"].(map[string]any)["prebuiltVoiceConfig"].(map[string]any)["voiceName"]
	if voiceName != "Kore" {
		t.Errorf("voiceName = %v", voiceName)
	}
	decls := setup["tools"].([]any)[0].(map[string]any)["functionDeclarations"].([]any)
	if len(decls) != 1 || decls[0].(map[string]any)["name"] != "crm_get_booking_by_pnr" {
		t.Errorf("unexpected function declarations: %v", decls)
	}
	if _, ok := setup["inputAudioTranscription"]; !ok {
		t.Error("input transcription not requested")
	}
}

func TestDial_CanceledBeforeSetupComplete(t *testing.T) {
	f := newFakeGemini(t, false, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := f.dialer(t).Dial(ctx, voice.SessionConfig{})
	if err == nil {
		t.Fatal("expected error when setup never completes")
	}
}

func TestTransport_InboundMessages(t *testing.T) {
	audio := []byte{0x01, 0x00, 0xff, 0x7f}
	f := newFakeGemini(t, true, func(ws *websocket.Conn) {
		ws.WriteJSON(map[string]any{
			"serverContent": map[string]any{
				"inputTranscription": map[string]any{"text": "where is my "},
			},
		})
		ws.WriteJSON(map[string]any{
			"serverContent": map[string]any{
				"inputTranscription": map[string]any{"text": "booking"},
			},
		})
		ws.WriteJSON(map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{"parts": []any{
					map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": base64.StdEncoding.EncodeToString(audio)}},
					map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "!!not base64!!"}},
				}},
				"outputTranscription": map[string]any{"text": "Let me check."},
			},
		})
		ws.WriteJSON(map[string]any{
			"toolCall": map[string]any{"functionCalls": []any{
				map[string]any{"id": "c1", "name": "crm_get_booking_by_pnr", "args": map[string]any{"pnr": "TK100001"}},
				map[string]any{"id": "c2", "name": "crm_list_recent_bookings", "args": map[string]any{}},
			}},
		})
		ws.WriteJSON(map[string]any{"toolCallCancellation": map[string]any{"ids": []string{"c2"}}})
		ws.WriteJSON(map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		ws.WriteJSON(map[string]any{"serverContent": map[string]any{"interrupted": true}})
		time.Sleep(200 * time.Millisecond)
	})

	tr, err := f.dialer(t).Dial(context.Background(), voice.SessionConfig{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	msg := nextMessage(t, tr)
	if len(msg.Transcripts) != 1 || msg.Transcripts[0].Text != "where is my " || msg.Transcripts[0].Final {
		t.Fatalf("unexpected first transcript: %+v", msg.Transcripts)
	}

	msg = nextMessage(t, tr)
	if msg.Transcripts[0].Text != "where is my booking" {
		t.Fatalf("transcript not accumulated: %+v", msg.Transcripts)
	}

	msg = nextMessage(t, tr)
	if len(msg.Audio) != 1 || string(msg.Audio[0]) != string(audio) {
		t.Fatalf("unexpected audio: %v", msg.Audio)
	}
	if msg.DecodeErrors != 1 {
		t.Errorf("DecodeErrors = %d, want 1", msg.DecodeErrors)
	}
	var userFinal, modelPartial bool
	for _, d := range msg.Transcripts {
		if d.Role == voice.RoleUser && d.Final && d.Text == "where is my booking" {
			userFinal = true
		}
		if d.Role == voice.RoleModel && !d.Final && d.Text == "Let me check." {
			modelPartial = true
		}
	}
	if !userFinal || !modelPartial {
		t.Errorf("unexpected transcripts: %+v", msg.Transcripts)
	}

	msg = nextMessage(t, tr)
	if len(msg.ToolCalls) != 2 || msg.ToolCalls[0].ID != "c1" || msg.ToolCalls[0].Args["pnr"] != "TK100001" {
		t.Fatalf("unexpected tool calls: %+v", msg.ToolCalls)
	}

	msg = nextMessage(t, tr)
	if len(msg.ToolCallCancellations) != 1 || msg.ToolCallCancellations[0] != "c2" {
		t.Fatalf("unexpected cancellations: %+v", msg.ToolCallCancellations)
	}

	msg = nextMessage(t, tr)
	if !msg.TurnComplete {
		t.Fatal("expected TurnComplete")
	}
	if len(msg.Transcripts) != 1 || msg.Transcripts[0].Role != voice.RoleModel || !msg.Transcripts[0].Final {
		t.Errorf("expected final model transcript on turn complete: %+v", msg.Transcripts)
	}

	msg = nextMessage(t, tr)
	if !msg.Interrupted {
		t.Fatal("expected Interrupted")
	}
}

func TestTransport_Outbound(t *testing.T) {
	f := newFakeGemini(t, true, func(ws *websocket.Conn) {
		time.Sleep(300 * time.Millisecond)
	})

	tr, err := f.dialer(t).Dial(context.Background(), voice.SessionConfig{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	ctx := context.Background()
	if err := tr.SendAudio(ctx, []byte{0x00, 0x40}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	err = tr.SendToolResponse(ctx, []voice.ToolResult{
		{CallID: "c1", Name: "crm_get_booking_by_pnr", Result: tools.Success(nil)},
		{CallID: "c2", Name: "nope", Result: tools.Failure("Unknown tool: nope")},
	})
	if err != nil {
		t.Fatalf("SendToolResponse: %v", err)
	}

	recv := func() map[string]any {
		select {
		case m := <-f.recv:
			return m
		case <-time.After(2 * time.Second):
			t.Fatal("server did not receive message")
		}
		return nil
	}

	audio := recv()["realtimeInput"].(map[string]any)["audio"].(map[string]any)
	if audio["mimeType"] != "audio/pcm;rate=16000" || audio["data"] != base64.StdEncoding.EncodeToString([]byte{0x00, 0x40}) {
		t.Errorf("unexpected audio payload: %v", audio)
	}

	resp := recv()["toolResponse"].(map[string]any)["functionResponses"].([]any)
	if len(resp) != 2 {
		t.Fatalf("expected both results in one message, got %d", len(resp))
	}
	first, _ := json.Marshal(resp[0])
	if !strings.Contains(string(first), `"id":"c1"`) || !strings.Contains(string(first), `"ok":true`) {
		t.Errorf("unexpected first response: %s", first)
	}
}

func TestTransport_RemoteCloseReportsError(t *testing.T) {
	f := newFakeGemini(t, true, func(ws *websocket.Conn) {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "boom"),
			time.Now().Add(time.Second))
	})

	tr, err := f.dialer(t).Dial(context.Background(), voice.SessionConfig{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	select {
	case _, ok := <-tr.Messages():
		if ok {
			t.Fatal("expected messages channel to close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("messages channel not closed")
	}

	var connErr *voice.ConnectionError
	if !errors.As(tr.Err(), &connErr) {
		t.Fatalf("expected ConnectionError, got %v", tr.Err())
	}
}

func TestTransport_LocalCloseHasNoError(t *testing.T) {
	f := newFakeGemini(t, true, func(ws *websocket.Conn) {
		time.Sleep(500 * time.Millisecond)
	})

	tr, err := f.dialer(t).Dial(context.Background(), voice.SessionConfig{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	tr.Close()

	for range tr.Messages() {
	}
	if tr.Err() != nil {
		t.Errorf("Err after local close = %v, want nil", tr.Err())
	}
	if err := tr.SendAudio(context.Background(), []byte{0, 0}); !errors.Is(err, voice.ErrNotConnected) {
		t.Errorf("SendAudio after close = %v, want ErrNotConnected", err)
	}
}
