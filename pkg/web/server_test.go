package web

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/teslashibe/voiceops/pkg/audioio"
	"github.com/teslashibe/voiceops/pkg/callaudio"
	"github.com/teslashibe/voiceops/pkg/capture"
	"github.com/teslashibe/voiceops/pkg/crm"
	"github.com/teslashibe/voiceops/pkg/playback"
	"github.com/teslashibe/voiceops/pkg/session"
	"github.com/teslashibe/voiceops/pkg/telemetry"
	"github.com/teslashibe/voiceops/pkg/tools"
	"github.com/teslashibe/voiceops/pkg/voice"
)

type testServer struct {
	*Server
	dialer *voice.MockDialer
	store  *crm.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := crm.NewStore()
	metrics := telemetry.NewMetrics("test")
	dispatcher := tools.NewDispatcher(store, tools.WithMetrics(metrics))
	dialer := voice.NewMockDialer()
	out := audioio.NewMockOutput(0)

	mic := session.SourceMic(func() (audioio.Source, error) {
		return audioio.NewMockSource(audioio.DefaultInputConfig(), nil), nil
	}, capture.DefaultConfig())

	sess, err := session.New(session.Deps{
		Dialer: dialer,
		Mic:    mic,
		Player: playback.New(out),
		Tools:  dispatcher,
	}, session.Config{}, session.WithMetrics(metrics))
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(func() { sess.End() })

	srv, err := NewServer(":0", Deps{
		Session:  sess,
		Store:    store,
		Tools:    dispatcher,
		Calls:    callaudio.NewMonitor(callaudio.Config{BaseURL: "ws://127.0.0.1:1/calls"}, out),
		Metrics:  metrics,
		Defaults: session.StartOptions{SystemInstruction: "default instruction", VoiceID: "Puck"},
	}, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return &testServer{Server: srv, dialer: dialer, store: store}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(t, http.MethodGet, "/healthz", "")
	if code != http.StatusOK || !bytes.Contains(body, []byte(`"session":"idle"`)) {
		t.Errorf("healthz = %d %s", code, body)
	}
}

func TestBookings(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodGet, "/api/bookings", "")
	if code != http.StatusOK {
		t.Fatalf("list = %d", code)
	}
	var all []crm.Booking
	json.Unmarshal(body, &all)
	if len(all) != ts.store.Len() {
		t.Errorf("listed %d of %d bookings", len(all), ts.store.Len())
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].FlightDate < all[i].FlightDate {
			t.Errorf("not sorted newest first at %d", i)
		}
	}

	code, body = ts.do(t, http.MethodGet, "/api/bookings/TK100001", "")
	if code != http.StatusOK || !bytes.Contains(body, []byte(`"pnr":"TK100001"`)) {
		t.Errorf("get = %d %s", code, body)
	}

	code, _ = ts.do(t, http.MethodGet, "/api/bookings/NOPE", "")
	if code != http.StatusNotFound {
		t.Errorf("missing booking = %d", code)
	}

	code, body = ts.do(t, http.MethodGet, "/api/bookings?limit=1", "")
	var limited []crm.Booking
	json.Unmarshal(body, &limited)
	if code != http.StatusOK || len(limited) != 1 {
		t.Errorf("limit=1 returned %d bookings (%d)", len(limited), code)
	}

	code, _ = ts.do(t, http.MethodGet, "/api/bookings?limit=abc", "")
	if code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", code)
	}
}

func TestTools(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodGet, "/api/tools", "")
	var schemas []tools.Schema
	json.Unmarshal(body, &schemas)
	if code != http.StatusOK || len(schemas) != 8 {
		t.Fatalf("tools = %d, %d schemas", code, len(schemas))
	}

	code, body = ts.do(t, http.MethodPost, "/api/tools/crm_add_booking_note", `{"args":{"pnr":"TK100001","text":"called back"}}`)
	if code != http.StatusOK || !bytes.Contains(body, []byte(`"ok":true`)) {
		t.Errorf("dispatch = %d %s", code, body)
	}
	b, _ := ts.store.Get("TK100001")
	if n := len(b.Notes); n == 0 || b.Notes[n-1].Text != "called back" {
		t.Errorf("note not added: %+v", b.Notes)
	}

	code, body = ts.do(t, http.MethodPost, "/api/tools/crm_get_booking_by_pnr", `{"args":{}}`)
	if code != http.StatusUnprocessableEntity || !bytes.Contains(body, []byte(`"ok":false`)) {
		t.Errorf("invalid args = %d %s", code, body)
	}

	code, body = ts.do(t, http.MethodPost, "/api/tools/nope", "")
	if code != http.StatusNotFound || !bytes.Contains(body, []byte("Unknown tool: nope")) {
		t.Errorf("unknown tool = %d %s", code, body)
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, http.MethodPost, "/api/session/mic/pause", "")
	if code != http.StatusConflict {
		t.Errorf("pause while idle = %d", code)
	}

	code, body := ts.do(t, http.MethodPost, "/api/session/start", `{"voice_id":"Kore","tools":["crm_get_booking_by_pnr"]}`)
	if code != http.StatusCreated || !bytes.Contains(body, []byte(`"phase":"active"`)) {
		t.Fatalf("start = %d %s", code, body)
	}
	cfg := ts.dialer.Configs()[0]
	if cfg.VoiceID != "Kore" || cfg.SystemInstruction != "default instruction" || len(cfg.Tools) != 1 {
		t.Errorf("session config = %+v", cfg)
	}

	code, _ = ts.do(t, http.MethodPost, "/api/session/start", "")
	if code != http.StatusConflict {
		t.Errorf("second start = %d", code)
	}

	code, body = ts.do(t, http.MethodPost, "/api/session/mic/pause", "")
	if code != http.StatusOK || !bytes.Contains(body, []byte(`"mic_paused":true`)) {
		t.Errorf("pause = %d %s", code, body)
	}

	code, body = ts.do(t, http.MethodPost, "/api/session/end", "")
	if code != http.StatusOK || !bytes.Contains(body, []byte(`"phase":"idle"`)) {
		t.Errorf("end = %d %s", code, body)
	}
	code, _ = ts.do(t, http.MethodPost, "/api/session/end", "")
	if code != http.StatusOK {
		t.Errorf("second end = %d", code)
	}
}

func TestSessionStart_UnknownTool(t *testing.T) {
	ts := newTestServer(t)
	code, _ := ts.do(t, http.MethodPost, "/api/session/start", `{"tools":["crm_launch_rocket"]}`)
	if code != http.StatusBadRequest {
		t.Errorf("start = %d", code)
	}
	if ts.dialer.Dials() != 0 {
		t.Error("dialed with an invalid tool list")
	}
}

func TestCalls(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodGet, "/api/calls", "")
	if code != http.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("calls = %d %s", code, body)
	}

	code, _ = ts.do(t, http.MethodPost, "/api/calls/abc/listen", "")
	if code != http.StatusBadGateway {
		t.Errorf("listen to unreachable service = %d", code)
	}

	code, _ = ts.do(t, http.MethodDelete, "/api/calls/abc/listen", "")
	if code != http.StatusNotFound {
		t.Errorf("stop unknown call = %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/tools/crm_list_recent_bookings", "")

	code, body := ts.do(t, http.MethodGet, "/metrics", "")
	if code != http.StatusOK || !bytes.Contains(body, []byte("test_tool_calls_total")) {
		t.Errorf("metrics = %d, missing tool counter", code)
	}
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	ts := newTestServer(t)
	code, _ := ts.do(t, http.MethodGet, "/ws/crm", "")
	if code != http.StatusUpgradeRequired {
		t.Errorf("plain GET /ws/crm = %d", code)
	}
}
