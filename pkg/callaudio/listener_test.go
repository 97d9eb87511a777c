package callaudio

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/voiceops/pkg/audioio"
	"github.com/teslashibe/voiceops/pkg/pcm"
)

// fakeCallService serves every path with handler.
func fakeCallService(t *testing.T, handler func(ws *websocket.Conn, r *http.Request)) Config {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws, r)
	}))
	t.Cleanup(srv.Close)
	return Config{BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/calls"}
}

func closeWith(ws *websocket.Conn, code int, text string) {
	ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

// samples100ms is 100ms of 16kHz PCM16.
var samples100ms = pcm.FloatToPCM(make([]float32, 1600))

func TestConfigURL(t *testing.T) {
	tests := []struct {
		base, id, want string
	}{
		{"wss://calls.example.com/listen", "abc", "wss://calls.example.com/listen/abc"},
		{"wss://calls.example.com/listen/", "abc", "wss://calls.example.com/listen/abc"},
		{"wss://calls.example.com/{call_id}/audio", "a b", "wss://calls.example.com/a%20b/audio"},
	}
	for _, tt := range tests {
		got, err := Config{BaseURL: tt.base}.URL(tt.id)
		if err != nil {
			t.Fatalf("URL(%q): %v", tt.id, err)
		}
		if got != tt.want {
			t.Errorf("URL(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
	if _, err := (Config{BaseURL: "wss://x"}).URL(""); !errors.Is(err, ErrMissingCallID) {
		t.Errorf("empty id = %v", err)
	}
}

func TestListener_PlaysBinaryAndJSONFrames(t *testing.T) {
	paths := make(chan string, 1)
	cfg := fakeCallService(t, func(ws *websocket.Conn, r *http.Request) {
		paths <- r.URL.Path
		ws.WriteMessage(websocket.BinaryMessage, samples100ms)
		ws.WriteMessage(websocket.TextMessage, []byte(`{"status":"connected"}`))
		ws.WriteJSON(map[string]string{"data": base64.StdEncoding.EncodeToString(samples100ms)})
		ws.WriteJSON(map[string]string{"data": "***"})
		ws.WriteMessage(websocket.TextMessage, []byte(`not json`))
		ws.WriteMessage(websocket.BinaryMessage, samples100ms)
		closeWith(ws, websocket.CloseNormalClosure, "call ended")
	})

	out := audioio.NewMockOutput(audioio.OutputSampleRate)
	l := NewListener(cfg, out)

	if err := l.Run(context.Background(), "call-42"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if path := <-paths; path != "/calls/call-42" {
		t.Errorf("path = %q", path)
	}

	voices := out.Voices()
	if len(voices) != 3 {
		t.Fatalf("expected 3 scheduled frames, got %d", len(voices))
	}
	for i, want := range []float64{0, 0.1, 0.2} {
		if d := voices[i].At - want; d > 1e-9 || d < -1e-9 {
			t.Errorf("frame %d at %v, want %v", i, voices[i].At, want)
		}
	}
	for _, v := range voices {
		if !v.Stopped() {
			t.Error("playback not stopped when the call ended")
		}
	}

	st := l.Stats()
	if st.FramesPlayed != 3 || st.FramesDropped != 2 {
		t.Errorf("stats = %+v", st)
	}
	if l.Listening() {
		t.Error("still listening after close")
	}
}

func TestListener_StreamErrorTerminates(t *testing.T) {
	cfg := fakeCallService(t, func(ws *websocket.Conn, r *http.Request) {
		ws.WriteJSON(map[string]string{"status": "error", "message": "call not found"})
		ws.WriteMessage(websocket.BinaryMessage, samples100ms)
		time.Sleep(100 * time.Millisecond)
	})

	out := audioio.NewMockOutput(0)
	err := NewListener(cfg, out).Run(context.Background(), "nope")

	var se *StreamError
	if !errors.As(err, &se) || se.Message != "call not found" {
		t.Fatalf("Run = %v, want StreamError", err)
	}
	if len(out.Voices()) != 0 {
		t.Error("audio after an error frame was played")
	}
}

func TestListener_AbnormalCloseHasHint(t *testing.T) {
	cfg := fakeCallService(t, func(ws *websocket.Conn, r *http.Request) {
		// Drop the TCP connection without a close frame.
		ws.UnderlyingConn().Close()
	})

	err := NewListener(cfg, audioio.NewMockOutput(0)).Run(context.Background(), "expired")
	if !IsInvalidCall(err) {
		t.Fatalf("Run = %v, want abnormal closure", err)
	}
	var ce *CloseError
	errors.As(err, &ce)
	if ce.Hint == "" || !strings.Contains(err.Error(), "invalid") {
		t.Errorf("missing hint: %v", err)
	}
}

func TestListener_OtherCloseCodes(t *testing.T) {
	cfg := fakeCallService(t, func(ws *websocket.Conn, r *http.Request) {
		closeWith(ws, websocket.ClosePolicyViolation, "forbidden")
	})

	err := NewListener(cfg, audioio.NewMockOutput(0)).Run(context.Background(), "x")
	var ce *CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("Run = %v", err)
	}
	if ce.Hint != "" || IsInvalidCall(err) {
		t.Errorf("policy violation should not carry the invalid-call hint: %v", err)
	}
}

func TestListener_AlreadyListeningAndStop(t *testing.T) {
	cfg := fakeCallService(t, func(ws *websocket.Conn, r *http.Request) {
		for {
			if err := ws.WriteMessage(websocket.BinaryMessage, samples100ms); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	})

	out := audioio.NewMockOutput(0)
	l := NewListener(cfg, out)
	if err := l.Listen(context.Background(), "a"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := l.Listen(context.Background(), "b"); !errors.Is(err, ErrAlreadyListening) {
		t.Fatalf("second Listen = %v", err)
	}
	if l.CallID() != "a" {
		t.Errorf("CallID = %q", l.CallID())
	}

	time.Sleep(50 * time.Millisecond)
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if l.Err() != nil {
		t.Errorf("local stop should not be an error: %v", l.Err())
	}
	if l.Scheduler().InFlight() != 0 {
		t.Error("in-flight audio survived Stop")
	}
	if err := l.Stop(); !errors.Is(err, ErrNotListening) {
		t.Errorf("second Stop = %v", err)
	}

	// Explicit reconnect is allowed.
	if err := l.Listen(context.Background(), "a"); err != nil {
		t.Fatalf("re-Listen: %v", err)
	}
	l.Stop()
}

func TestListener_DialFailure(t *testing.T) {
	l := NewListener(Config{BaseURL: "ws://127.0.0.1:1/calls", HandshakeTimeout: time.Second}, audioio.NewMockOutput(0))
	if err := l.Listen(context.Background(), "a"); err == nil {
		t.Fatal("expected dial error")
	}
	if l.Listening() {
		t.Error("failed dial left listener attached")
	}
}

func TestMonitor(t *testing.T) {
	cfg := fakeCallService(t, func(ws *websocket.Conn, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/bad") {
			ws.UnderlyingConn().Close()
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	m := NewMonitor(cfg, audioio.NewMockOutput(0))
	if err := m.Listen(context.Background(), "good"); err != nil {
		t.Fatalf("Listen good: %v", err)
	}
	if err := m.Listen(context.Background(), "good"); !errors.Is(err, ErrAlreadyListening) {
		t.Fatalf("duplicate Listen = %v", err)
	}
	if err := m.Listen(context.Background(), "bad"); err != nil {
		t.Fatalf("Listen bad: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var bad CallStatus
	for time.Now().Before(deadline) {
		for _, st := range m.Status() {
			if st.CallID == "bad" {
				bad = st
			}
		}
		if bad.Error != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if bad.Listening || bad.Hint == "" {
		t.Errorf("bad call status = %+v", bad)
	}

	if err := m.Stop("good"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Stop("good"); !errors.Is(err, ErrNotListening) {
		t.Errorf("second Stop = %v", err)
	}
	m.StopAll()
	if len(m.Status()) != 0 {
		t.Error("StopAll left calls behind")
	}
}

// slowCallService delays every handshake and counts sockets still open on
// the server side.
type slowCallService struct {
	cfg     Config
	arrived chan struct{}
	open    atomic.Int32
}

func newSlowCallService(t *testing.T, delay time.Duration) *slowCallService {
	t.Helper()
	s := &slowCallService{arrived: make(chan struct{}, 8)}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.arrived <- struct{}{}
		time.Sleep(delay)
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.open.Add(1)
		defer s.open.Add(-1)
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	s.cfg = Config{BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/calls"}
	return s
}

func (s *slowCallService) waitOpen(t *testing.T, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.open.Load() != want {
		if time.Now().After(deadline) {
			t.Fatalf("open sockets = %d, want %d", s.open.Load(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMonitor_ConcurrentListenWhileDialing(t *testing.T) {
	svc := newSlowCallService(t, 200*time.Millisecond)
	m := NewMonitor(svc.cfg, audioio.NewMockOutput(0))

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Listen(context.Background(), "c1")
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyListening):
			dup++
		default:
			t.Errorf("Listen = %v", err)
		}
	}
	if ok != 1 || dup != 1 {
		t.Fatalf("Listen results = %v, want one success and one duplicate", errs)
	}
	svc.waitOpen(t, 1)

	m.StopAll()
	svc.waitOpen(t, 0)
}

func TestMonitor_StopDuringDial(t *testing.T) {
	svc := newSlowCallService(t, 200*time.Millisecond)
	m := NewMonitor(svc.cfg, audioio.NewMockOutput(0))

	result := make(chan error, 1)
	go func() { result <- m.Listen(context.Background(), "c2") }()
	<-svc.arrived

	if err := m.Stop("c2"); err != nil {
		t.Fatalf("Stop during dial = %v", err)
	}
	if err := <-result; !errors.Is(err, ErrStopped) {
		t.Fatalf("Listen = %v, want ErrStopped", err)
	}
	if n := len(m.Status()); n != 0 {
		t.Errorf("monitored calls = %d, want 0", n)
	}
	svc.waitOpen(t, 0)
}

func TestListener_StopDuringDial(t *testing.T) {
	svc := newSlowCallService(t, 100*time.Millisecond)
	l := NewListener(svc.cfg, audioio.NewMockOutput(0))

	result := make(chan error, 1)
	go func() { result <- l.Listen(context.Background(), "c3") }()
	<-svc.arrived

	if !l.Active() || l.Listening() {
		t.Fatalf("dialing listener: active=%v listening=%v", l.Active(), l.Listening())
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop = %v", err)
	}
	if l.Active() {
		t.Error("listener still active after Stop returned")
	}
	if err := <-result; !errors.Is(err, ErrStopped) {
		t.Fatalf("Listen = %v, want ErrStopped", err)
	}
	svc.waitOpen(t, 0)
}
