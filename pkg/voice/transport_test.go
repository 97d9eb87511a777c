package voice

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"ok", Config{Provider: ProviderGemini, APIKey: "k"}, nil},
		{"endpoint only", Config{Provider: ProviderGemini, Endpoint: "ws://localhost"}, nil},
		{"missing key", Config{Provider: ProviderGemini}, ErrMissingAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}

	if err := (Config{APIKey: "k"}).Validate(); err == nil {
		t.Error("expected error for empty provider")
	}
}

func TestNewDialer_Registry(t *testing.T) {
	const fake Provider = "fake"
	if _, err := NewDialer(Config{Provider: fake, APIKey: "k"}); !errors.Is(err, ErrProviderNotSupported) {
		t.Fatalf("expected ErrProviderNotSupported, got %v", err)
	}

	md := NewMockDialer()
	Register(fake, func(cfg Config) (Dialer, error) { return md, nil })
	defer delete(factories, fake)

	d, err := NewDialer(Config{Provider: fake, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	if d != Dialer(md) {
		t.Fatal("registered factory not used")
	}
}

func TestMessageEmpty(t *testing.T) {
	if !(Message{}).Empty() {
		t.Error("zero message should be empty")
	}
	if (Message{TurnComplete: true}).Empty() {
		t.Error("turn complete is not empty")
	}
	if (Message{DecodeErrors: 1}).Empty() {
		t.Error("decode errors are not empty")
	}
}

func TestMockTransport(t *testing.T) {
	tr := NewMockTransport()
	ctx := context.Background()

	if err := tr.SendAudio(ctx, []byte{1, 2}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := tr.SendToolResponse(ctx, []ToolResult{{CallID: "a"}}); err != nil {
		t.Fatalf("SendToolResponse: %v", err)
	}
	if !tr.Inject(Message{TurnComplete: true}) {
		t.Fatal("Inject failed on open transport")
	}
	if msg := <-tr.Messages(); !msg.TurnComplete {
		t.Errorf("unexpected message %+v", msg)
	}

	tr.Close()
	tr.Close()
	if tr.CloseCalls() != 2 {
		t.Errorf("CloseCalls = %d", tr.CloseCalls())
	}
	if err := tr.SendAudio(ctx, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendAudio after close = %v", err)
	}
	if tr.Inject(Message{}) {
		t.Error("Inject succeeded after close")
	}
	if len(tr.AudioSent()) != 1 || len(tr.ToolResponses()) != 1 {
		t.Error("captured calls lost")
	}
	if tr.Err() != nil {
		t.Errorf("Err after local close = %v", tr.Err())
	}
}

func TestMockTransport_Fail(t *testing.T) {
	tr := NewMockTransport()
	boom := errors.New("boom")
	tr.Fail(boom)

	if _, ok := <-tr.Messages(); ok {
		t.Fatal("messages not closed")
	}
	if !errors.Is(tr.Err(), boom) {
		t.Errorf("Err = %v", tr.Err())
	}
}

func TestMockDialer_Gate(t *testing.T) {
	d := NewMockDialer()
	d.Gate = make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := d.Dial(ctx, SessionConfig{}); err == nil {
		t.Fatal("expected dial to be canceled")
	}

	close(d.Gate)
	tr, err := d.Dial(context.Background(), SessionConfig{VoiceID: "Kore"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if d.Last() != tr || d.Dials() != 1 {
		t.Error("transport not tracked")
	}
	if cfgs := d.Configs(); len(cfgs) != 2 || cfgs[1].VoiceID != "Kore" {
		t.Errorf("Configs = %+v", cfgs)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewConnectionError("read", errors.New("eof"), true)) {
		t.Error("expected retryable")
	}
	if IsRetryable(ErrConnectionClosed) {
		t.Error("sentinel should not be retryable")
	}
	if !IsNotConnected(ErrConnectionClosed) {
		t.Error("ErrConnectionClosed should count as not connected")
	}
}
