package voice

import (
	"context"
	"sync"
)

// MockTransport is a Transport for testing. Tests push inbound messages with
// Inject and read what was sent from AudioSent and ToolResponses.
type MockTransport struct {
	mu       sync.Mutex
	messages chan Message
	closed   bool
	err      error

	// Configurable behavior
	SendAudioFunc        func(pcm []byte) error
	SendToolResponseFunc func(results []ToolResult) error
	CloseFunc            func() error

	// Captured calls for assertions
	audioSent     [][]byte
	toolResponses [][]ToolResult
	closeCalls    int
}

// NewMockTransport creates an open mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{messages: make(chan Message, 64)}
}

// Inject delivers msg as if the model had sent it. It returns false if the
// transport is closed.
func (m *MockTransport) Inject(msg Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.messages <- msg
	return true
}

// Fail closes the message stream with err, as a dropped connection would.
func (m *MockTransport) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.err = err
	m.closed = true
	close(m.messages)
}

// SendAudio implements Transport.
func (m *MockTransport) SendAudio(ctx context.Context, pcm []byte) error {
	if m.SendAudioFunc != nil {
		return m.SendAudioFunc(pcm)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNotConnected
	}
	m.audioSent = append(m.audioSent, pcm)
	return nil
}

// SendToolResponse implements Transport.
func (m *MockTransport) SendToolResponse(ctx context.Context, results []ToolResult) error {
	if m.SendToolResponseFunc != nil {
		return m.SendToolResponseFunc(results)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNotConnected
	}
	cp := make([]ToolResult, len(results))
	copy(cp, results)
	m.toolResponses = append(m.toolResponses, cp)
	return nil
}

// Messages implements Transport.
func (m *MockTransport) Messages() <-chan Message {
	return m.messages
}

// Err implements Transport.
func (m *MockTransport) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Close implements Transport.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closeCalls++
	if !m.closed {
		m.closed = true
		close(m.messages)
	}
	m.mu.Unlock()

	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// AudioSent returns every chunk passed to SendAudio.
func (m *MockTransport) AudioSent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.audioSent))
	copy(out, m.audioSent)
	return out
}

// ToolResponses returns every batch passed to SendToolResponse.
func (m *MockTransport) ToolResponses() [][]ToolResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]ToolResult, len(m.toolResponses))
	copy(out, m.toolResponses)
	return out
}

// CloseCalls returns how many times Close was called.
func (m *MockTransport) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

// Closed reports whether the message stream has been closed.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockDialer is a Dialer for testing that hands out a new MockTransport per Dial.
type MockDialer struct {
	mu sync.Mutex

	// DialFunc replaces the default behavior when set.
	DialFunc func(ctx context.Context, cfg SessionConfig) (Transport, error)

	// Gate, when non-nil, makes Dial wait until it is closed or ctx ends.
	Gate chan struct{}

	configs    []SessionConfig
	transports []*MockTransport
}

// NewMockDialer creates a mock dialer.
func NewMockDialer() *MockDialer {
	return &MockDialer{}
}

// Dial implements Dialer.
func (d *MockDialer) Dial(ctx context.Context, cfg SessionConfig) (Transport, error) {
	d.mu.Lock()
	d.configs = append(d.configs, cfg)
	gate := d.Gate
	fn := d.DialFunc
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, NewConnectionError("dial canceled", ctx.Err(), false)
		}
	}
	if fn != nil {
		return fn(ctx, cfg)
	}

	t := NewMockTransport()
	d.mu.Lock()
	d.transports = append(d.transports, t)
	d.mu.Unlock()
	return t, nil
}

// Configs returns the session configs passed to Dial.
func (d *MockDialer) Configs() []SessionConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SessionConfig, len(d.configs))
	copy(out, d.configs)
	return out
}

// Last returns the most recently dialed transport, or nil.
func (d *MockDialer) Last() *MockTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// Dials returns how many transports were handed out.
func (d *MockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

var (
	_ Transport = (*MockTransport)(nil)
	_ Dialer    = (*MockDialer)(nil)
)
