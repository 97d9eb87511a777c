package bundled

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/voiceops/pkg/voice"
)

// conn is the websocket plumbing shared by the bundled transports: a single
// reader goroutine, serialized writes, and an idempotent close.
type conn struct {
	ws     *websocket.Conn
	wsMu   sync.Mutex
	logger *slog.Logger

	messages chan voice.Message
	done     chan struct{}

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	err       error
}

// decodeFunc turns one frame into a message. A non-nil error ends the
// session and becomes the transport error.
type decodeFunc func(data []byte) (voice.Message, error)

func newConn(ws *websocket.Conn, logger *slog.Logger) *conn {
	return &conn{
		ws:       ws,
		logger:   logger,
		messages: make(chan voice.Message, 64),
		done:     make(chan struct{}),
	}
}

// start launches the read loop and, unless interval is negative, the pinger.
func (c *conn) start(decode decodeFunc, interval time.Duration) {
	go c.readLoop(decode)
	if interval >= 0 {
		if interval == 0 {
			interval = 20 * time.Second
		}
		go c.keepAlive(interval)
	}
}

func (c *conn) Messages() <-chan voice.Message {
	return c.messages
}

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a close frame and tears the connection down.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)

		c.wsMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.wsMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// sendJSON sends a JSON message over WebSocket.
func (c *conn) sendJSON(ctx context.Context, v any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return voice.ErrNotConnected
	}

	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.ws.SetWriteDeadline(deadline)
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	if err := c.ws.WriteJSON(v); err != nil {
		return voice.NewConnectionError("write", err, true)
	}
	return nil
}

func (c *conn) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				c.logger.Debug("keepalive ping failed", "error", err)
				return
			}
		}
	}
}

// readLoop processes incoming WebSocket messages until the connection ends.
func (c *conn) readLoop(decode decodeFunc) {
	defer close(c.messages)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.err = classifyReadError(err)
			}
			c.mu.Unlock()
			return
		}

		msg, err := decode(data)
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			c.ws.Close()
			return
		}
		if msg.Empty() {
			continue
		}
		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}

// classifyReadError maps websocket read failures onto voice errors.
func classifyReadError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway {
			return fmt.Errorf("%w: %s", voice.ErrConnectionClosed, ce.Text)
		}
		return voice.NewConnectionError(fmt.Sprintf("closed with code %d", ce.Code), err, ce.Code == websocket.CloseAbnormalClosure)
	}
	return voice.NewConnectionError("read", err, true)
}
