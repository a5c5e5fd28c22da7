package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned when a message is sent or read before the
// transport has connected, or after it was closed.
var ErrNotConnected = errors.New("transport not connected")

// Transport abstracts the websocket connection so the monitor's reconnect
// logic can be exercised against an in-memory implementation.
type Transport interface {
	Connect(ctx context.Context, url string) error
	Send(message []byte) error
	Receive() ([]byte, error)
	Close() error
}

// Dialer creates a fresh Transport for each connection attempt.
type Dialer func() Transport

// WebsocketTransport is the production Transport backed by gorilla/websocket.
// Reads are single-consumer; writes are serialized by a mutex since gorilla
// connections support only one concurrent writer.
type WebsocketTransport struct {
	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
}

func NewWebsocketTransport() Transport {
	return &WebsocketTransport{}
}

func (t *WebsocketTransport) Connect(ctx context.Context, url string) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return fmt.Errorf("websocket dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return fmt.Errorf("websocket dial %s: %w", url, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

func (t *WebsocketTransport) Send(message []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, message)
}

func (t *WebsocketTransport) Receive() ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	_, data, err := conn.ReadMessage()
	return data, err
}

// Close tears down the connection. A blocked Receive returns with an error.
func (t *WebsocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
