package perfwatch

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const defaultWriteTimeout = 5 * time.Second

// LiveConn is an open bidirectional message connection. Writes are serialized by
// the caller; Close may be called concurrently with reads and writes.
type LiveConn interface {
	WriteMessage(payload []byte) error
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens live connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (LiveConn, error)
}

// WebSocketDialer dials relays with gorilla/websocket.
type WebSocketDialer struct {
	Dialer       *websocket.Dialer
	Header       http.Header
	WriteTimeout time.Duration
}

// Dial opens a websocket connection to url.
func (d WebSocketDialer) Dial(ctx context.Context, url string) (LiveConn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	timeout := d.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &wsConn{conn: conn, writeTimeout: timeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) WriteMessage(payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
