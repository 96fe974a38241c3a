package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4 << 20
)

// Client represents a websocket client connection.
type Client struct {
	ID string

	conn *websocket.Conn
	log  *slog.Logger

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

// NewClient constructs a client wrapper.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.NewString()
	conn.SetReadLimit(maxMessageSize)
	return &Client{ID: id, conn: conn, log: logger.With("client_id", id)}
}

// Send writes a message to the websocket connection.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "error", err)
		c.closed = true
		_ = c.conn.Close()
		return err
	}
	return nil
}

// ReadLoop delivers inbound text frames to handle until the connection fails.
func (c *Client) ReadLoop(handle func([]byte)) error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		handle(data)
	}
}

// Close terminates the connection.
func (c *Client) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		_ = c.conn.Close()
	})
}
