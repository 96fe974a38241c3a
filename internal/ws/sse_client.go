package ws

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ErrStreamingUnsupported is returned when the response writer cannot flush.
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// SSEClient streams Server-Sent Events over an HTTP response writer.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	closed  bool
	done    chan struct{}
	last    time.Time
}

// NewSSEClient writes the event-stream headers and returns a client for w.
func NewSSEClient(w http.ResponseWriter, logger *slog.Logger) (*SSEClient, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEClient{
		writer:  w,
		flusher: flusher,
		log:     logger,
		done:    make(chan struct{}),
		last:    time.Now().UTC(),
	}, nil
}

// Send emits a data event to the SSE stream.
func (c *SSEClient) Send(payload []byte) error {
	return c.write("data: %s\n\n", payload)
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	return c.write(": ping\n\n")
}

func (c *SSEClient) write(format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if _, err := fmt.Fprintf(c.writer, format, args...); err != nil {
		c.closeLocked()
		c.log.Warn("sse write failed", "error", err)
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Close marks the stream as closed and releases Done waiters.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *SSEClient) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Done is closed once the stream is closed.
func (c *SSEClient) Done() <-chan struct{} {
	return c.done
}

// LastActivity reports the timestamp of the most recent successful write.
func (c *SSEClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
