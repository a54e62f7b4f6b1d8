package ws

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

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

// NewSSEClient builds an SSE client instance.
func NewSSEClient(writer io.Writer, flusher http.Flusher, logger *slog.Logger) *SSEClient {
	return &SSEClient{writer: writer, flusher: flusher, log: logger, done: make(chan struct{}), last: time.Now().UTC()}
}

// Send emits a state event to the SSE stream.
func (c *SSEClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if _, err := fmt.Fprintf(c.writer, "event: state\ndata: %s\n\n", payload); err != nil {
		c.closeLocked()
		c.log.Warn("sse send failed", "error", err)
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if _, err := fmt.Fprint(c.writer, ": ping\n\n"); err != nil {
		c.closeLocked()
		c.log.Warn("sse heartbeat failed", "error", err)
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *SSEClient) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// Done is closed once the stream has been closed by either side.
func (c *SSEClient) Done() <-chan struct{} {
	return c.done
}

// LastActivity reports the timestamp of the most recent successful write.
func (c *SSEClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
