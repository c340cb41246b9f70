package ws

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// EventName is the SSE event type carrying job lifecycle payloads.
const EventName = "job"

// SSEClient streams job events as Server-Sent Events.
type SSEClient struct {
	mu        sync.Mutex
	w         io.Writer
	flusher   http.Flusher
	deadline  func(time.Time) error
	log       *slog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// NewSSEClient wraps a response writer that has already sent SSE headers.
func NewSSEClient(w io.Writer, flusher http.Flusher, logger *slog.Logger) *SSEClient {
	return &SSEClient{w: w, flusher: flusher, log: logger, done: make(chan struct{})}
}

// WithWriteDeadline makes every frame write fail once writeWait elapses.
// set is typically http.ResponseController.SetWriteDeadline.
func (c *SSEClient) WithWriteDeadline(set func(time.Time) error) *SSEClient {
	c.deadline = set
	return c
}

// Send writes payload as a named job event.
func (c *SSEClient) Send(payload []byte) error {
	return c.write(fmt.Sprintf("event: %s\ndata: %s\n\n", EventName, payload))
}

// Heartbeat writes a comment frame so idle proxies keep the stream open.
func (c *SSEClient) Heartbeat() error {
	return c.write(": keepalive\n\n")
}

func (c *SSEClient) write(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return io.EOF
	}
	if c.deadline != nil {
		_ = c.deadline(time.Now().Add(writeWait))
	}
	if _, err := io.WriteString(c.w, frame); err != nil {
		c.log.Warn("sse write failed", "error", err)
		c.Close()
		return err
	}
	c.flusher.Flush()
	return nil
}

func (c *SSEClient) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close marks the stream closed. It does not wait for an in-flight write.
func (c *SSEClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed when the stream can no longer be written.
func (c *SSEClient) Done() <-chan struct{} {
	return c.done
}
