package realtime

import (
	"sync"
	"sync/atomic"

	"carads/cmd/internal/auth"
	v1 "carads/contracts/realtime/v1"
)

// Client represents one connected websocket session.
//
// Design notes:
// - Send is never closed by the server, so concurrent broadcasters cannot panic.
// - done signals the connection goroutines to stop; Close is idempotent.
// - A client closed by the hub (slow consumer) records why in CloseReason.
type Client struct {
	SessionID string
	Identity  auth.Identity
	Send      chan v1.Envelope

	done        chan struct{}
	closeOnce   sync.Once
	closeReason atomic.Pointer[string]
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID string, id auth.Identity, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		Identity:  id,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep broadcast safe under concurrency.
func (c *Client) Close() {
	c.CloseWithReason("")
}

// CloseWithReason is Close that records reason when it is the first close.
func (c *Client) CloseWithReason(reason string) {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		if reason != "" {
			c.closeReason.Store(&reason)
		}
		close(c.done)
	})
}

// CloseReason returns the reason given to the first CloseWithReason, if any.
func (c *Client) CloseReason() string {
	if c == nil {
		return ""
	}
	if p := c.closeReason.Load(); p != nil {
		return *p
	}
	return ""
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// offer enqueues env without blocking. full is true when the queue had no room.
func (c *Client) offer(env v1.Envelope) (sent, full bool) {
	if c.Closed() {
		return false, false
	}
	select {
	case c.Send <- env:
		return true, false
	default:
		return false, true
	}
}
