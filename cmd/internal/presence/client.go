package presence

import "sync"

// Client represents one connected websocket session for an identity.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from concurrent broadcasters.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
type Client struct {
	// Identity is the registry key the session is registered under.
	Identity string
	// SessionID is a ULID distinguishing this connection in logs; two
	// consecutive connections for the same identity have different ids.
	SessionID string
	Send      chan Event

	done      chan struct{}
	closeOnce sync.Once

	// evict is installed by the gateway before registration. The hub invokes
	// it during duplicate-session arbitration to notify the peer and close
	// the underlying transport with the superseded status.
	evict func(notice Event)
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(identity, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		Identity:  identity,
		SessionID: sessionID,
		Send:      make(chan Event, sendQueueSize),
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

// Closed reports whether the client has been signaled to shut down.
func (c *Client) Closed() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// TrySend enqueues ev without blocking. It returns false when the client is
// shutting down or its queue is full; callers decide whether that means
// "disconnect" (Closed) or "drop under backpressure".
func (c *Client) TrySend(ev Event) bool {
	if c == nil || c.Closed() {
		return false
	}
	select {
	case c.Send <- ev:
		return true
	default:
		return false
	}
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep broadcast safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// supersede delivers the replaced notice over the evict hook (when the
// gateway installed one) and then shuts the client down. Called by the hub
// with the identity slot held, so the notice always precedes the close and
// no window exists where both sessions look live.
func (c *Client) supersede(notice Event) {
	if c == nil {
		return
	}
	if c.evict != nil {
		c.evict(notice)
	}
	c.Close()
}
