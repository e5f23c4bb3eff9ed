package realtime

import (
	"context"
	"sync"
	"time"
)

// Transport is the send side of one client connection.  Send delivers a
// whole text frame and must be safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Connection is a live client registered with a Manager.  Room membership
// is guarded by the Manager's lock; activity and heartbeat state by mu.
type Connection struct {
	ID          string
	UserID      string // "" for anonymous
	ClientInfo  map[string]any
	ConnectedAt time.Time

	transport Transport
	rooms     map[string]struct{}

	mu           sync.Mutex
	lastActivity time.Time
	lastPong     time.Time
	missedPings  int
}

// Touch records inbound activity and clears the heartbeat miss counter.
func (c *Connection) Touch(at time.Time) {
	c.mu.Lock()
	c.lastActivity = at
	c.missedPings = 0
	c.mu.Unlock()
}

// Pong records a heartbeat answer.
func (c *Connection) Pong(at time.Time) {
	c.mu.Lock()
	c.lastActivity = at
	c.lastPong = at
	c.missedPings = 0
	c.mu.Unlock()
}

// ProbeSent counts an outstanding ping and returns the new total.
func (c *Connection) ProbeSent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missedPings++
	return c.missedPings
}

// MissedPings returns the number of unanswered probes.
func (c *Connection) MissedPings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.missedPings
}

func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Connection) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}
