// Package lifecycle guards adapter connection setup so that concurrent first
// calls perform exactly one connect attempt.
package lifecycle

import (
	"context"
	"sync"

	errspkg "github.com/drblury/eventport/internal/runtime/errors"
)

// State of a Connector.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connector serializes connect attempts. At most one attempt runs at a time;
// callers arriving meanwhile wait for it (or for their context) and then see
// its outcome. A failed attempt leaves the connector disconnected so the
// next call retries. Once closed it stays closed.
type Connector struct {
	sem   chan struct{}
	mu    sync.Mutex
	state State
}

func NewConnector() *Connector {
	return &Connector{sem: make(chan struct{}, 1)}
}

// Connect runs fn unless already connected. It returns ErrClosed after
// Disconnect, and ctx.Err() if ctx ends while waiting for another attempt.
func (c *Connector) Connect(ctx context.Context, fn func(context.Context) error) error {
	if st := c.State(); st == Connected {
		return nil
	} else if st == Closed {
		return errspkg.ErrClosed
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.sem }()

	c.mu.Lock()
	switch c.state {
	case Connected:
		c.mu.Unlock()
		return nil
	case Closed:
		c.mu.Unlock()
		return errspkg.ErrClosed
	}
	c.state = Connecting
	c.mu.Unlock()

	err := fn(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return errspkg.ErrClosed
	}
	if err != nil {
		c.state = Disconnected
		return err
	}
	c.state = Connected
	return nil
}

// Disconnect moves the connector to Closed and runs fn if a connection was
// established. Only the first call runs fn; later calls return nil. It waits
// for an in-flight connect attempt to finish first.
func (c *Connector) Disconnect(fn func() error) error {
	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	c.mu.Lock()
	prev := c.state
	c.state = Closed
	c.mu.Unlock()

	if prev != Connected || fn == nil {
		return nil
	}
	return fn()
}

// Reset returns a connected connector to Disconnected, e.g. after the broker
// dropped the connection, so the next Connect dials again.
func (c *Connector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Connected {
		c.state = Disconnected
	}
}

func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connector) IsConnected() bool { return c.State() == Connected }

func (c *Connector) IsClosed() bool { return c.State() == Closed }
