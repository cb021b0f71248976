package notify

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Wait once the channel has been closed.
var ErrClosed = errors.New("notification channel closed")

// Channel is a one-bit wakeup: producers set a "work pending" flag and wake
// the consumer. Multiple signals before the consumer drains coalesce into
// one wakeup. Signal never blocks, so any thread may call it.
//
// The zero value is not usable; create channels with New.
type Channel struct {
	name string

	mu      sync.Mutex
	pending bool
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// New creates an empty channel.
func New(name string) *Channel {
	return &Channel{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Signal marks work pending and wakes the consumer. It returns false if the
// flag was already set (the wakeup coalesced) or the channel is closed.
func (c *Channel) Signal() bool {
	c.mu.Lock()
	if c.closed || c.pending {
		c.mu.Unlock()
		return false
	}
	c.pending = true
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// Pending reports whether work is flagged.
func (c *Channel) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Drain clears the pending flag and reports whether it was set. Consumers
// call it before processing their queue so that a signal arriving during
// processing produces a fresh wakeup.
func (c *Channel) Drain() bool {
	c.mu.Lock()
	was := c.pending
	c.pending = false
	c.mu.Unlock()

	select {
	case <-c.wake:
	default:
	}
	return was
}

// C returns the wakeup channel for use in a select. A receive does not
// clear the flag; call Drain.
func (c *Channel) C() <-chan struct{} {
	return c.wake
}

// Done is closed by Close.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until work is pending, then drains the flag. It returns
// ErrClosed after Close and ctx.Err() on cancellation.
func (c *Channel) Wait(ctx context.Context) error {
	for {
		if c.Drain() {
			return nil
		}
		select {
		case <-c.wake:
		case <-c.done:
			if c.Drain() {
				return nil
			}
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close wakes any waiter with ErrClosed and makes later signals no-ops.
// Work already pending is still delivered by the next Wait.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Pair holds the two independent channels the command dispatcher consumes:
// one for console input and one for the control socket.
type Pair struct {
	Console *Channel
	Socket  *Channel
}

// NewPair creates both channels.
func NewPair() *Pair {
	return &Pair{
		Console: New("console"),
		Socket:  New("socket"),
	}
}

// Close closes both channels.
func (p *Pair) Close() {
	p.Console.Close()
	p.Socket.Close()
}
