// Package transfer implements the chunked, resumable, cancellable
// upload/download engine. Every transfer is a persisted task record whose
// resume state survives crashes; a per-task control carries the
// pause/cancel flags that the chunk loops consult at every boundary.
package transfer

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled aborts a transfer at the next yield point after Cancel.
var ErrCancelled = errors.New("任务已取消")

// Control is the cooperative pause/cancel handle for one running transfer.
// Pause is idempotent; Resume wakes all waiters; Cancel is sticky and also
// wakes waiters so they can observe the flag. In-flight HTTP requests are
// never aborted — the next yield point surfaces the cancellation.
type Control struct {
	mu        sync.Mutex
	paused    bool
	cancelled bool
	resumeCh  chan struct{} // closed whenever not paused
}

// NewControl returns a control in the running (not paused) state.
func NewControl() *Control {
	ch := make(chan struct{})
	close(ch)

	return &Control{resumeCh: ch}
}

// Pause requests that the transfer hold at its next yield point.
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paused {
		return
	}

	c.paused = true
	c.resumeCh = make(chan struct{})
}

// Resume clears the pause flag and wakes every waiter.
func (c *Control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.paused {
		return
	}

	c.paused = false
	close(c.resumeCh)
}

// Cancel marks the transfer cancelled. The flag is sticky; paused waiters
// are woken so they fail promptly.
func (c *Control) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelled = true

	if c.paused {
		c.paused = false
		close(c.resumeCh)
	}
}

// Cancelled reports whether Cancel has been called.
func (c *Control) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cancelled
}

// Wait is the yield point called at every chunk boundary: it returns
// ErrCancelled after Cancel, blocks while paused, and otherwise returns
// immediately.
func (c *Control) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()

		if c.cancelled {
			c.mu.Unlock()

			return ErrCancelled
		}

		if !c.paused {
			c.mu.Unlock()

			return nil
		}

		ch := c.resumeCh
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
