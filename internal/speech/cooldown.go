package speech

import (
	"context"
	"sync"
	"time"
)

// Cooldown is a shared deadline before which no synthesis request may be
// issued. A rate-limit response sets it; every concurrent caller waits it
// out before dialing, so all in-flight flows share backoff pressure.
type Cooldown struct {
	mu    sync.Mutex
	until time.Time
}

// NewCooldown returns an inactive cooldown.
func NewCooldown() *Cooldown {
	return &Cooldown{}
}

// Set extends the cooldown deadline to now+d. A shorter deadline never
// shrinks an already-active one.
func (c *Cooldown) Set(d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	c.mu.Lock()
	if deadline.After(c.until) {
		c.until = deadline
	}
	c.mu.Unlock()
}

// Remaining reports how long until the cooldown expires, or zero when
// inactive.
func (c *Cooldown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rem := time.Until(c.until); rem > 0 {
		return rem
	}
	return 0
}

// Wait blocks until the cooldown has expired or ctx is done. The deadline
// is re-read after every sleep: another flow may have extended it while
// this one slept.
func (c *Cooldown) Wait(ctx context.Context) error {
	for {
		rem := c.Remaining()
		if rem <= 0 {
			return nil
		}
		timer := time.NewTimer(rem)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
