package cache

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/dittocore/internal/logger"
	"github.com/marmos91/dittocore/internal/ratelimiter"
)

// flusher is the write-behind goroutine started by StartFlusher.
type flusher struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartFlusher launches a goroutine that writes dirty slots back every
// interval, one token of limiter per sector. It bounds how stale the device
// can get between explicit flushes. Calling it again replaces the previous
// flusher. A nil limiter means unlimited.
func (c *Cache) StartFlusher(ctx context.Context, interval time.Duration, limiter *ratelimiter.RateLimiter) {
	if interval <= 0 {
		return
	}
	if limiter == nil {
		limiter = ratelimiter.Unlimited()
	}

	c.StopFlusher()

	ctx, cancel := context.WithCancel(ctx)
	f := &flusher{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.flusher = f
	c.mu.Unlock()

	go func() {
		defer close(f.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := c.flushDirty(ctx, limiter)
				if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
					logger.Warn("Sector cache: background flush failed: %v", err)
				}
				if n > 0 {
					logger.Debug("Sector cache: background flush wrote %d sectors", n)
				}
			}
		}
	}()
}

// StopFlusher stops the background flusher and waits for it to exit.
func (c *Cache) StopFlusher() {
	c.mu.Lock()
	f := c.flusher
	c.flusher = nil
	c.mu.Unlock()

	if f == nil {
		return
	}
	f.cancel()
	<-f.done
}

// flushDirty writes back the slots that were dirty when it started. The lock
// is dropped while waiting on the limiter so foreground I/O proceeds.
func (c *Cache) flushDirty(ctx context.Context, limiter *ratelimiter.RateLimiter) (int, error) {
	written := 0
	for _, idx := range c.dirtySlots() {
		if err := limiter.Wait(ctx); err != nil {
			return written, err
		}

		c.mu.Lock()
		var err error
		if c.closed {
			err = ErrClosed
		} else if c.slots[idx].state == SlotDirty {
			err = c.flushLocked(ctx, idx)
			if err == nil {
				written++
			}
		}
		c.mu.Unlock()

		if err != nil {
			return written, err
		}
	}
	return written, nil
}

