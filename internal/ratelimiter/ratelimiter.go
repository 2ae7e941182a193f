// Package ratelimiter throttles background sector writeback.
//
// The write-behind flusher of the sector cache takes one token per sector it
// writes, so a burst of dirty sectors does not starve foreground I/O on a
// slow device (S3, network disks).
package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket measured in sectors per second.
//
// This implementation wraps golang.org/x/time/rate. All methods are safe for
// concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing sectorsPerSecond sustained writes with the
// given burst.
//
// Special cases:
//   - sectorsPerSecond = 0: no limit
//   - burst = 0: burst defaults to sectorsPerSecond
func New(sectorsPerSecond, burst uint) *RateLimiter {
	if sectorsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = sectorsPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(sectorsPerSecond), int(burst)),
	}
}

// Unlimited returns a limiter that never blocks.
func Unlimited() *RateLimiter {
	return New(0, 0)
}

// Allow reports whether one sector may be written now, consuming a token.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until one sector may be written or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// WaitN blocks until n sectors may be written. n larger than the burst is
// split so it can never fail on size alone.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	if r.limiter.Limit() == rate.Inf {
		return ctx.Err()
	}

	burst := r.limiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := r.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// SetLimit changes the sustained rate. Zero removes the limit.
func (r *RateLimiter) SetLimit(sectorsPerSecond uint) {
	if sectorsPerSecond == 0 {
		r.limiter.SetLimit(rate.Inf)
		return
	}
	r.limiter.SetLimit(rate.Limit(sectorsPerSecond))
	if r.limiter.Burst() == 0 {
		r.limiter.SetBurst(int(sectorsPerSecond))
	}
}

// Delay returns how long the next single-sector write would have to wait,
// without consuming a token.
func (r *RateLimiter) Delay() time.Duration {
	res := r.limiter.Reserve()
	defer res.Cancel()
	return res.Delay()
}
