// Package rate implements per-owner bandwidth limiting for uploads and
// downloads. The limiter is a token bucket that admits a transfer
// immediately by letting the balance go negative, then makes the next
// caller sleep off the debt. Callers never split their payloads; they
// just pay for what they moved.
package rate

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Bucket is a token bucket refilled at a fixed byte rate. The balance
// is capped at one second's worth of refill so an idle owner cannot
// bank an unbounded burst. A nil Bucket is unlimited: Wait returns
// immediately.
type Bucket struct {
	mu     sync.Mutex
	rate   float64 // bytes per second
	burst  float64
	tokens float64
	last   time.Time
	clock  clockwork.Clock
}

// NewBucket returns a bucket refilling at bytesPerSec, initially full.
func NewBucket(bytesPerSec int64, clock clockwork.Clock) *Bucket {
	r := float64(bytesPerSec)

	return &Bucket{
		rate:   r,
		burst:  r,
		tokens: r,
		last:   clock.Now(),
		clock:  clock,
	}
}

// Wait charges n bytes against the bucket and sleeps until the charge
// is covered. The charge is taken up front, so concurrent callers
// stack debt and are paced collectively at the configured rate.
func (b *Bucket) Wait(ctx context.Context, n int64) error {
	if b == nil || n <= 0 {
		return nil
	}

	b.mu.Lock()

	now := b.clock.Now()

	b.tokens += b.rate * now.Sub(b.last).Seconds()
	if b.tokens > b.burst {
		b.tokens = b.burst
	}

	b.last = now
	b.tokens -= float64(n)

	var wait time.Duration
	if b.tokens < 0 {
		wait = time.Duration(-b.tokens / b.rate * float64(time.Second))
	}

	b.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	select {
	case <-b.clock.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
