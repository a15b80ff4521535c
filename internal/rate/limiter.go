package rate

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
)

// Direction selects which of an owner's two independent limits applies.
type Direction int

const (
	Upload Direction = iota
	Download
)

type bucketKey struct {
	owner string
	dir   Direction
}

// Limiter holds one token bucket per (owner, direction) with a
// configured limit. Owners without a limit have no bucket and pass
// through unthrottled.
type Limiter struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	buckets map[bucketKey]*Bucket
}

// NewLimiter returns an empty limiter; all owners start unlimited.
func NewLimiter(clock clockwork.Clock) *Limiter {
	return &Limiter{
		clock:   clock,
		buckets: make(map[bucketKey]*Bucket),
	}
}

// SetLimit replaces an owner's limit for one direction. A rate of zero
// or less removes the limit. Replacing a limit discards accumulated
// debt; transfers already admitted are unaffected.
func (l *Limiter) SetLimit(owner string, dir Direction, bytesPerSec int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := bucketKey{owner: owner, dir: dir}

	if bytesPerSec <= 0 {
		delete(l.buckets, key)
		return
	}

	l.buckets[key] = NewBucket(bytesPerSec, l.clock)
}

func (l *Limiter) bucket(owner string, dir Direction) *Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.buckets[bucketKey{owner: owner, dir: dir}]
}

// Wait charges n bytes against the owner's limit in the given
// direction, blocking as needed. Unlimited owners return immediately.
func (l *Limiter) Wait(ctx context.Context, owner string, dir Direction, n int64) error {
	return l.bucket(owner, dir).Wait(ctx, n)
}
