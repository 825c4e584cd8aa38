// Package ratelimit implements a keyed token bucket limiter.
// Tokens are refilled lazily on each Allow call and idle keys are pruned on the
// same path; there is no background goroutine.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a key has exhausted its bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config configures the limiter.
type Config struct {
	RequestsPerMinute int // Tokens added per minute. 0 = unlimited.
	BurstSize         int // Bucket capacity. 0 = RequestsPerMinute.
}

// Limiter keeps one independent bucket per key.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      float64 // tokens per second
	burst     float64
	now       func() time.Time
	lastPrune time.Time
}

// pruneInterval is how often Allow sweeps idle buckets.
const pruneInterval = time.Minute

type bucket struct {
	tokens   float64
	lastFill time.Time
}

func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    float64(cfg.RequestsPerMinute) / 60.0,
		burst:   float64(burst),
		now:     time.Now,
	}
}

// Unlimited reports whether Allow always succeeds.
func (l *Limiter) Unlimited() bool { return l.rate <= 0 }

// Allow consumes one token for key, or returns ErrRateLimited when the bucket is empty.
func (l *Limiter) Allow(key string) error {
	if l.Unlimited() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if now := l.now(); now.Sub(l.lastPrune) >= pruneInterval {
		l.prune(now)
		l.lastPrune = now
	}

	b := l.refill(key)
	if b.tokens < 1 {
		return ErrRateLimited
	}
	b.tokens--
	return nil
}

// Remaining returns the whole tokens currently available to key.
func (l *Limiter) Remaining(key string) int {
	if l.Unlimited() {
		return -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.refill(key).tokens)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// prune drops buckets that would be full by now. A full bucket behaves exactly
// like a missing one, so no caller can observe the eviction.
// Must be called with mu held.
func (l *Limiter) prune(now time.Time) {
	for key, b := range l.buckets {
		if b.tokens+now.Sub(b.lastFill).Seconds()*l.rate >= l.burst {
			delete(l.buckets, key)
		}
	}
}

// refill must be called with mu held.
func (l *Limiter) refill(key string) *bucket {
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		// New keys start with a full bucket.
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[key] = b
		return b
	}
	b.tokens += now.Sub(b.lastFill).Seconds() * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastFill = now
	return b
}
