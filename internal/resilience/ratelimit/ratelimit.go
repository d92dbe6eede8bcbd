// Package ratelimit provides per-key token bucket rate limiting with
// a blocking Wait(ctx), used per adapter and, by the web adapter,
// per host.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per key, created lazily on first use.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// New creates a Limiter whose per-key buckets refill at rps tokens per
// second with the given burst capacity.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.limiters[key]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.limiters[key] = b
	}
	return b
}

// Wait blocks until a token for key is available or ctx is done,
// respecting ctx's deadline with no cross-bucket borrowing.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	return l.bucket(key).Wait(ctx)
}

// Allow reports whether a token for key is immediately available,
// consuming it if so, without blocking.
func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

// Cleanup removes buckets that are at full capacity (i.e. unused
// recently), bounding memory for long-lived per-host keys.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.limiters {
		if b.Tokens() >= float64(l.burst) {
			delete(l.limiters, key)
		}
	}
}
