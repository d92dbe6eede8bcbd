package adapter

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/vitaliisemenov/knowledgesvc/internal/resilience/breaker"
	"github.com/vitaliisemenov/knowledgesvc/internal/resilience/ratelimit"
)

// RetryConfig bounds BaseAdapter.Call's retry behavior.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig returns conservative retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// BaseAdapter provides the shared resilience plumbing every concrete
// adapter embeds: rate limiting, circuit breaking, retry with
// exponential backoff and full jitter, rolling stats, and single-writer
// refresh coalescing. Concrete adapters call Call for every outbound
// operation and CoalesceRefresh around RefreshIndex.
type BaseAdapter struct {
	name     string
	priority int

	breaker *breaker.Breaker
	limiter *ratelimit.Limiter
	stats   *Stats
	retry   RetryConfig
	logger  *slog.Logger

	refreshMu   sync.Mutex
	refreshDone chan struct{}
	refreshErr  error
}

// NewBaseAdapter wires the shared plumbing for one adapter instance.
func NewBaseAdapter(name string, priority int, br *breaker.Breaker, limiter *ratelimit.Limiter, retry RetryConfig, logger *slog.Logger) *BaseAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &BaseAdapter{
		name:     name,
		priority: priority,
		breaker:  br,
		limiter:  limiter,
		stats:    NewStats(200),
		retry:    retry,
		logger:   logger,
	}
}

// Name returns the adapter instance's name.
func (b *BaseAdapter) Name() string { return b.name }

// Priority returns the adapter instance's tie-break priority.
func (b *BaseAdapter) Priority() int { return b.priority }

// Stats exposes the rolling latency/success window for GetMetadata.
func (b *BaseAdapter) Stats() *Stats { return b.stats }

// Call runs fn under the rate limiter and circuit breaker, retrying
// Transient and RateLimited classes with exponential backoff and full
// jitter up to retry.MaxAttempts, bounded by ctx's own deadline.
func (b *BaseAdapter) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < b.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffWithJitter(b.retry.BaseDelay, b.retry.MaxDelay, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := b.limiter.Wait(ctx, b.name); err != nil {
			return err
		}

		start := time.Now()
		err := b.breaker.Call(ctx, fn)
		latency := time.Since(start)
		b.stats.Record(latency, err == nil)

		if err == nil {
			return nil
		}
		lastErr = err

		if err == breaker.ErrOpen {
			return err
		}
		if !Classify(err).Retryable() {
			return err
		}
	}

	return lastErr
}

// backoffWithJitter computes a full-jitter exponential backoff delay.
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	exp := base << uint(attempt-1)
	if exp <= 0 || exp > max {
		exp = max
	}
	return time.Duration(rand.Int63n(int64(exp) + 1))
}

// CoalesceRefresh runs fn only if no refresh is already in progress
// for this adapter instance; a caller arriving while one is running
// does not start a second rebuild — it waits for the in-flight call
// and returns its outcome (or its own ctx error if cancelled first).
func (b *BaseAdapter) CoalesceRefresh(ctx context.Context, fn func(ctx context.Context) error) error {
	b.refreshMu.Lock()
	if done := b.refreshDone; done != nil {
		b.refreshMu.Unlock()
		select {
		case <-done:
			b.refreshMu.Lock()
			err := b.refreshErr
			b.refreshMu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	b.refreshDone = done
	b.refreshMu.Unlock()

	err := fn(ctx)

	b.refreshMu.Lock()
	b.refreshErr = err
	b.refreshDone = nil
	b.refreshMu.Unlock()
	close(done)
	return err
}
