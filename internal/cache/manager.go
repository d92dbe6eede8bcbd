// Package cache implements the hybrid two-tier cache: an in-process
// LRU+TTL tier (T1) backed by a Redis tier (T2), guarded by a circuit
// breaker so a degraded T2 never blocks reads.
package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
	"github.com/vitaliisemenov/knowledgesvc/internal/resilience/breaker"
)

// TTLPolicy resolves the TTL and warmup eligibility for a content type.
type TTLPolicy interface {
	TTLFor(contentType string) time.Duration
	WarmupEnabled(contentType string) bool
}

// Manager is the hybrid T1/T2 cache facade used by the query engine.
type Manager struct {
	t1      *MemoryCache
	t2      *RemoteCache
	t2On    bool
	t2Break *breaker.Breaker
	policy  TTLPolicy
	logger  *slog.Logger
	metrics *Metrics

	hits, misses, ops atomic.Int64
	byType            typeCounters
	resetAt           atomic.Int64
}

// NewManager wires a Manager. t2 may be nil, in which case the cache
// runs T1-only (e.g. miniredis unavailable, or remote tier disabled).
func NewManager(t1 *MemoryCache, t2 *RemoteCache, t2Break *breaker.Breaker, policy TTLPolicy, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		t1:      t1,
		t2:      t2,
		t2On:    t2 != nil,
		t2Break: t2Break,
		policy:  policy,
		logger:  logger,
		metrics: NewMetrics(),
	}
	m.resetAt.Store(time.Now().UnixNano())
	return m
}

// Get reads key, trying T1 then T2, populating T1 on a T2 hit.
func (m *Manager) Get(ctx context.Context, key string) (domain.CacheEntry, bool) {
	start := time.Now()
	m.ops.Add(1)

	if entry, ok := m.t1.Get(key); ok {
		m.metrics.Hits.WithLabelValues("t1").Inc()
		m.metrics.Latency.WithLabelValues("t1", "get", "hit").Observe(time.Since(start).Seconds())
		m.hits.Add(1)
		m.byType.hit(entry.ContentType)
		return entry, true
	}
	m.metrics.Misses.WithLabelValues("t1").Inc()

	if !m.t2On {
		m.misses.Add(1)
		return domain.CacheEntry{}, false
	}

	t2Start := time.Now()
	var entry domain.CacheEntry
	err := m.t2Break.Call(ctx, func(ctx context.Context) error {
		var callErr error
		entry, callErr = m.t2.Get(ctx, key)
		return callErr
	})

	switch {
	case err == nil:
		m.metrics.Hits.WithLabelValues("t2").Inc()
		m.metrics.Latency.WithLabelValues("t2", "get", "hit").Observe(time.Since(t2Start).Seconds())
		m.t1.Set(key, entry)
		m.hits.Add(1)
		m.byType.hit(entry.ContentType)
		return entry, true
	case err == ErrNotFound:
		m.metrics.Misses.WithLabelValues("t2").Inc()
	case isSerializationError(err):
		// Corrupted payload: treat as a miss and delete the entry so it
		// is not decoded again on the next read.
		m.logger.Warn("corrupted remote cache payload, deleting", "error", err, "key", key)
		m.metrics.Errors.WithLabelValues("t2", "corrupted").Inc()
		if derr := m.t2.Delete(ctx, key); derr != nil {
			m.logger.Warn("failed deleting corrupted cache entry", "error", derr, "key", key)
		}
	default:
		m.logger.Warn("remote cache tier unavailable, serving as miss", "error", err, "key", key)
		m.metrics.Errors.WithLabelValues("t2", "unavailable").Inc()
	}

	m.misses.Add(1)
	return domain.CacheEntry{}, false
}

// Set writes entry to T1 and, when healthy, T2.
func (m *Manager) Set(ctx context.Context, key string, entry domain.CacheEntry) {
	m.ops.Add(1)
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	ttl := m.policy.TTLFor(entry.ContentType)

	m.t1.Set(key, entry)

	if !m.t2On {
		return
	}
	err := m.t2Break.Call(ctx, func(ctx context.Context) error {
		return m.t2.Set(ctx, key, entry, ttl)
	})
	if err != nil {
		// Cache errors never fail the caller's operation.
		m.logger.Warn("remote cache write failed", "error", err, "key", key)
		m.metrics.Errors.WithLabelValues("t2", "write_failed").Inc()
	}
}

// Invalidate removes key from both tiers.
func (m *Manager) Invalidate(ctx context.Context, key string) {
	m.t1.Delete(key)
	if m.t2On {
		_ = m.t2Break.Call(ctx, func(ctx context.Context) error {
			return m.t2.Delete(ctx, key)
		})
	}
}

// T2Healthy reports whether the T2 breaker currently allows calls.
// An unhealthy T2 never degrades overall system health.
func (m *Manager) T2Healthy() bool {
	return !m.t2On || m.t2Break.State() == breaker.StateClosed
}

// UpdateSizeMetric refreshes the T1 gauge; called periodically by the monitor.
func (m *Manager) UpdateSizeMetric() {
	m.metrics.Size.WithLabelValues("t1").Set(float64(m.t1.Len()))
}

// ClearByType invalidates every T1 entry tagged contentType. T2 is
// not swept; its entries for that type simply expire on their own TTL.
func (m *Manager) ClearByType(contentType string) int {
	return m.t1.DeleteByContentType(contentType)
}

// ClearAll invalidates every T1 entry.
func (m *Manager) ClearAll() {
	m.t1.Purge()
}

// Stats is the hybrid cache's queryable statistics snapshot: hits,
// misses, total operations, hit rate, per-content-type hit counters,
// a rough memory estimate, and the last-reset time.
type Stats struct {
	Hits             int64            `json:"hits"`
	Misses           int64            `json:"misses"`
	Operations       int64            `json:"operations"`
	HitRate          float64          `json:"hit_rate"`
	HitsByType       map[string]int64 `json:"hits_by_type"`
	T1Entries        int              `json:"t1_entries"`
	MemoryBytesEst   int64            `json:"memory_bytes_estimate"`
	T2Healthy        bool             `json:"t2_healthy"`
	LastReset        time.Time        `json:"last_reset"`
}

// averageEntryBytes is a rough per-entry overhead estimate (payload +
// key + bookkeeping) used only to surface an order-of-magnitude
// memory-bytes-estimate; it is not a precise accounting.
const averageEntryBytes = 256

// Stats returns a point-in-time snapshot of cache statistics.
func (m *Manager) Stats() Stats {
	hits, misses := m.hits.Load(), m.misses.Load()
	ops := m.ops.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	entries := m.t1.Len()
	return Stats{
		Hits:           hits,
		Misses:         misses,
		Operations:     ops,
		HitRate:        rate,
		HitsByType:     m.byType.snapshot(),
		T1Entries:      entries,
		MemoryBytesEst: int64(entries) * averageEntryBytes,
		T2Healthy:      m.T2Healthy(),
		LastReset:      time.Unix(0, m.resetAt.Load()),
	}
}

// ResetStats zeroes the hit/miss/operation counters, recording the
// reset time. It does not evict any cached entry.
func (m *Manager) ResetStats() {
	m.hits.Store(0)
	m.misses.Store(0)
	m.ops.Store(0)
	m.byType.reset()
	m.resetAt.Store(time.Now().UnixNano())
}
