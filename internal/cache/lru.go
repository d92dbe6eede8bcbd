package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
)

// MemoryCache is the T1 in-process tier, a bounded LRU.
// The underlying expirable.LRU enforces one outer ceiling
// TTL; per-content-type TTLs (which can be shorter) are enforced by
// comparing against entry.StoredAt on Get, since content types share
// one physical LRU.
type MemoryCache struct {
	lru      *expirable.LRU[string, domain.CacheEntry]
	ceilTTL  time.Duration
	ttlFor   func(contentType string) time.Duration
}

// NewMemoryCache creates a T1 cache bounded to maxEntries, with ceilTTL
// as the hard outer expiry and ttlFor resolving the per-content-type
// policy enforced on read.
func NewMemoryCache(maxEntries int, ceilTTL time.Duration, ttlFor func(contentType string) time.Duration) *MemoryCache {
	return &MemoryCache{
		lru:     expirable.NewLRU[string, domain.CacheEntry](maxEntries, nil, ceilTTL),
		ceilTTL: ceilTTL,
		ttlFor:  ttlFor,
	}
}

// Get returns the entry for key if present and not expired under its
// content type's TTL policy.
func (m *MemoryCache) Get(key string) (domain.CacheEntry, bool) {
	entry, ok := m.lru.Get(key)
	if !ok {
		return domain.CacheEntry{}, false
	}
	ttl := m.ceilTTL
	if m.ttlFor != nil {
		ttl = m.ttlFor(entry.ContentType)
	}
	if time.Since(entry.StoredAt) > ttl {
		m.lru.Remove(key)
		return domain.CacheEntry{}, false
	}
	return entry, true
}

// Set stores entry under key, stamping StoredAt if unset.
func (m *MemoryCache) Set(key string, entry domain.CacheEntry) {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	m.lru.Add(key, entry)
}

// Delete removes key from the tier.
func (m *MemoryCache) Delete(key string) {
	m.lru.Remove(key)
}

// Len returns the number of entries currently held (including any not
// yet lazily expired).
func (m *MemoryCache) Len() int {
	return m.lru.Len()
}

// Purge removes every entry.
func (m *MemoryCache) Purge() {
	m.lru.Purge()
}

// DeleteByContentType removes every entry whose content type matches
// contentType, returning the count removed. Used by the hybrid cache's
// explicit per-type invalidation.
func (m *MemoryCache) DeleteByContentType(contentType string) int {
	removed := 0
	for _, key := range m.lru.Keys() {
		entry, ok := m.lru.Peek(key)
		if !ok {
			continue
		}
		if entry.ContentType == contentType {
			m.lru.Remove(key)
			removed++
		}
	}
	return removed
}
