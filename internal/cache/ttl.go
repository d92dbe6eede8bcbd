package cache

import "time"

// StaticPolicy is a TTLPolicy backed by fixed maps, the shape
// internal/config.CacheConfig satisfies without this package needing
// to import internal/config directly (keeps the dependency direction
// config -> cache, not the reverse).
type StaticPolicy struct {
	Default time.Duration
	ByType  map[string]time.Duration
	Warmup  map[string]bool
}

// TTLFor implements TTLPolicy.
func (p StaticPolicy) TTLFor(contentType string) time.Duration {
	if ttl, ok := p.ByType[contentType]; ok {
		return ttl
	}
	return p.Default
}

// WarmupEnabled implements TTLPolicy.
func (p StaticPolicy) WarmupEnabled(contentType string) bool {
	return p.Warmup[contentType]
}
