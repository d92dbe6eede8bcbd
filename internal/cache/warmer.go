package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
)

// CriticalSetProvider supplies, per warmup-enabled content type, the
// identifiers that should be pre-populated into the cache, and a way
// to fetch and encode an entry for one identifier.
type CriticalSetProvider interface {
	CriticalSet(contentType string) []string
	FetchEntry(ctx context.Context, contentType, id string) (key string, entry CacheEntryInput, err error)
}

// CacheEntryInput is what a warm-fetch produces for Manager.Set.
type CacheEntryInput struct {
	ContentType string
	Payload     []byte
}

// Warmer periodically pre-populates the cache with a configured
// critical identifier set per warmup-enabled content type.
type Warmer struct {
	manager  *Manager
	provider CriticalSetProvider
	policy   TTLPolicy
	logger   *slog.Logger
	stopCh   chan struct{}
}

// NewWarmer creates a Warmer.
func NewWarmer(manager *Manager, provider CriticalSetProvider, policy TTLPolicy, logger *slog.Logger) *Warmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{
		manager:  manager,
		provider: provider,
		policy:   policy,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start runs warming immediately and then on every interval tick until
// ctx is cancelled or Stop is called.
func (w *Warmer) Start(ctx context.Context, interval time.Duration) {
	w.warmOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.warmOnce(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the warming loop.
func (w *Warmer) Stop() {
	close(w.stopCh)
}

func (w *Warmer) warmOnce(ctx context.Context) {
	start := time.Now()
	warmed := 0
	attempted := 0

	for _, contentType := range []string{"runbook", "procedure", "decision-tree", "api", "guide", "general"} {
		if !w.policy.WarmupEnabled(contentType) {
			continue
		}
		for _, id := range w.provider.CriticalSet(contentType) {
			attempted++
			key, input, err := w.provider.FetchEntry(ctx, contentType, id)
			if err != nil {
				w.logger.Warn("cache warm fetch failed", "content_type", contentType, "id", id, "error", err)
				continue
			}
			w.manager.Set(ctx, key, domain.CacheEntry{
				ContentType: input.ContentType,
				Payload:     input.Payload,
			})
			warmed++
		}
	}

	w.logger.Info("cache warming complete",
		"warmed", warmed, "attempted", attempted, "duration_ms", time.Since(start).Milliseconds())
}
