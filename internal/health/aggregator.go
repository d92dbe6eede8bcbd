// Package health rolls up per-component health into one overall
// snapshot across the Registry's dynamic adapter set plus the hybrid
// cache. Every adapter check runs concurrently under one context
// bounded by the aggregator's budget, and the roll-up waits for every
// check to return.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/vitaliisemenov/knowledgesvc/internal/adapter"
	"github.com/vitaliisemenov/knowledgesvc/internal/cache"
	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
	"github.com/vitaliisemenov/knowledgesvc/internal/registry"
)

// DefaultBudget bounds the context that every health check of one
// Snapshot runs under.
const DefaultBudget = 2 * time.Second

// Overall is the roll-up health snapshot.
type Overall struct {
	Healthy    bool                     `json:"healthy"`
	CheckedAt  time.Time                `json:"checked_at"`
	Components []domain.HealthSnapshot `json:"components"`
	CacheT2Degraded bool                `json:"cache_t2_degraded"`
}

// Aggregator rolls up the Registry's adapters and the hybrid cache
// into one overall health snapshot.
type Aggregator struct {
	registry *registry.Registry
	cacheMgr *cache.Manager
	budget   time.Duration
}

// New creates an Aggregator with the default budget.
func New(reg *registry.Registry, cacheMgr *cache.Manager) *Aggregator {
	return &Aggregator{registry: reg, cacheMgr: cacheMgr, budget: DefaultBudget}
}

// Snapshot computes the overall health snapshot. The overall state is
// healthy iff at least one adapter is healthy; the memory cache is not
// checked and no other subsystem is consulted. A degraded T2 remote
// cache tier is reported in CacheT2Degraded and never degrades overall
// health.
func (a *Aggregator) Snapshot(ctx context.Context) Overall {
	ctx, cancel := context.WithTimeout(ctx, a.budget)
	defer cancel()

	adapters := a.registry.Adapters()
	components := make([]domain.HealthSnapshot, len(adapters))

	var wg sync.WaitGroup
	for i, ad := range adapters {
		wg.Add(1)
		go func(i int, ad adapter.Adapter) {
			defer wg.Done()
			components[i] = ad.HealthCheck(ctx)
		}(i, ad)
	}
	wg.Wait()

	var anyHealthy bool
	for _, c := range components {
		if c.Healthy {
			anyHealthy = true
			break
		}
	}

	return Overall{
		Healthy:         anyHealthy,
		CheckedAt:       time.Now(),
		Components:      components,
		CacheT2Degraded: !a.cacheMgr.T2Healthy(),
	}
}
