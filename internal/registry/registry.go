// Package registry holds the set of configured Source Adapters and
// fans a query out to every adapter that supports the needed
// capability, bounding concurrency with a global outbound semaphore.
// It deliberately does not rank or fuse results — that is the Query
// Engine's job, layered on top.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vitaliisemenov/knowledgesvc/internal/adapter"
	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
	"github.com/vitaliisemenov/knowledgesvc/internal/errtax"
)

// Registry holds configured adapters and fans calls out to them,
// respecting a global outbound concurrency ceiling.
type Registry struct {
	mu        sync.RWMutex
	adapters  []adapter.Adapter
	sem       chan struct{}
	queueWait time.Duration
	logger    *slog.Logger
}

// New creates a Registry with the given global outbound concurrency.
// A call arriving while every slot is busy queues for at most
// queueWait before failing with OVERLOADED.
func New(concurrency int, queueWait time.Duration, logger *slog.Logger) *Registry {
	if concurrency <= 0 {
		concurrency = 50
	}
	if queueWait <= 0 {
		queueWait = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sem:       make(chan struct{}, concurrency),
		queueWait: queueWait,
		logger:    logger,
	}
}

// Register adds an adapter instance, sorted into priority order
// (lower Priority() wins ties downstream).
func (r *Registry) Register(a adapter.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = append(r.adapters, a)
	sort.SliceStable(r.adapters, func(i, j int) bool {
		return r.adapters[i].Priority() < r.adapters[j].Priority()
	})
}

// Adapters returns the registered adapters in priority order.
func (r *Registry) Adapters() []adapter.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]adapter.Adapter, len(r.adapters))
	copy(out, r.adapters)
	return out
}

func (r *Registry) withCapability(cap adapter.Capability) []adapter.Adapter {
	var out []adapter.Adapter
	for _, a := range r.Adapters() {
		if adapter.HasCapability(a.Capabilities(), cap) {
			out = append(out, a)
		}
	}
	return out
}

// acquire takes a slot from the global semaphore, queueing for at most
// the configured queue-wait budget. Exhausting the budget is reported
// as OVERLOADED, distinct from the caller's own deadline expiring.
func (r *Registry) acquire(ctx context.Context) error {
	select {
	case r.sem <- struct{}{}:
		return nil
	default:
	}

	wait := time.NewTimer(r.queueWait)
	defer wait.Stop()
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-wait.C:
		return errtax.New(errtax.CodeOverloaded, "outbound concurrency ceiling exceeded", nil)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) release() { <-r.sem }

// FanResult pairs one adapter's search results with its error, if any.
type FanResult struct {
	AdapterName string
	Results     []domain.SearchResult
	Err         error
}

// FanOutSearch calls Search on every capability-matching adapter
// concurrently, bounded by deadline and the global semaphore. Each
// individual call is further bounded by adapterDeadline, the per-
// adapter soft deadline; whichever fires first cancels the call.
// A slow or failing adapter never blocks the others; its
// error is reported in the per-adapter map rather than propagated.
func (r *Registry) FanOutSearch(ctx context.Context, q adapter.SearchQuery, deadline, adapterDeadline time.Duration) (all []domain.SearchResult, errs map[string]error, degraded bool) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	adapters := r.withCapability(adapter.CapSearch)
	resultsCh := make(chan FanResult, len(adapters))

	for _, a := range adapters {
		go func(a adapter.Adapter) {
			if err := r.acquire(ctx); err != nil {
				resultsCh <- FanResult{AdapterName: a.Name(), Err: err}
				return
			}
			defer r.release()

			callCtx, callCancel := context.WithTimeout(ctx, adapterDeadline)
			defer callCancel()
			res, err := a.Search(callCtx, q)
			resultsCh <- FanResult{AdapterName: a.Name(), Results: res, Err: err}
		}(a)
	}

	errs = map[string]error{}
	replied := map[string]bool{}
collect:
	for len(replied) < len(adapters) {
		select {
		case fr := <-resultsCh:
			replied[fr.AdapterName] = true
			if fr.Err != nil {
				errs[fr.AdapterName] = fr.Err
				r.logger.Warn("adapter search failed", "adapter", fr.AdapterName, "error", fr.Err)
				continue
			}
			all = append(all, fr.Results...)
		case <-ctx.Done():
			// Deadline hit with adapters outstanding: return what we
			// have and record a timeout for each straggler. Their
			// goroutines unwind on their own via the cancelled context
			// and the buffered channel.
			for _, a := range adapters {
				if !replied[a.Name()] {
					errs[a.Name()] = context.DeadlineExceeded
				}
			}
			degraded = true
			break collect
		}
	}
	return all, errs, degraded
}

// RunbookFanResult pairs one adapter's runbook results with its error.
type RunbookFanResult struct {
	AdapterName string
	Runbooks    []domain.Runbook
	Err         error
}

// RunbookHit attributes a Runbook to the adapter instance that produced
// it, so the Query Engine can apply the adapter-priority tie-break
// when the same runbook id surfaces from more than one source.
type RunbookHit struct {
	Runbook         domain.Runbook
	AdapterName     string
	AdapterPriority int
}

// FanOutSearchRunbooks is FanOutSearch's counterpart for SearchRunbooks.
// Degraded reports whether the overall deadline elapsed while
// adapters were still outstanding.
func (r *Registry) FanOutSearchRunbooks(ctx context.Context, q adapter.SearchQuery, deadline, adapterDeadline time.Duration) (hits []RunbookHit, errs map[string]error, degraded bool) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	adapters := r.withCapability(adapter.CapSearchRunbooks)
	type attributed struct {
		RunbookFanResult
		priority int
	}
	resultsCh := make(chan attributed, len(adapters))

	for _, a := range adapters {
		go func(a adapter.Adapter) {
			if err := r.acquire(ctx); err != nil {
				resultsCh <- attributed{RunbookFanResult{AdapterName: a.Name(), Err: err}, a.Priority()}
				return
			}
			defer r.release()

			callCtx, callCancel := context.WithTimeout(ctx, adapterDeadline)
			defer callCancel()
			res, err := a.SearchRunbooks(callCtx, q)
			resultsCh <- attributed{RunbookFanResult{AdapterName: a.Name(), Runbooks: res, Err: err}, a.Priority()}
		}(a)
	}

	errs = map[string]error{}
	replied := map[string]bool{}
collect:
	for len(replied) < len(adapters) {
		select {
		case fr := <-resultsCh:
			replied[fr.AdapterName] = true
			if fr.Err != nil {
				errs[fr.AdapterName] = fr.Err
				r.logger.Warn("adapter runbook search failed", "adapter", fr.AdapterName, "error", fr.Err)
				continue
			}
			for _, rb := range fr.Runbooks {
				hits = append(hits, RunbookHit{Runbook: rb, AdapterName: fr.AdapterName, AdapterPriority: fr.priority})
			}
		case <-ctx.Done():
			for _, a := range adapters {
				if !replied[a.Name()] {
					errs[a.Name()] = context.DeadlineExceeded
				}
			}
			degraded = true
			break collect
		}
	}
	return hits, errs, degraded
}

// GetDocument tries adapters in priority order, returning the first
// hit. Capability CapGetDocument filters the candidate set.
func (r *Registry) GetDocument(ctx context.Context, sourceName, id string) (domain.Document, error) {
	for _, a := range r.withCapability(adapter.CapGetDocument) {
		if sourceName != "" && a.Name() != sourceName {
			continue
		}
		doc, err := a.GetDocument(ctx, id)
		if err == nil {
			return doc, nil
		}
	}
	return domain.Document{}, adapter.ErrNotFound
}

// RefreshAll calls RefreshIndex on every refresh-capable adapter,
// returning a per-adapter error map. One adapter's failure never
// blocks the others.
func (r *Registry) RefreshAll(ctx context.Context, force bool) map[string]error {
	adapters := r.withCapability(adapter.CapRefreshIndex)
	errs := map[string]error{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, a := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()
			if err := a.RefreshIndex(ctx, force); err != nil {
				mu.Lock()
				errs[a.Name()] = err
				mu.Unlock()
			}
		}(a)
	}
	wg.Wait()
	return errs
}

// HealthSnapshots returns every registered adapter's current health.
func (r *Registry) HealthSnapshots(ctx context.Context) []domain.HealthSnapshot {
	adapters := r.Adapters()
	out := make([]domain.HealthSnapshot, len(adapters))
	for i, a := range adapters {
		out[i] = a.HealthCheck(ctx)
	}
	return out
}

// SourceNames lists every registered adapter's name in priority order.
func (r *Registry) SourceNames() []string {
	adapters := r.Adapters()
	out := make([]string, len(adapters))
	for i, a := range adapters {
		out[i] = a.Name()
	}
	return out
}
