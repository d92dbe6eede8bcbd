package query

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/knowledgesvc/internal/adapter"
	"github.com/vitaliisemenov/knowledgesvc/internal/cache"
	"github.com/vitaliisemenov/knowledgesvc/internal/config"
	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
	"github.com/vitaliisemenov/knowledgesvc/internal/errtax"
	"github.com/vitaliisemenov/knowledgesvc/internal/registry"
	"github.com/vitaliisemenov/knowledgesvc/internal/resilience/breaker"
)

type staticPolicy struct{ ttl time.Duration }

func (p staticPolicy) TTLFor(string) time.Duration { return p.ttl }
func (p staticPolicy) WarmupEnabled(string) bool    { return false }

func newTestEngine(t *testing.T) (*Engine, *registry.Registry) {
	t.Helper()
	t1 := cache.NewMemoryCache(1000, time.Hour, staticPolicy{time.Hour}.TTLFor)
	br, err := breaker.New("cache:t2", breaker.DefaultConfig(), nil)
	require.NoError(t, err)
	mgr := cache.NewManager(t1, nil, br, staticPolicy{time.Hour}, nil)

	reg := registry.New(10, time.Second, slog.Default())
	deadlines := config.DeadlineConfig{Search: 500 * time.Millisecond, AdapterCall: 200 * time.Millisecond, RefreshIndex: time.Second}
	return New(reg, mgr, deadlines, slog.Default()), reg
}

type searchAdapter struct {
	name     string
	priority int
	calls    atomic.Int64
	results  []domain.SearchResult
	runbooks []domain.Runbook
}

func (a *searchAdapter) Name() string { return a.name }
func (a *searchAdapter) Priority() int { return a.priority }
func (a *searchAdapter) Capabilities() []adapter.Capability {
	return []adapter.Capability{adapter.CapSearch, adapter.CapSearchRunbooks}
}
func (a *searchAdapter) Initialize(ctx context.Context) error { return nil }
func (a *searchAdapter) Search(ctx context.Context, q adapter.SearchQuery) ([]domain.SearchResult, error) {
	a.calls.Add(1)
	return a.results, nil
}
func (a *searchAdapter) SearchRunbooks(ctx context.Context, q adapter.SearchQuery) ([]domain.Runbook, error) {
	a.calls.Add(1)
	return a.runbooks, nil
}
func (a *searchAdapter) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	return domain.Document{}, adapter.ErrNotFound
}
func (a *searchAdapter) RefreshIndex(ctx context.Context, force bool) error { return nil }
func (a *searchAdapter) HealthCheck(ctx context.Context) domain.HealthSnapshot {
	return domain.HealthSnapshot{Component: a.name, Healthy: true}
}
func (a *searchAdapter) GetMetadata(ctx context.Context) domain.AdapterMetadata {
	return domain.AdapterMetadata{Name: a.name}
}
func (a *searchAdapter) Cleanup(ctx context.Context) error { return nil }

func TestSearchKnowledgeBase_DedupsByGlobalIDPreferringHigherConfidence(t *testing.T) {
	engine, reg := newTestEngine(t)

	doc := domain.Document{ID: "doc-1", Title: "Disk Full", Category: domain.CategoryGuide, SourceName: "a"}
	reg.Register(&searchAdapter{name: "a", priority: 1, results: []domain.SearchResult{
		{Document: doc, Confidence: 0.5, AdapterName: "a", AdapterPriority: 1},
	}})
	reg.Register(&searchAdapter{name: "b", priority: 2, results: []domain.SearchResult{
		{Document: doc, Confidence: 0.9, AdapterName: "b", AdapterPriority: 2},
	}})

	out, err := engine.SearchKnowledgeBase(context.Background(), "disk full", nil, 10)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, 0.9, out.Results[0].Confidence)
	assert.False(t, out.CacheHit)
}

func TestSearchKnowledgeBase_SecondCallIsCacheHitAndSkipsAdapters(t *testing.T) {
	engine, reg := newTestEngine(t)
	a := &searchAdapter{name: "a", priority: 1, results: []domain.SearchResult{
		{Document: domain.Document{ID: "doc-1", Title: "Disk Full", Category: domain.CategoryGuide, SourceName: "a"}, Confidence: 0.7, AdapterName: "a"},
	}}
	reg.Register(a)

	_, err := engine.SearchKnowledgeBase(context.Background(), "disk full", nil, 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, a.calls.Load())

	out, err := engine.SearchKnowledgeBase(context.Background(), "disk full", nil, 10)
	require.NoError(t, err)
	assert.True(t, out.CacheHit)
	assert.EqualValues(t, 1, a.calls.Load())
}

func TestSearchRunbooks_TieBreaksByAdapterPriority(t *testing.T) {
	engine, reg := newTestEngine(t)
	rb := domain.Runbook{ID: "rb-1", Title: "Disk Full", Triggers: []domain.Trigger{{AlertType: "disk_full"}}}

	// Version is not scored, so both copies tie and only priority decides.
	primary := rb
	primary.Version = "primary"

	reg.Register(&searchAdapter{name: "low-priority", priority: 5, runbooks: []domain.Runbook{rb}})
	reg.Register(&searchAdapter{name: "high-priority", priority: 1, runbooks: []domain.Runbook{primary}})

	alert := domain.AlertContext{AlertType: "disk_full", Severity: domain.SeverityHigh}
	out, err := engine.SearchRunbooks(context.Background(), alert, 10)
	require.NoError(t, err)
	require.Len(t, out.Matches, 1)
	assert.Equal(t, "rb-1", out.Matches[0].Runbook.ID)
	assert.Equal(t, "primary", out.Matches[0].Runbook.Version)
}

func TestSearchKnowledgeBase_FiltersByCategory(t *testing.T) {
	engine, reg := newTestEngine(t)
	reg.Register(&searchAdapter{name: "a", priority: 1, results: []domain.SearchResult{
		{Document: domain.Document{ID: "d1", Title: "API Guide", Category: domain.CategoryGuide, SourceName: "a"}, Confidence: 0.5, AdapterName: "a"},
		{Document: domain.Document{ID: "d2", Title: "Runbook", Category: domain.CategoryRunbook, SourceName: "a"}, Confidence: 0.5, AdapterName: "a"},
	}})

	out, err := engine.SearchKnowledgeBase(context.Background(), "x", []string{"runbook"}, 10)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, domain.CategoryRunbook, out.Results[0].Document.Category)
}

func TestSearchKnowledgeBase_ZeroDeadlineFailsBeforeFanOut(t *testing.T) {
	engine, reg := newTestEngine(t)
	engine.deadlines.Search = 0
	a := &searchAdapter{name: "a", priority: 1}
	reg.Register(a)

	_, err := engine.SearchKnowledgeBase(context.Background(), "disk full", nil, 10)
	require.Error(t, err)
	assert.Equal(t, errtax.CodeRequestTimeout, errtax.CodeOf(err))
	assert.EqualValues(t, 0, a.calls.Load())
}

func TestSearchRunbooks_HangingAdapterYieldsDegradedPartialResult(t *testing.T) {
	engine, reg := newTestEngine(t)
	rb := domain.Runbook{ID: "rb-1", Title: "Disk Full", Triggers: []domain.Trigger{{AlertType: "disk_full"}}}
	reg.Register(&searchAdapter{name: "fast", priority: 1, runbooks: []domain.Runbook{rb}})
	reg.Register(&hangingAdapter{searchAdapter{name: "hung", priority: 2}})

	alert := domain.AlertContext{AlertType: "disk_full", Severity: domain.SeverityHigh}
	out, err := engine.SearchRunbooks(context.Background(), alert, 10)
	require.NoError(t, err)
	require.Len(t, out.Matches, 1)
	assert.True(t, out.Degraded)
	assert.Contains(t, out.PerAdapterErrors, "hung")
}

// hangingAdapter blocks until the call's context is cancelled.
type hangingAdapter struct{ searchAdapter }

func (a *hangingAdapter) Search(ctx context.Context, q adapter.SearchQuery) ([]domain.SearchResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (a *hangingAdapter) SearchRunbooks(ctx context.Context, q adapter.SearchQuery) ([]domain.Runbook, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGetRunbook_ResolvesByRunbookIDAcrossAdapters(t *testing.T) {
	engine, reg := newTestEngine(t)
	rb := domain.Runbook{ID: "rb-db-cpu", Title: "DB CPU", Triggers: []domain.Trigger{{AlertType: "high_cpu"}},
		Procedures: []domain.Procedure{{ID: "investigate_queries", Name: "Investigate queries"}}}
	reg.Register(&searchAdapter{name: "fs", priority: 1, runbooks: []domain.Runbook{rb}})

	got, ok, err := engine.GetRunbook(context.Background(), "rb-db-cpu")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "rb-db-cpu", got.ID)

	// Second resolution is served from the cache.
	got, ok, err = engine.GetRunbook(context.Background(), "rb-db-cpu")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "rb-db-cpu", got.ID)
}

func TestGetRunbook_UnknownIDReportsNotFound(t *testing.T) {
	engine, reg := newTestEngine(t)
	reg.Register(&searchAdapter{name: "fs", priority: 1})

	_, ok, err := engine.GetRunbook(context.Background(), "no-such-runbook")
	require.NoError(t, err)
	assert.False(t, ok)
}
