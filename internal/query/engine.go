// Package query implements the Query Engine: cache-fingerprinted
// request normalization, adapter fan-out via the Registry, result
// fusion and composite confidence ranking, and cache population on
// success: one read-through/write-through cycle wraps each fan-out
// across adapters.
package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/vitaliisemenov/knowledgesvc/internal/adapter"
	"github.com/vitaliisemenov/knowledgesvc/internal/cache"
	"github.com/vitaliisemenov/knowledgesvc/internal/config"
	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
	"github.com/vitaliisemenov/knowledgesvc/internal/errtax"
	"github.com/vitaliisemenov/knowledgesvc/internal/extract"
	"github.com/vitaliisemenov/knowledgesvc/internal/registry"
)

// Content-type labels used as hybrid-cache keys for query-engine-owned
// cache entries (distinct from domain.Category, which tags individual
// documents).
const (
	ContentTypeKnowledgeBase = "knowledge-base"
	ContentTypeRunbookQuery  = "runbook"
	ContentTypeDecisionTree  = "decision-tree"
	ContentTypeProcedure     = "procedure"
)

// Engine is the Query Engine: it owns cache fingerprinting,
// fan-out-and-fuse over the Registry, and composite confidence
// ranking.
type Engine struct {
	registry  *registry.Registry
	cacheMgr  *cache.Manager
	deadlines config.DeadlineConfig
	logger    *slog.Logger
}

// New creates a Query Engine.
func New(reg *registry.Registry, cacheMgr *cache.Manager, deadlines config.DeadlineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{registry: reg, cacheMgr: cacheMgr, deadlines: deadlines, logger: logger}
}

// FusedSearch is the ranked, deduplicated result of a free-text search
// across every eligible adapter.
type FusedSearch struct {
	Results          []domain.SearchResult `json:"results"`
	CacheHit         bool                  `json:"cache_hit"`
	Degraded         bool                  `json:"degraded"`
	PerAdapterErrors map[string]string     `json:"adapter_errors,omitempty"`
	LatencyMS        int64                 `json:"retrieval_time_ms"`
}

// SearchKnowledgeBase implements the search_knowledge_base tool:
// fingerprint, cache read, fan-out, de-duplication by global id
// (highest-confidence copy wins, then adapter priority, then
// freshness), truncation, and cache write on success.
func (e *Engine) SearchKnowledgeBase(ctx context.Context, text string, categories []string, maxResults int) (FusedSearch, error) {
	start := time.Now()
	if e.deadlines.Search <= 0 {
		return FusedSearch{}, errtax.New(errtax.CodeRequestTimeout, "search deadline is zero", nil)
	}

	key := Fingerprint("search_knowledge_base", map[string]string{"text": text}, map[string][]string{"categories": categories})

	if entry, ok := e.cacheMgr.Get(ctx, key); ok {
		var cached FusedSearch
		if err := json.Unmarshal(entry.Payload, &cached); err == nil {
			cached.CacheHit = true
			cached.LatencyMS = time.Since(start).Milliseconds()
			return cached, nil
		}
	}

	q := adapter.SearchQuery{Text: text, Limit: maxResults}
	results, errs, degraded := e.registry.FanOutSearch(ctx, q, e.deadlines.Search, e.deadlines.AdapterCall)
	// Any adapter error or timeout leaves the fused result partial.
	degraded = degraded || len(errs) > 0

	if len(categories) > 0 {
		results = filterByCategory(results, categories)
	}

	fused := fuseSearchResults(results)
	if maxResults > 0 && len(fused) > maxResults {
		fused = fused[:maxResults]
	}

	out := FusedSearch{
		Results:          fused,
		Degraded:         degraded,
		PerAdapterErrors: stringifyErrors(errs),
		LatencyMS:        time.Since(start).Milliseconds(),
	}

	if len(fused) > 0 && !degraded {
		e.store(ctx, key, ContentTypeKnowledgeBase, out)
	}
	return out, nil
}

func filterByCategory(results []domain.SearchResult, categories []string) []domain.SearchResult {
	want := make(map[domain.Category]struct{}, len(categories))
	for _, c := range categories {
		want[domain.Category(c)] = struct{}{}
	}
	var out []domain.SearchResult
	for _, r := range results {
		if _, ok := want[r.Document.Category]; ok {
			out = append(out, r)
		}
	}
	return out
}

// fuseSearchResults de-duplicates by Document.GlobalID, preferring the
// highest-confidence copy, then ranks non-increasing by confidence
// with ties broken by adapter priority (lower wins) then freshness.
func fuseSearchResults(results []domain.SearchResult) []domain.SearchResult {
	best := make(map[string]domain.SearchResult, len(results))
	for _, r := range results {
		id := r.Document.GlobalID()
		cur, ok := best[id]
		if !ok || betterSearchResult(r, cur) {
			best[id] = r
		}
	}
	out := make([]domain.SearchResult, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return betterSearchResult(out[i], out[j])
	})
	return out
}

func betterSearchResult(a, b domain.SearchResult) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.AdapterPriority != b.AdapterPriority {
		return a.AdapterPriority < b.AdapterPriority
	}
	return a.Document.LastModified.After(b.Document.LastModified)
}

// RunbookMatch pairs a Runbook with its composite confidence and
// match-reason list for one alert query.
type RunbookMatch struct {
	Runbook      domain.Runbook `json:"runbook"`
	Confidence   float64        `json:"confidence"`
	MatchReasons []string       `json:"match_reasons"`
}

// FusedRunbooks is the ranked result of a search_runbooks query.
type FusedRunbooks struct {
	Matches          []RunbookMatch    `json:"matches"`
	CacheHit         bool              `json:"cache_hit"`
	Degraded         bool              `json:"degraded"`
	PerAdapterErrors map[string]string `json:"adapter_errors,omitempty"`
	LatencyMS        int64             `json:"retrieval_time_ms"`
}

// SearchRunbooks implements the search_runbooks tool.
func (e *Engine) SearchRunbooks(ctx context.Context, alert domain.AlertContext, maxResults int) (FusedRunbooks, error) {
	start := time.Now()
	if e.deadlines.Search <= 0 {
		return FusedRunbooks{}, errtax.New(errtax.CodeRequestTimeout, "search deadline is zero", nil)
	}

	key := Fingerprint("search_runbooks",
		map[string]string{"alert_type": alert.AlertType, "severity": string(alert.Severity)},
		map[string][]string{"systems": alert.AffectedSystems})

	if entry, ok := e.cacheMgr.Get(ctx, key); ok {
		var cached FusedRunbooks
		if err := json.Unmarshal(entry.Payload, &cached); err == nil {
			cached.CacheHit = true
			cached.LatencyMS = time.Since(start).Milliseconds()
			return cached, nil
		}
	}

	q := adapter.SearchQuery{
		AlertType:       alert.AlertType,
		Severity:        alert.Severity,
		AffectedSystems: alert.AffectedSystems,
		Limit:           maxResults,
	}
	hits, errs, degraded := e.registry.FanOutSearchRunbooks(ctx, q, e.deadlines.Search, e.deadlines.AdapterCall)
	// Any adapter error or timeout leaves the fused result partial.
	degraded = degraded || len(errs) > 0

	matches := fuseRunbookHits(hits, alert, time.Now())
	if maxResults > 0 && len(matches) > maxResults {
		matches = matches[:maxResults]
	}

	out := FusedRunbooks{
		Matches:          matches,
		Degraded:         degraded,
		PerAdapterErrors: stringifyErrors(errs),
		LatencyMS:        time.Since(start).Milliseconds(),
	}

	if len(matches) > 0 && !degraded {
		e.store(ctx, key, ContentTypeRunbookQuery, out)
	}
	return out, nil
}

// fuseRunbookHits scores every hit against alert, de-duplicates by
// runbook id preferring the highest score (tie-break: lowest adapter
// priority, then freshest), and ranks the survivors non-increasing by
// confidence.
func fuseRunbookHits(hits []registry.RunbookHit, alert domain.AlertContext, now time.Time) []RunbookMatch {
	type scored struct {
		RunbookMatch
		priority int
	}
	best := make(map[string]scored, len(hits))
	for _, h := range hits {
		s := scoreRunbook(h.Runbook, alert, now)
		cand := scored{RunbookMatch{Runbook: h.Runbook, Confidence: s.value, MatchReasons: s.reasons}, h.AdapterPriority}
		cur, ok := best[h.Runbook.ID]
		if !ok || betterRunbookMatch(cand, cur) {
			best[h.Runbook.ID] = cand
		}
	}
	out := make([]RunbookMatch, 0, len(best))
	for _, s := range best {
		out = append(out, s.RunbookMatch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func betterRunbookMatch(a, b struct {
	RunbookMatch
	priority int
}) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.Runbook.Metadata.LastValidated.After(b.Runbook.Metadata.LastValidated)
}

// GetRunbook resolves a single runbook by id: cache read, else
// GetDocument across adapters followed by structural extraction,
// then a cache write on success.
func (e *Engine) GetRunbook(ctx context.Context, id string) (domain.Runbook, bool, error) {
	key := "runbook-doc:" + id
	if entry, ok := e.cacheMgr.Get(ctx, key); ok {
		var rb domain.Runbook
		if err := json.Unmarshal(entry.Payload, &rb); err == nil {
			return rb, true, nil
		}
	}

	// id may name a raw document (adapter-scoped identifier) or a
	// runbook extracted from one; try the cheap direct fetch first.
	if doc, err := e.registry.GetDocument(ctx, "", id); err == nil {
		if rb, ok := extract.Extract(doc); ok {
			e.store(ctx, key, ContentTypeRunbookQuery, rb)
			return rb, true, nil
		}
	}

	hits, _, _ := e.registry.FanOutSearchRunbooks(ctx, adapter.SearchQuery{}, e.deadlines.Search, e.deadlines.AdapterCall)
	for _, h := range hits {
		if h.Runbook.ID == id {
			e.store(ctx, key, ContentTypeRunbookQuery, h.Runbook)
			return h.Runbook, true, nil
		}
	}
	return domain.Runbook{}, false, nil
}

func (e *Engine) store(ctx context.Context, key, contentType string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		e.logger.Warn("query result marshal failed, skipping cache write", "key", key, "error", err)
		return
	}
	e.cacheMgr.Set(ctx, key, domain.CacheEntry{ContentType: contentType, Payload: payload})
}

func stringifyErrors(errs map[string]error) map[string]string {
	if len(errs) == 0 {
		return nil
	}
	out := make(map[string]string, len(errs))
	for k, v := range errs {
		out[k] = v.Error()
	}
	return out
}
