// Package filesystem implements a Source Adapter over a local
// directory tree: markdown and JSON runbook files indexed in memory
// with an inverted index and a Levenshtein fuzzy fallback. Rebuilds
// skip files whose mtime and size are unchanged.
package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vitaliisemenov/knowledgesvc/internal/adapter"
	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
	"github.com/vitaliisemenov/knowledgesvc/internal/extract"
	"github.com/vitaliisemenov/knowledgesvc/internal/resilience/breaker"
	"github.com/vitaliisemenov/knowledgesvc/internal/resilience/ratelimit"
)

// Config configures a filesystem Adapter instance.
type Config struct {
	Root         string
	IncludeGlobs []string
	ExcludeGlobs []string
	MaxDepth     int
}

type fileFingerprint struct {
	modTime time.Time
	size    int64
}

type snapshot struct {
	documents map[string]domain.Document
	runbooks  map[string]domain.Runbook
	index     map[string][]string // lowercased token -> document IDs
	fileMeta  map[string]fileFingerprint
}

// Adapter is the filesystem-backed Source Adapter.
type Adapter struct {
	*adapter.BaseAdapter
	cfg    Config
	logger *slog.Logger

	snap atomic.Pointer[snapshot]
}

// New creates a filesystem Adapter for cfg.
func New(name string, priority int, cfg Config, br *breaker.Breaker, limiter *ratelimit.Limiter, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		BaseAdapter: adapter.NewBaseAdapter(name, priority, br, limiter, adapter.DefaultRetryConfig(), logger),
		cfg:         cfg,
		logger:      logger,
	}
	a.snap.Store(&snapshot{
		documents: map[string]domain.Document{},
		runbooks:  map[string]domain.Runbook{},
		index:     map[string][]string{},
		fileMeta:  map[string]fileFingerprint{},
	})
	return a
}

// Capabilities reports the operations this adapter supports.
func (a *Adapter) Capabilities() []adapter.Capability {
	return []adapter.Capability{
		adapter.CapSearch, adapter.CapSearchRunbooks, adapter.CapGetDocument, adapter.CapRefreshIndex,
	}
}

// Initialize performs the first index build.
func (a *Adapter) Initialize(ctx context.Context) error {
	return a.RefreshIndex(ctx, true)
}

// RefreshIndex walks Root, skipping files unchanged by (mtime, size)
// fingerprint unless force is set, then atomically swaps in the new
// snapshot so concurrent readers never observe a half-built index.
func (a *Adapter) RefreshIndex(ctx context.Context, force bool) error {
	return a.CoalesceRefresh(ctx, func(ctx context.Context) error {
		prev := a.snap.Load()
		next := &snapshot{
			documents: map[string]domain.Document{},
			runbooks:  map[string]domain.Runbook{},
			index:     map[string][]string{},
			fileMeta:  map[string]fileFingerprint{},
		}

		err := filepath.WalkDir(a.cfg.Root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				if a.cfg.MaxDepth > 0 && depthOf(a.cfg.Root, path) > a.cfg.MaxDepth {
					return filepath.SkipDir
				}
				return nil
			}
			if !a.matches(path) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return nil
			}
			fp := fileFingerprint{modTime: info.ModTime(), size: info.Size()}

			if !force {
				if old, ok := prev.fileMeta[path]; ok && old == fp {
					// Unchanged: carry the previous document/runbook/index entries forward.
					next.fileMeta[path] = fp
					carryForward(prev, next, path)
					return nil
				}
			}

			doc, err := a.loadDocument(path)
			if err != nil {
				a.logger.Warn("skipping unreadable source file", "path", path, "error", err)
				return nil
			}
			if doc.Category == domain.CategoryRunbook && !json.Valid([]byte(doc.Body)) {
				a.logger.Warn("skipping malformed JSON document", "path", path)
				return nil
			}

			next.fileMeta[path] = fp
			next.documents[doc.ID] = doc
			indexDocument(next.index, doc)

			if rb, ok := extract.Extract(doc); ok {
				next.runbooks[rb.ID] = rb
			} else if doc.Category == domain.CategoryRunbook {
				// Valid JSON but not a valid runbook: schema violation or
				// a decision tree referencing procedures it doesn't carry.
				a.logger.Warn("dropping document without a valid runbook structure", "path", path)
			}
			return nil
		})
		if err != nil {
			return err
		}

		a.snap.Store(next)
		return nil
	})
}

func depthOf(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return 0
	}
	if rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

func (a *Adapter) matches(path string) bool {
	base := filepath.Base(path)
	for _, ex := range a.cfg.ExcludeGlobs {
		if ok, _ := filepath.Match(ex, base); ok {
			return false
		}
	}
	if len(a.cfg.IncludeGlobs) == 0 {
		return true
	}
	for _, inc := range a.cfg.IncludeGlobs {
		if ok, _ := filepath.Match(inc, base); ok {
			return true
		}
	}
	return false
}

func carryForward(prev, next *snapshot, path string) {
	for id, doc := range prev.documents {
		if doc.URI == path {
			next.documents[id] = doc
			indexDocument(next.index, doc)
			// Runbooks are keyed by their own id, which for JSON
			// runbooks differs from the document id.
			if rb, ok := extract.Extract(doc); ok {
				if old, ok := prev.runbooks[rb.ID]; ok {
					rb = old
				}
				next.runbooks[rb.ID] = rb
			}
		}
	}
}

func (a *Adapter) loadDocument(path string) (domain.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return domain.Document{}, err
	}

	body := string(raw)
	title, meta, body := parseFrontMatter(body)
	if title == "" {
		title = filepath.Base(path)
	}

	category := domain.CategoryGeneral
	if strings.EqualFold(filepath.Ext(path), ".json") {
		category = domain.CategoryRunbook
	}

	return domain.Document{
		ID:           path,
		Title:        title,
		Body:         body,
		SourceName:   a.Name(),
		SourceKind:   "filesystem",
		URI:          path,
		Category:     category,
		LastModified: info.ModTime(),
		Metadata:     meta,
	}, nil
}

// parseFrontMatter extracts a leading "---"-delimited YAML header from
// markdown content, returning the title (if present), the parsed
// metadata, and the remaining body. A header that is not valid YAML is
// left in the body untouched.
func parseFrontMatter(content string) (title string, meta map[string]string, body string) {
	meta = map[string]string{}
	if !strings.HasPrefix(content, "---\n") {
		return "", meta, content
	}
	rest := content[4:]
	end := strings.Index(rest, "\n---\n")
	if end == -1 {
		return "", meta, content
	}

	var header map[string]any
	if err := yaml.Unmarshal([]byte(rest[:end]), &header); err != nil {
		return "", meta, content
	}
	body = rest[end+len("\n---\n"):]

	for key, val := range header {
		s := fmt.Sprintf("%v", val)
		meta[key] = s
		if strings.EqualFold(key, "title") {
			title = s
		}
	}
	return title, meta, body
}

func indexDocument(index map[string][]string, doc domain.Document) {
	for _, tok := range tokenize(doc.Title + " " + doc.Body) {
		index[tok] = appendUnique(index[tok], doc.ID)
	}
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

// Search performs inverted-index lookup with Levenshtein fuzzy fallback
// for tokens with no exact posting-list match.
func (a *Adapter) Search(ctx context.Context, q adapter.SearchQuery) ([]domain.SearchResult, error) {
	var results []domain.SearchResult
	err := a.Call(ctx, func(ctx context.Context) error {
		snap := a.snap.Load()
		tokens := tokenize(q.Text)
		matched := map[string]int{}

		for _, tok := range tokens {
			ids, ok := snap.index[tok]
			if !ok {
				ids = fuzzyMatch(snap.index, tok, 2)
			}
			for _, id := range ids {
				matched[id]++
			}
		}

		for id, count := range matched {
			doc, ok := snap.documents[id]
			if !ok {
				continue
			}
			results = append(results, domain.SearchResult{
				Document:        doc,
				Confidence:      relevance(count, len(tokens)),
				MatchReasons:    []string{"text_match"},
				AdapterName:     a.Name(),
				AdapterPriority: a.Priority(),
			})
		}

		sort.Slice(results, func(i, j int) bool { return results[i].Confidence > results[j].Confidence })
		if q.Limit > 0 && len(results) > q.Limit {
			results = results[:q.Limit]
		}
		return nil
	})
	return results, err
}

func relevance(matchedTokens, totalTokens int) float64 {
	if totalTokens == 0 {
		return 0
	}
	return float64(matchedTokens) / float64(totalTokens)
}

// fuzzyMatch returns document IDs for index tokens within maxDist of
// target by Levenshtein distance.
func fuzzyMatch(index map[string][]string, target string, maxDist int) []string {
	var ids []string
	for tok, posting := range index {
		if levenshtein(tok, target) <= maxDist {
			ids = append(ids, posting...)
		}
	}
	return ids
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	m, n := len(ra), len(rb)
	prev := make([]int, n+1)
	curr := make([]int, n+1)
	for j := 0; j <= n; j++ {
		prev[j] = j
	}
	for i := 1; i <= m; i++ {
		curr[0] = i
		for j := 1; j <= n; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[n]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// SearchRunbooks returns runbooks whose triggers plausibly match q.
func (a *Adapter) SearchRunbooks(ctx context.Context, q adapter.SearchQuery) ([]domain.Runbook, error) {
	var out []domain.Runbook
	err := a.Call(ctx, func(ctx context.Context) error {
		snap := a.snap.Load()
		for _, rb := range snap.runbooks {
			if runbookMatches(rb, q) {
				out = append(out, rb)
			}
		}
		return nil
	})
	return out, err
}

func runbookMatches(rb domain.Runbook, q adapter.SearchQuery) bool {
	if q.AlertType == "" {
		return true
	}
	for _, trig := range rb.Triggers {
		if strings.EqualFold(trig.AlertType, q.AlertType) {
			return true
		}
	}
	return false
}

// GetDocument returns the document identified by id.
func (a *Adapter) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	var doc domain.Document
	err := a.Call(ctx, func(ctx context.Context) error {
		snap := a.snap.Load()
		found, ok := snap.documents[id]
		if !ok {
			return adapter.ErrNotFound
		}
		doc = found
		return nil
	})
	return doc, err
}

// HealthCheck reports whether the adapter holds a usable index.
func (a *Adapter) HealthCheck(ctx context.Context) domain.HealthSnapshot {
	snap := a.snap.Load()
	return domain.HealthSnapshot{
		Component:   a.Name(),
		Healthy:     len(snap.documents) > 0,
		LastChecked: time.Now(),
	}
}

// GetMetadata reports adapter statistics for the health/monitor subsystems.
func (a *Adapter) GetMetadata(ctx context.Context) domain.AdapterMetadata {
	snap := a.snap.Load()
	return domain.AdapterMetadata{
		Name:              a.Name(),
		Kind:              "filesystem",
		DocumentCount:     len(snap.documents),
		AvgResponseTimeMS: a.Stats().AvgLatencyMS(),
		SuccessRate:       a.Stats().SuccessRate(),
	}
}

// Cleanup releases resources; the filesystem adapter holds none.
func (a *Adapter) Cleanup(ctx context.Context) error { return nil }
