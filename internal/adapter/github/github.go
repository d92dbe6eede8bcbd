// Package github implements a Source Adapter over a GitHub repository's
// default branch: tree walk, blob fetch, quota-aware rate tracking, and
// per-repository partial-success semantics on refresh. The REST
// transport is plain net/http with retry handled by BaseAdapter.Call.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vitaliisemenov/knowledgesvc/internal/adapter"
	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
	"github.com/vitaliisemenov/knowledgesvc/internal/extract"
	"github.com/vitaliisemenov/knowledgesvc/internal/resilience/breaker"
	"github.com/vitaliisemenov/knowledgesvc/internal/resilience/ratelimit"
)

// Repo names one repository to index.
type Repo struct {
	Owner string
	Name  string
	Path  string // restrict indexing to this subtree; "" means the whole repo
}

// Config configures a github Adapter instance.
type Config struct {
	Repos          []Repo
	Token          string // personal access token; sent as a Bearer credential
	APIBaseURL     string // defaults to https://api.github.com
	QuotaSafetyMargin int  // stop issuing calls once remaining quota falls below this
}

type repoSnapshot struct {
	documents map[string]domain.Document
	runbooks  map[string]domain.Runbook
}

// Adapter is the GitHub-backed Source Adapter.
type Adapter struct {
	*adapter.BaseAdapter
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	quotaRemaining atomic.Int64
	quotaResetAt   atomic.Int64

	snap atomic.Pointer[repoSnapshot]
}

// New creates a github Adapter for cfg.
func New(name string, priority int, cfg Config, br *breaker.Breaker, limiter *ratelimit.Limiter, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.github.com"
	}
	if cfg.QuotaSafetyMargin <= 0 {
		cfg.QuotaSafetyMargin = 10
	}
	a := &Adapter{
		BaseAdapter: adapter.NewBaseAdapter(name, priority, br, limiter, adapter.DefaultRetryConfig(), logger),
		cfg:         cfg,
		http:        &http.Client{Timeout: 15 * time.Second},
		logger:      logger,
	}
	a.quotaRemaining.Store(-1)
	a.snap.Store(&repoSnapshot{documents: map[string]domain.Document{}, runbooks: map[string]domain.Runbook{}})
	return a
}

// Capabilities reports the operations this adapter supports.
func (a *Adapter) Capabilities() []adapter.Capability {
	return []adapter.Capability{
		adapter.CapSearch, adapter.CapSearchRunbooks, adapter.CapGetDocument, adapter.CapRefreshIndex,
	}
}

// Initialize performs the first tree walk over every configured repo.
func (a *Adapter) Initialize(ctx context.Context) error {
	return a.RefreshIndex(ctx, true)
}

type treeResponse struct {
	Tree []treeEntry `json:"tree"`
}

type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
}

type repoInfo struct {
	DefaultBranch string `json:"default_branch"`
}

type blobResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// RefreshIndex walks the default-branch tree of every configured repo.
// A failure on one repo does not abort the others: each repo's result
// is partial-success, recorded via a warning log rather than returned.
func (a *Adapter) RefreshIndex(ctx context.Context, force bool) error {
	return a.CoalesceRefresh(ctx, func(ctx context.Context) error {
		next := &repoSnapshot{documents: map[string]domain.Document{}, runbooks: map[string]domain.Runbook{}}

		for _, repo := range a.cfg.Repos {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := a.indexRepo(ctx, repo, next); err != nil {
				a.logger.Warn("partial failure indexing repository", "owner", repo.Owner, "repo", repo.Name, "error", err)
			}
		}

		a.snap.Store(next)
		return nil
	})
}

func (a *Adapter) indexRepo(ctx context.Context, repo Repo, next *repoSnapshot) error {
	if !a.hasQuota() {
		return adapter.ErrRateLimited
	}

	var info repoInfo
	if err := a.get(ctx, fmt.Sprintf("/repos/%s/%s", repo.Owner, repo.Name), &info); err != nil {
		return err
	}

	var tree treeResponse
	if err := a.get(ctx, fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", repo.Owner, repo.Name, info.DefaultBranch), &tree); err != nil {
		return err
	}

	for _, entry := range tree.Tree {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.Type != "blob" || !isCandidate(entry.Path) {
			continue
		}
		if repo.Path != "" && !withinPath(entry.Path, repo.Path) {
			continue
		}
		if !a.hasQuota() {
			return adapter.ErrRateLimited
		}

		doc, err := a.fetchBlob(ctx, repo, entry)
		if err != nil {
			a.logger.Warn("skipping unreadable blob", "owner", repo.Owner, "repo", repo.Name, "path", entry.Path, "error", err)
			continue
		}

		next.documents[doc.ID] = doc
		if rb, ok := extract.Extract(doc); ok {
			next.runbooks[rb.ID] = rb
		}
	}
	return nil
}

func isCandidate(path string) bool {
	return hasSuffix(path, ".md") || hasSuffix(path, ".json")
}

func hasSuffix(s, suffix string) bool {
	if len(suffix) > len(s) {
		return false
	}
	return s[len(s)-len(suffix):] == suffix
}

func withinPath(path, prefix string) bool {
	if len(path) < len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix
}

func (a *Adapter) fetchBlob(ctx context.Context, repo Repo, entry treeEntry) (domain.Document, error) {
	var blob blobResponse
	if err := a.get(ctx, fmt.Sprintf("/repos/%s/%s/git/blobs/%s", repo.Owner, repo.Name, entry.SHA), &blob); err != nil {
		return domain.Document{}, err
	}

	var content []byte
	if blob.Encoding == "base64" {
		// The API wraps base64 payloads in newlines.
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(blob.Content, "\n", ""))
		if err != nil {
			return domain.Document{}, fmt.Errorf("decoding blob content: %w", err)
		}
		content = decoded
	} else {
		content = []byte(blob.Content)
	}

	id := fmt.Sprintf("%s/%s:%s", repo.Owner, repo.Name, entry.Path)
	category := domain.CategoryGeneral
	if hasSuffix(entry.Path, ".json") {
		category = domain.CategoryRunbook
	}

	return domain.Document{
		ID:           id,
		Title:        entry.Path,
		Body:         string(content),
		SourceName:   a.Name(),
		SourceKind:   "github",
		URI:          fmt.Sprintf("https://github.com/%s/%s/blob/main/%s", repo.Owner, repo.Name, entry.Path),
		Category:     category,
		LastModified: time.Now(),
	}, nil
}

// get issues an authenticated GET against the GitHub REST API and
// decodes the JSON response into out, updating quota tracking from
// the response headers.
func (a *Adapter) get(ctx context.Context, path string, out any) error {
	var body []byte
	err := a.Call(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.APIBaseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		if a.cfg.Token != "" {
			req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
		}

		resp, err := a.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		a.recordQuota(resp.Header)

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return adapter.ErrNotFound
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return adapter.ErrAuthFailed
		case resp.StatusCode == http.StatusTooManyRequests:
			return adapter.ErrRateLimited
		case resp.StatusCode >= 400:
			return fmt.Errorf("github api error: status %d", resp.StatusCode)
		}

		body = b
		return nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (a *Adapter) recordQuota(h http.Header) {
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			a.quotaRemaining.Store(n)
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			a.quotaResetAt.Store(n)
		}
	}
}

// hasQuota reports whether enough rate-limit headroom remains to issue
// another call, failing fast rather than burning the remaining budget
// down to zero and getting the token suspended.
func (a *Adapter) hasQuota() bool {
	remaining := a.quotaRemaining.Load()
	if remaining < 0 {
		return true // no reading yet; optimistically allow the first call
	}
	if remaining >= int64(a.cfg.QuotaSafetyMargin) {
		return true
	}
	// Suspended: resume once the advertised reset time has passed.
	reset := a.quotaResetAt.Load()
	return reset > 0 && time.Now().Unix() >= reset
}

// Search performs a naive substring scan over fetched blob content.
func (a *Adapter) Search(ctx context.Context, q adapter.SearchQuery) ([]domain.SearchResult, error) {
	var results []domain.SearchResult
	err := a.Call(ctx, func(ctx context.Context) error {
		snap := a.snap.Load()
		needle := strings.ToLower(q.Text)
		for _, doc := range snap.documents {
			if needle != "" && !strings.Contains(strings.ToLower(doc.Title+" "+doc.Body), needle) {
				continue
			}
			results = append(results, domain.SearchResult{
				Document:        doc,
				Confidence:      0.5,
				MatchReasons:    []string{"text_match"},
				AdapterName:     a.Name(),
				AdapterPriority: a.Priority(),
			})
		}
		if q.Limit > 0 && len(results) > q.Limit {
			results = results[:q.Limit]
		}
		return nil
	})
	return results, err
}

// SearchRunbooks returns runbooks extracted from indexed blobs whose
// triggers match q.
func (a *Adapter) SearchRunbooks(ctx context.Context, q adapter.SearchQuery) ([]domain.Runbook, error) {
	var out []domain.Runbook
	err := a.Call(ctx, func(ctx context.Context) error {
		snap := a.snap.Load()
		for _, rb := range snap.runbooks {
			if q.AlertType == "" {
				out = append(out, rb)
				continue
			}
			for _, trig := range rb.Triggers {
				if trig.AlertType == q.AlertType {
					out = append(out, rb)
					break
				}
			}
		}
		return nil
	})
	return out, err
}

// GetDocument returns the indexed blob identified by id.
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

// HealthCheck reports whether the adapter holds any indexed blobs and
// whether quota headroom remains.
func (a *Adapter) HealthCheck(ctx context.Context) domain.HealthSnapshot {
	snap := a.snap.Load()
	attrs := map[string]string{}
	if remaining := a.quotaRemaining.Load(); remaining >= 0 {
		attrs["quota_remaining"] = strconv.FormatInt(remaining, 10)
	}
	return domain.HealthSnapshot{
		Component:   a.Name(),
		Healthy:     len(snap.documents) > 0 && a.hasQuota(),
		LastChecked: time.Now(),
		Attributes:  attrs,
	}
}

// GetMetadata reports adapter statistics for the health/monitor subsystems.
func (a *Adapter) GetMetadata(ctx context.Context) domain.AdapterMetadata {
	snap := a.snap.Load()
	return domain.AdapterMetadata{
		Name:              a.Name(),
		Kind:              "github",
		DocumentCount:     len(snap.documents),
		AvgResponseTimeMS: a.Stats().AvgLatencyMS(),
		SuccessRate:       a.Stats().SuccessRate(),
	}
}

// Cleanup releases resources; the github adapter holds none.
func (a *Adapter) Cleanup(ctx context.Context) error { return nil }
