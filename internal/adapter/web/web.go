package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitaliisemenov/knowledgesvc/internal/adapter"
	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
	"github.com/vitaliisemenov/knowledgesvc/internal/extract"
	"github.com/vitaliisemenov/knowledgesvc/internal/resilience/breaker"
	"github.com/vitaliisemenov/knowledgesvc/internal/resilience/ratelimit"
)

// Config configures a web Adapter instance.
type Config struct {
	SeedURLs        []string
	MaxDepth        int // 0 = seed pages only
	IncludePatterns []string
	ExcludePatterns []string
	UserAgent       string
	Auth            AuthConfig
	Client          ClientConfig
	HostRatePerS    float64
	HostBurst       int
	RespectRobots   bool
}

type pageSnapshot struct {
	documents map[string]domain.Document
	runbooks  map[string]domain.Runbook
}

// Adapter is the HTTP-page-backed Source Adapter.
type Adapter struct {
	*adapter.BaseAdapter
	cfg     Config
	client  *Client
	auth    *AuthManager
	logger  *slog.Logger
	include []*regexp.Regexp
	exclude []*regexp.Regexp

	hostLimiters sync.Map // host -> *ratelimit.Limiter
	robotsCache  sync.Map // host -> *Robots

	snap atomic.Pointer[pageSnapshot]
}

// New creates a web Adapter for cfg.
func New(name string, priority int, cfg Config, br *breaker.Breaker, limiter *ratelimit.Limiter, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Client == (ClientConfig{}) {
		cfg.Client = DefaultClientConfig()
	}
	auth := NewAuthManager(cfg.Auth)
	a := &Adapter{
		BaseAdapter: adapter.NewBaseAdapter(name, priority, br, limiter, adapter.DefaultRetryConfig(), logger),
		cfg:         cfg,
		client:      NewClient(cfg.Client, auth, cfg.UserAgent),
		auth:        auth,
		logger:      logger,
		include:     compilePatterns(cfg.IncludePatterns, logger),
		exclude:     compilePatterns(cfg.ExcludePatterns, logger),
	}
	a.snap.Store(&pageSnapshot{documents: map[string]domain.Document{}, runbooks: map[string]domain.Runbook{}})
	return a
}

// Capabilities reports the operations this adapter supports.
func (a *Adapter) Capabilities() []adapter.Capability {
	return []adapter.Capability{
		adapter.CapSearch, adapter.CapSearchRunbooks, adapter.CapGetDocument, adapter.CapRefreshIndex,
	}
}

// Initialize performs the first crawl of the configured seed URLs.
func (a *Adapter) Initialize(ctx context.Context) error {
	return a.RefreshIndex(ctx, true)
}

func (a *Adapter) hostLimiter(host string) *ratelimit.Limiter {
	v, _ := a.hostLimiters.LoadOrStore(host, ratelimit.New(a.cfg.HostRatePerS, a.cfg.HostBurst))
	return v.(*ratelimit.Limiter)
}

func (a *Adapter) robotsFor(ctx context.Context, u *url.URL) *Robots {
	if !a.cfg.RespectRobots {
		return &Robots{}
	}
	if v, ok := a.robotsCache.Load(u.Host); ok {
		return v.(*Robots)
	}
	r := FetchRobots(ctx, a.client, u.Scheme+"://"+u.Host, a.cfg.UserAgent)
	a.robotsCache.Store(u.Host, r)
	return r
}

func compilePatterns(patterns []string, logger *slog.Logger) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			logger.Warn("skipping invalid url pattern", "pattern", p, "error", err)
			continue
		}
		out = append(out, re)
	}
	return out
}

// urlAllowed applies the exclude patterns first, then requires an
// include match when any include pattern is configured.
func (a *Adapter) urlAllowed(u string) bool {
	for _, re := range a.exclude {
		if re.MatchString(u) {
			return false
		}
	}
	if len(a.include) == 0 {
		return true
	}
	for _, re := range a.include {
		if re.MatchString(u) {
			return true
		}
	}
	return false
}

type crawlItem struct {
	url   string
	depth int
}

// RefreshIndex re-crawls from every seed URL, following links
// breadth-first up to MaxDepth, constrained by the configured URL
// patterns and robots.txt. force has no effect: pages are always
// re-fetched since this adapter keeps no on-disk fingerprint to
// compare against.
func (a *Adapter) RefreshIndex(ctx context.Context, force bool) error {
	return a.CoalesceRefresh(ctx, func(ctx context.Context) error {
		next := &pageSnapshot{documents: map[string]domain.Document{}, runbooks: map[string]domain.Runbook{}}

		queue := make([]crawlItem, 0, len(a.cfg.SeedURLs))
		visited := map[string]bool{}
		for _, seed := range a.cfg.SeedURLs {
			queue = append(queue, crawlItem{url: seed})
		}

		for len(queue) > 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			item := queue[0]
			queue = queue[1:]
			if visited[item.url] {
				continue
			}
			visited[item.url] = true

			u, err := url.Parse(item.url)
			if err != nil {
				a.logger.Warn("skipping malformed url", "url", item.url, "error", err)
				continue
			}
			if !a.urlAllowed(item.url) {
				continue
			}

			robots := a.robotsFor(ctx, u)
			if !robots.Allowed(u.Path) {
				a.logger.Debug("url disallowed by robots.txt", "url", item.url)
				continue
			}

			if err := a.hostLimiter(u.Host).Wait(ctx, u.Host); err != nil {
				return err
			}

			var doc domain.Document
			var links []string
			err = a.Call(ctx, func(ctx context.Context) error {
				status, body, ferr := a.client.Get(ctx, item.url)
				if ferr != nil {
					return ferr
				}
				if status == 401 || status == 403 {
					a.auth.OnUnauthorized()
					return adapter.ErrAuthFailed
				}
				if status == 404 {
					return adapter.ErrNotFound
				}
				if status >= 500 {
					return fmt.Errorf("upstream server error: status %d", status)
				}

				title, text := ExtractMainContent(body)
				if title == "" {
					title = item.url
				}
				doc = domain.Document{
					ID:           item.url,
					Title:        title,
					Body:         text,
					SourceName:   a.Name(),
					SourceKind:   "web",
					URI:          item.url,
					Category:     classify(title, text),
					LastModified: time.Now(),
				}
				if item.depth < a.cfg.MaxDepth {
					links = ExtractLinks(u, body)
				}
				return nil
			})
			if err != nil {
				a.logger.Warn("failed fetching url", "url", item.url, "error", err)
				continue
			}

			next.documents[doc.ID] = doc
			if rb, ok := extract.Extract(doc); ok {
				next.runbooks[rb.ID] = rb
			}

			for _, link := range links {
				if !visited[link] {
					queue = append(queue, crawlItem{url: link, depth: item.depth + 1})
				}
			}
		}

		a.snap.Store(next)
		return nil
	})
}

var (
	numberedStepRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+\S`)
	severityWords  = []string{"critical", "severity", "incident", "escalate", "alert"}
)

// classify buckets a fetched page by structural features: numbered
// steps plus severity vocabulary reads as a runbook, numbered steps
// alone as a procedure, decision-flow vocabulary as a decision tree,
// endpoint vocabulary as API documentation.
func classify(title, text string) domain.Category {
	lower := strings.ToLower(title + " " + text)

	hasSteps := numberedStepRe.MatchString(text)
	hasSeverity := false
	for _, w := range severityWords {
		if strings.Contains(lower, w) {
			hasSeverity = true
			break
		}
	}

	switch {
	case strings.Contains(lower, "runbook") || (hasSteps && hasSeverity):
		return domain.CategoryRunbook
	case strings.Contains(lower, "decision tree") || strings.Contains(lower, "if this, then"):
		return domain.CategoryDecisionTree
	case hasSteps:
		return domain.CategoryProcedure
	case strings.Contains(lower, "endpoint") || strings.Contains(lower, "api reference"):
		return domain.CategoryAPI
	case strings.Contains(lower, "guide") || strings.Contains(lower, "how to"):
		return domain.CategoryGuide
	default:
		return domain.CategoryGeneral
	}
}

// Search performs a simple token-overlap scan over fetched page text.
func (a *Adapter) Search(ctx context.Context, q adapter.SearchQuery) ([]domain.SearchResult, error) {
	var results []domain.SearchResult
	err := a.Call(ctx, func(ctx context.Context) error {
		snap := a.snap.Load()
		queryTokens := strings.Fields(strings.ToLower(q.Text))

		for _, doc := range snap.documents {
			haystack := strings.ToLower(doc.Title + " " + doc.Body)
			matched := 0
			for _, tok := range queryTokens {
				if strings.Contains(haystack, tok) {
					matched++
				}
			}
			if matched == 0 {
				continue
			}
			results = append(results, domain.SearchResult{
				Document:        doc,
				Confidence:      float64(matched) / float64(max(1, len(queryTokens))),
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

// SearchRunbooks returns runbooks extracted from crawled pages whose
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
				if strings.EqualFold(trig.AlertType, q.AlertType) {
					out = append(out, rb)
					break
				}
			}
		}
		return nil
	})
	return out, err
}

// GetDocument returns the fetched page identified by id (its URL).
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

// HealthCheck reports whether the adapter holds any crawled pages.
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
		Kind:              "web",
		DocumentCount:     len(snap.documents),
		AvgResponseTimeMS: a.Stats().AvgLatencyMS(),
		SuccessRate:       a.Stats().SuccessRate(),
	}
}

// Cleanup releases resources; the web adapter holds none beyond what
// the garbage collector reclaims with the snapshot.
func (a *Adapter) Cleanup(ctx context.Context) error { return nil }
