package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/vitaliisemenov/knowledgesvc/internal/adapter"
	"github.com/vitaliisemenov/knowledgesvc/internal/adapter/filesystem"
	"github.com/vitaliisemenov/knowledgesvc/internal/adapter/github"
	"github.com/vitaliisemenov/knowledgesvc/internal/adapter/web"
	"github.com/vitaliisemenov/knowledgesvc/internal/cache"
	"github.com/vitaliisemenov/knowledgesvc/internal/config"
	"github.com/vitaliisemenov/knowledgesvc/internal/dispatch"
	"github.com/vitaliisemenov/knowledgesvc/internal/feedback"
	"github.com/vitaliisemenov/knowledgesvc/internal/health"
	"github.com/vitaliisemenov/knowledgesvc/internal/monitor"
	"github.com/vitaliisemenov/knowledgesvc/internal/query"
	"github.com/vitaliisemenov/knowledgesvc/internal/registry"
	"github.com/vitaliisemenov/knowledgesvc/internal/resilience/breaker"
	"github.com/vitaliisemenov/knowledgesvc/internal/resilience/ratelimit"
)

// service holds every constructed component so close can release them.
type service struct {
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
	cacheMgr   *cache.Manager
	warmer     *cache.Warmer
	feedback   *feedback.Sink
	monitor    *monitor.Monitor
	logger     *slog.Logger
}

// buildService constructs the full component graph from cfg:
// cache -> adapters -> registry -> query engine -> dispatcher, with
// the breaker factory and rate limiters injected downward so no
// component reaches back up the graph.
func buildService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*service, error) {
	breakers := breaker.NewFactory(breaker.DefaultConfig(), logger)

	policy := cache.StaticPolicy{
		Default: cfg.Cache.DefaultTTL,
		ByType:  cfg.Cache.ContentTTL,
		Warmup:  cfg.Cache.Warmup,
	}
	t1 := cache.NewMemoryCache(cfg.Cache.MemoryMaxEntries, cfg.Cache.DefaultTTL, policy.TTLFor)

	var t2 *cache.RemoteCache
	if cfg.Cache.Redis.Addr != "" {
		password := os.Getenv(cfg.Cache.Redis.PasswordRef)
		remote, err := cache.NewRemoteCache(
			cfg.Cache.Redis.Addr, password, cfg.Cache.Redis.DB, cfg.Cache.Redis.PoolSize,
			cfg.Cache.Redis.DialTimeout, cfg.Cache.Redis.ReadTimeout, cfg.Cache.Redis.WriteTimeout,
			true, logger)
		if err != nil {
			// Remote tier unreachable at startup degrades to memory-only,
			// it never blocks the service from coming up.
			logger.Warn("remote cache unavailable, running memory-only", "error", err)
		} else {
			t2 = remote
		}
	}
	cacheMgr := cache.NewManager(t1, t2, breakers.Get("cache:t2"), policy, logger)

	reg := registry.New(cfg.Performance.GlobalConcurrency, cfg.Performance.QueueWaitBudget, logger)
	for _, src := range cfg.Sources {
		a, err := buildAdapter(src, cfg.Performance, breakers, logger)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", src.Name, err)
		}
		if err := a.Initialize(ctx); err != nil {
			// A failed source is reported unhealthy, not fatal: partial
			// coverage beats refusing to start.
			logger.Error("adapter initialization failed", "source", src.Name, "error", err)
		}
		reg.Register(a)
	}

	engine := query.New(reg, cacheMgr, cfg.Deadlines, logger)

	mon := monitor.New(defaultRules(), 64, logger)
	agg := health.New(reg, cacheMgr)

	sink, err := feedback.Open(cfg.Feedback.Path)
	if err != nil {
		return nil, fmt.Errorf("open feedback log: %w", err)
	}

	d := dispatch.New(engine, reg, agg, mon, sink, cfg.Escalation, logger)

	svc := &service{
		dispatcher: d,
		registry:   reg,
		cacheMgr:   cacheMgr,
		feedback:   sink,
		monitor:    mon,
		logger:     logger,
	}

	if warmupConfigured(cfg.Cache) {
		provider := &runbookCriticalSet{engine: engine, sets: cfg.Cache.CriticalSet}
		svc.warmer = cache.NewWarmer(cacheMgr, provider, policy, logger)
		go svc.warmer.Start(ctx, cfg.Cache.WarmInterval)
	}

	return svc, nil
}

func warmupConfigured(c config.CacheConfig) bool {
	for t, on := range c.Warmup {
		if on && len(c.CriticalSet[t]) > 0 {
			return true
		}
	}
	return false
}

// defaultRules are the built-in performance alert rules; thresholds in
// milliseconds, checked against each recorded sample.
func defaultRules() []monitor.Rule {
	return []monitor.Rule{
		{Name: "slow_search", Metric: "search_runbooks", Threshold: 2000, Message: "runbook search latency above budget"},
		{Name: "slow_kb_search", Metric: "search_knowledge_base", Threshold: 2000, Message: "knowledge base search latency above budget"},
		{Name: "dispatch_errors", Metric: "dispatch.error", Threshold: 5000, Message: "tool errors taking too long to surface"},
	}
}

// runbookCriticalSet warms the cache with the configured critical
// identifiers by resolving each through the Query Engine's runbook
// path, so warmed entries land under the same keys a live lookup uses.
type runbookCriticalSet struct {
	engine *query.Engine
	sets   map[string][]string
}

func (p *runbookCriticalSet) CriticalSet(contentType string) []string {
	return p.sets[contentType]
}

func (p *runbookCriticalSet) FetchEntry(ctx context.Context, contentType, id string) (string, cache.CacheEntryInput, error) {
	rb, ok, err := p.engine.GetRunbook(ctx, id)
	if err != nil {
		return "", cache.CacheEntryInput{}, err
	}
	if !ok {
		return "", cache.CacheEntryInput{}, fmt.Errorf("no runbook for critical id %q", id)
	}
	payload, err := json.Marshal(rb)
	if err != nil {
		return "", cache.CacheEntryInput{}, err
	}
	return "runbook-doc:" + id, cache.CacheEntryInput{ContentType: contentType, Payload: payload}, nil
}

// buildAdapter constructs one adapter from its SourceConfig, mapping
// the kind-specific Options into the adapter's typed config. AuthRef
// names an environment variable; the credential value never appears in
// the configuration file.
func buildAdapter(src config.SourceConfig, perf config.PerformanceConfig, breakers *breaker.Factory, logger *slog.Logger) (adapter.Adapter, error) {
	br := breakers.Get("adapter:" + src.Name)
	limiter := ratelimit.New(perf.AdapterRatePerSec, perf.AdapterBurst)
	secret := os.Getenv(src.AuthRef)

	switch src.Kind {
	case "filesystem":
		cfg := filesystem.Config{
			Root:         src.Options["root"],
			IncludeGlobs: splitList(src.Options["include"]),
			ExcludeGlobs: splitList(src.Options["exclude"]),
			MaxDepth:     atoiDefault(src.Options["max_depth"], 10),
		}
		return filesystem.New(src.Name, src.Priority, cfg, br, limiter, logger), nil

	case "web":
		cfg := web.Config{
			SeedURLs:        splitList(src.Options["urls"]),
			MaxDepth:        atoiDefault(src.Options["max_depth"], 0),
			IncludePatterns: splitList(src.Options["include_patterns"]),
			ExcludePatterns: splitList(src.Options["exclude_patterns"]),
			UserAgent:       src.Options["user_agent"],
			HostRatePerS:    perf.AdapterRatePerSec,
			HostBurst:       perf.AdapterBurst,
			RespectRobots:   src.Options["respect_robots"] != "false",
			Auth:            webAuth(src.Options, secret),
		}
		return web.New(src.Name, src.Priority, cfg, br, limiter, logger), nil

	case "github":
		repos, err := parseRepos(splitList(src.Options["repos"]))
		if err != nil {
			return nil, err
		}
		cfg := github.Config{
			Repos:             repos,
			Token:             secret,
			APIBaseURL:        src.Options["api_base_url"],
			QuotaSafetyMargin: atoiDefault(src.Options["quota_safety_margin"], 10),
		}
		return github.New(src.Name, src.Priority, cfg, br, limiter, logger), nil

	default:
		return nil, fmt.Errorf("unknown source kind %q", src.Kind)
	}
}

func webAuth(opts map[string]string, secret string) web.AuthConfig {
	switch web.AuthKind(opts["auth"]) {
	case web.AuthAPIKey:
		return web.AuthConfig{
			Kind:         web.AuthAPIKey,
			APIKey:       secret,
			APIKeyHeader: opts["api_key_header"],
			APIKeyInURL:  opts["api_key_in_url"] == "true",
		}
	case web.AuthBearer:
		return web.AuthConfig{Kind: web.AuthBearer, Token: secret}
	case web.AuthOAuth2Client:
		return web.AuthConfig{
			Kind:         web.AuthOAuth2Client,
			TokenURL:     opts["token_url"],
			ClientID:     opts["client_id"],
			ClientSecret: secret,
			Scope:        opts["scope"],
		}
	default:
		return web.AuthConfig{Kind: web.AuthNone}
	}
}

// parseRepos parses "owner/name" or "owner/name/sub/path" entries.
func parseRepos(entries []string) ([]github.Repo, error) {
	repos := make([]github.Repo, 0, len(entries))
	for _, e := range entries {
		parts := strings.SplitN(e, "/", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid repository %q, want owner/name[/path]", e)
		}
		r := github.Repo{Owner: parts[0], Name: parts[1]}
		if len(parts) == 3 {
			r.Path = parts[2]
		}
		repos = append(repos, r)
	}
	return repos, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// close stops the warmer, cleans up every adapter, then closes the
// feedback log.
func (s *service) close(ctx context.Context) {
	if s.warmer != nil {
		s.warmer.Stop()
	}
	for _, a := range s.registry.Adapters() {
		if err := a.Cleanup(ctx); err != nil {
			s.logger.Warn("adapter cleanup failed", "source", a.Name(), "error", err)
		}
	}
	if err := s.feedback.Close(); err != nil {
		s.logger.Warn("feedback sink close failed", "error", err)
	}
}
