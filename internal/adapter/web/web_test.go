package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/knowledgesvc/internal/adapter"
	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
	"github.com/vitaliisemenov/knowledgesvc/internal/resilience/breaker"
	"github.com/vitaliisemenov/knowledgesvc/internal/resilience/ratelimit"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	mux.HandleFunc("/runbook", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Disk Full Runbook</title></head>
			<body><main><h1>Triggers</h1><p>- disk_full</p>
			<h1>Procedure</h1><p>1. Check usage</p></main></body></html>`))
	})
	return httptest.NewServer(mux)
}

func newTestAdapter(t *testing.T, seed string) *Adapter {
	t.Helper()
	br, err := breaker.New("adapter:web-test", breaker.DefaultConfig(), nil)
	require.NoError(t, err)
	limiter := ratelimit.New(1000, 1000)
	cfg := Config{
		SeedURLs:      []string{seed},
		HostRatePerS:  1000,
		HostBurst:     10,
		RespectRobots: true,
	}
	return New("web-test", 1, cfg, br, limiter, nil)
}

func TestAdapter_CrawlsAndIndexesSeedPage(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL+"/runbook")
	require.NoError(t, a.Initialize(context.Background()))

	results, err := a.Search(context.Background(), adapter.SearchQuery{Text: "disk full"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "Disk Full Runbook", results[0].Document.Title)
}

func TestAdapter_ExtractsRunbookFromCrawledPage(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL+"/runbook")
	require.NoError(t, a.Initialize(context.Background()))

	rbs, err := a.SearchRunbooks(context.Background(), adapter.SearchQuery{AlertType: "disk_full"})
	require.NoError(t, err)
	require.Len(t, rbs, 1)
}

func TestRobots_DisallowsConfiguredPrefix(t *testing.T) {
	r := parseRobots("User-agent: *\nDisallow: /private\n", "knowledgesvc")
	assert.False(t, r.Allowed("/private/page"))
	assert.True(t, r.Allowed("/public/page"))
}

func TestAuthManager_APIKeyHeader(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	mgr := NewAuthManager(AuthConfig{Kind: AuthAPIKey, APIKey: "secret", APIKeyHeader: "X-Token"})
	require.NoError(t, mgr.Apply(context.Background(), req))
	assert.Equal(t, "secret", req.Header.Get("X-Token"))
}

func TestAuthManager_BearerMissingToken(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	mgr := NewAuthManager(AuthConfig{Kind: AuthBearer})
	assert.ErrorIs(t, mgr.Apply(context.Background(), req), ErrMissingToken)
}

func TestAdapter_FollowsLinksUpToMaxDepth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow:\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Index</title></head>
			<body><main><a href="/child">child</a></main></body></html>`))
	})
	mux.HandleFunc("/child", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Child Guide</title></head>
			<body><main><p>How to recover the child guide content</p>
			<a href="/grandchild">deeper</a></main></body></html>`))
	})
	mux.HandleFunc("/grandchild", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Too Deep</title></head><body><main><p>unreached</p></main></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	br, err := breaker.New("adapter:web-depth", breaker.DefaultConfig(), nil)
	require.NoError(t, err)
	a := New("web-depth", 1, Config{
		SeedURLs:     []string{srv.URL + "/"},
		MaxDepth:     1,
		HostRatePerS: 1000,
		HostBurst:    100,
	}, br, ratelimit.New(1000, 1000), nil)

	require.NoError(t, a.Initialize(context.Background()))

	snap := a.snap.Load()
	assert.Contains(t, snap.documents, srv.URL+"/")
	assert.Contains(t, snap.documents, srv.URL+"/child")
	assert.NotContains(t, snap.documents, srv.URL+"/grandchild")
}

func TestAdapter_ExcludePatternsPruneCrawl(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow:\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Index</title></head>
			<body><main><a href="/keep">keep</a><a href="/skip-this">skip</a></main></body></html>`))
	})
	mux.HandleFunc("/keep", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Kept</title></head><body><main><p>kept page</p></main></body></html>`))
	})
	mux.HandleFunc("/skip-this", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Skipped</title></head><body><main><p>never indexed</p></main></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	br, err := breaker.New("adapter:web-exclude", breaker.DefaultConfig(), nil)
	require.NoError(t, err)
	a := New("web-exclude", 1, Config{
		SeedURLs:        []string{srv.URL + "/"},
		MaxDepth:        1,
		ExcludePatterns: []string{`skip-this`},
		HostRatePerS:    1000,
		HostBurst:       100,
	}, br, ratelimit.New(1000, 1000), nil)

	require.NoError(t, a.Initialize(context.Background()))

	snap := a.snap.Load()
	assert.Contains(t, snap.documents, srv.URL+"/keep")
	assert.NotContains(t, snap.documents, srv.URL+"/skip-this")
}

func TestClassify_BucketsByStructuralFeatures(t *testing.T) {
	tests := []struct {
		name  string
		title string
		text  string
		want  domain.Category
	}{
		{"runbook keyword", "Disk Full Runbook", "whatever", domain.CategoryRunbook},
		{"steps plus severity", "Recovery", "1. check critical alert\n2. escalate", domain.CategoryRunbook},
		{"steps only", "Rotate certs", "1. generate\n2. deploy", domain.CategoryProcedure},
		{"api reference", "Service API Reference", "GET endpoint list", domain.CategoryAPI},
		{"plain page", "About", "company history", domain.CategoryGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.title, tt.text))
		})
	}
}
