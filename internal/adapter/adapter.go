// Package adapter defines the pluggable source adapter surface and a
// BaseAdapter that wraps outbound calls with rate limiting, circuit
// breaking, retry, and rolling statistics. Every outbound call a
// concrete adapter makes goes through BaseAdapter.Call so limiter,
// breaker, and stats behavior is uniform across sources.
package adapter

import (
	"context"

	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
)

// Capability names a single operation an Adapter may support. Not every
// adapter implements every capability (e.g. a web adapter may skip
// SearchRunbooks if the source carries no structured runbooks).
type Capability string

const (
	CapSearch         Capability = "search"
	CapSearchRunbooks Capability = "search_runbooks"
	CapGetDocument    Capability = "get_document"
	CapRefreshIndex   Capability = "refresh_index"
)

// SearchQuery is the fan-out unit the Registry and Query Engine pass
// to every capability-filtered adapter.
type SearchQuery struct {
	Text            string
	AlertType       string
	Severity        domain.Severity
	AffectedSystems []string
	Limit           int
}

// Adapter is the pluggable capability surface every knowledge source
// implements. Every method is context-first; implementations must
// honor ctx cancellation on any blocking I/O.
type Adapter interface {
	// Name uniquely identifies this adapter instance.
	Name() string

	// Priority orders adapters within the Registry; lower wins ties.
	Priority() int

	// Capabilities reports which optional operations this instance supports.
	Capabilities() []Capability

	Initialize(ctx context.Context) error
	Search(ctx context.Context, q SearchQuery) ([]domain.SearchResult, error)
	SearchRunbooks(ctx context.Context, q SearchQuery) ([]domain.Runbook, error)
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	RefreshIndex(ctx context.Context, force bool) error
	HealthCheck(ctx context.Context) domain.HealthSnapshot
	GetMetadata(ctx context.Context) domain.AdapterMetadata
	Cleanup(ctx context.Context) error
}

// HasCapability reports whether caps contains want.
func HasCapability(caps []Capability, want Capability) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}
