// Package domain holds the data model shared by every adapter, the
// cache, the query engine, and the tool dispatcher.
package domain

import "time"

// Category classifies a retrieved document.
type Category string

const (
	CategoryRunbook      Category = "runbook"
	CategoryProcedure    Category = "procedure"
	CategoryDecisionTree Category = "decision-tree"
	CategoryAPI          Category = "api"
	CategoryGuide        Category = "guide"
	CategoryGeneral      Category = "general"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryRunbook, CategoryProcedure, CategoryDecisionTree, CategoryAPI, CategoryGuide, CategoryGeneral:
		return true
	default:
		return false
	}
}

// Document is a single retrieved unit. ID is stable across re-indexing
// for the same underlying resource within a source; it is globally
// unique once prefixed by the source name.
type Document struct {
	ID           string            `json:"id" validate:"required"`
	Title        string            `json:"title" validate:"required"`
	Body         string            `json:"body"`
	SourceName   string            `json:"source_name" validate:"required"`
	SourceKind   string            `json:"source_kind" validate:"required"`
	URI          string            `json:"uri"`
	Category     Category          `json:"category" validate:"required"`
	LastModified time.Time         `json:"last_modified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// GlobalID returns the document's identifier prefixed by its source,
// making it unique across adapters.
func (d *Document) GlobalID() string {
	return d.SourceName + ":" + d.ID
}

// SearchResult is a Document plus retrieval-specific annotations.
type SearchResult struct {
	Document      Document `json:"document"`
	Confidence    float64  `json:"confidence"`
	MatchReasons  []string `json:"match_reasons"`
	LatencyMS     int64    `json:"retrieval_time_ms"`
	CacheHit      bool     `json:"cache_hit"`
	AdapterName   string   `json:"adapter_name"`
	AdapterPriority int    `json:"-"`
}
