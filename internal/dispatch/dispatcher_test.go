package dispatch

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/knowledgesvc/internal/adapter"
	"github.com/vitaliisemenov/knowledgesvc/internal/cache"
	"github.com/vitaliisemenov/knowledgesvc/internal/config"
	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
	"github.com/vitaliisemenov/knowledgesvc/internal/feedback"
	"github.com/vitaliisemenov/knowledgesvc/internal/health"
	"github.com/vitaliisemenov/knowledgesvc/internal/monitor"
	"github.com/vitaliisemenov/knowledgesvc/internal/query"
	"github.com/vitaliisemenov/knowledgesvc/internal/registry"
	"github.com/vitaliisemenov/knowledgesvc/internal/resilience/breaker"
)

type ttlPolicy struct{ ttl time.Duration }

func (p ttlPolicy) TTLFor(string) time.Duration { return p.ttl }
func (p ttlPolicy) WarmupEnabled(string) bool    { return false }

type stubAdapter struct {
	name     string
	runbooks []domain.Runbook
}

func (a *stubAdapter) Name() string     { return a.name }
func (a *stubAdapter) Priority() int    { return 1 }
func (a *stubAdapter) Capabilities() []adapter.Capability {
	return []adapter.Capability{adapter.CapSearch, adapter.CapSearchRunbooks, adapter.CapGetDocument}
}
func (a *stubAdapter) Initialize(ctx context.Context) error { return nil }
func (a *stubAdapter) Search(ctx context.Context, q adapter.SearchQuery) ([]domain.SearchResult, error) {
	return nil, nil
}
func (a *stubAdapter) SearchRunbooks(ctx context.Context, q adapter.SearchQuery) ([]domain.Runbook, error) {
	return a.runbooks, nil
}
func (a *stubAdapter) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	return domain.Document{}, adapter.ErrNotFound
}
func (a *stubAdapter) RefreshIndex(ctx context.Context, force bool) error { return nil }
func (a *stubAdapter) HealthCheck(ctx context.Context) domain.HealthSnapshot {
	return domain.HealthSnapshot{Component: a.name, Healthy: true}
}
func (a *stubAdapter) GetMetadata(ctx context.Context) domain.AdapterMetadata {
	return domain.AdapterMetadata{Name: a.name}
}
func (a *stubAdapter) Cleanup(ctx context.Context) error { return nil }

func newTestDispatcher(t *testing.T, runbooks ...domain.Runbook) *Dispatcher {
	t.Helper()
	t1 := cache.NewMemoryCache(1000, time.Hour, ttlPolicy{time.Hour}.TTLFor)
	br, err := breaker.New("cache:t2", breaker.DefaultConfig(), nil)
	require.NoError(t, err)
	mgr := cache.NewManager(t1, nil, br, ttlPolicy{time.Hour}, nil)

	reg := registry.New(10, time.Second, slog.Default())
	reg.Register(&stubAdapter{name: "fs", runbooks: runbooks})

	deadlines := config.DeadlineConfig{Search: time.Second, AdapterCall: 500 * time.Millisecond, RefreshIndex: time.Second}
	engine := query.New(reg, mgr, deadlines, slog.Default())
	agg := health.New(reg, mgr)
	mon := monitor.New(nil, 16, slog.Default())

	fbPath := filepath.Join(t.TempDir(), "feedback.jsonl")
	sink, err := feedback.Open(fbPath)
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	escalation := config.EscalationConfig{BySeverity: map[string]config.EscalationPolicy{
		"critical": {
			Contacts: []config.Contact{
				{Name: "On-call SRE", Channel: "pager", Target: "sre-oncall"},
				{Name: "Team Lead", Channel: "phone", Target: "+1-555-0100", BusinessHoursOnly: true},
			},
			InitialWaitBeforeNext:  5 * time.Minute,
			FailedAttemptThreshold: 1,
		},
	}}

	return New(engine, reg, agg, mon, sink, escalation, slog.Default())
}

func TestDispatcher_SearchRunbooksValidatesInput(t *testing.T) {
	d := newTestDispatcher(t)
	env := d.SearchRunbooks(context.Background(), SearchRunbooksRequest{})
	require.False(t, env.Success)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.False(t, env.Error.Details.RetryRecommended)
}

func TestDispatcher_SearchRunbooksHappyPath(t *testing.T) {
	rb := domain.Runbook{ID: "rb-1", Title: "Disk Full", Triggers: []domain.Trigger{{AlertType: "disk_full", Severities: []domain.Severity{domain.SeverityHigh}}}}
	d := newTestDispatcher(t, rb)

	env := d.SearchRunbooks(context.Background(), SearchRunbooksRequest{AlertType: "disk_full", Severity: domain.SeverityHigh})
	require.True(t, env.Success)
	assert.NotEmpty(t, env.Metadata.CorrelationID)
	matches, ok := env.Data.([]query.RunbookMatch)
	require.True(t, ok)
	require.Len(t, matches, 1)
	assert.Equal(t, "rb-1", matches[0].Runbook.ID)
}

func TestDispatcher_GetEscalationPathFiltersOffHoursContacts(t *testing.T) {
	d := newTestDispatcher(t)
	env := d.GetEscalationPath(context.Background(), GetEscalationPathRequest{Severity: domain.SeverityCritical, BusinessHours: false})
	require.True(t, env.Success)
	data := env.Data.(map[string]any)
	contacts := data["contacts"].([]config.Contact)
	require.Len(t, contacts, 1)
	assert.Equal(t, "On-call SRE", contacts[0].Name)
}

func TestDispatcher_GetEscalationPathIncludesBusinessHoursContacts(t *testing.T) {
	d := newTestDispatcher(t)
	env := d.GetEscalationPath(context.Background(), GetEscalationPathRequest{Severity: domain.SeverityCritical, BusinessHours: true})
	require.True(t, env.Success)
	data := env.Data.(map[string]any)
	contacts := data["contacts"].([]config.Contact)
	assert.Len(t, contacts, 2)
}

func TestDispatcher_GetEscalationPathUnknownSeverityIsNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	env := d.GetEscalationPath(context.Background(), GetEscalationPathRequest{Severity: domain.SeverityLow, BusinessHours: true})
	require.False(t, env.Success)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestDispatcher_ListSourcesReportsRegisteredAdapters(t *testing.T) {
	d := newTestDispatcher(t)
	env := d.ListSources(context.Background())
	require.True(t, env.Success)
	assert.Equal(t, "registry", env.Metadata.Source)
}

func TestDispatcher_RecordResolutionFeedbackAcksAndPersists(t *testing.T) {
	d := newTestDispatcher(t)
	env := d.RecordResolutionFeedback(context.Background(), RecordResolutionFeedbackRequest{
		RunbookID: "rb-1", ProcedureID: "p-1", Outcome: "success", ElapsedMinutes: 12,
	})
	require.True(t, env.Success)
	data := env.Data.(map[string]any)
	assert.Equal(t, true, data["acknowledged"])
}

func TestDispatcher_RecordResolutionFeedbackRejectsBadOutcome(t *testing.T) {
	d := newTestDispatcher(t)
	env := d.RecordResolutionFeedback(context.Background(), RecordResolutionFeedbackRequest{
		RunbookID: "rb-1", ProcedureID: "p-1", Outcome: "maybe",
	})
	require.False(t, env.Success)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestTool_PureExcludesOnlyFeedback(t *testing.T) {
	assert.True(t, ToolSearchRunbooks.Pure())
	assert.True(t, ToolSearchKnowledgeBase.Pure())
	assert.True(t, ToolListSources.Pure())
	assert.False(t, ToolRecordResolutionFeedback.Pure())
}

func TestDispatcher_GetProcedureRequiresOneSelector(t *testing.T) {
	rb := domain.Runbook{ID: "rb-1", Title: "Disk Full", Triggers: []domain.Trigger{{AlertType: "disk_full"}},
		Procedures: []domain.Procedure{{ID: "p-1", Name: "Clear temp files"}}}
	d := newTestDispatcher(t, rb)

	env := d.GetProcedure(context.Background(), GetProcedureRequest{RunbookID: "rb-1"})
	require.False(t, env.Success)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestDispatcher_GetDecisionTreeNavigatesBestMatch(t *testing.T) {
	tree := &domain.DecisionTree{Root: &domain.DecisionNode{
		Condition: "is the database reachable",
		Branches: map[string]*domain.DecisionNode{
			"database unreachable": {Action: "restart_database", NextSteps: []string{"verify replication"}},
			"high cpu load":        {Action: "investigate_queries"},
		},
	}}
	rb := domain.Runbook{
		ID:    "rb-db-cpu",
		Title: "Database CPU",
		Triggers: []domain.Trigger{
			{AlertType: "high_cpu", Severities: []domain.Severity{domain.SeverityCritical}, Systems: []string{"database"}},
		},
		DecisionTree: tree,
		Procedures:   []domain.Procedure{{ID: "investigate_queries", Name: "Investigate queries"}},
	}
	d := newTestDispatcher(t, rb)

	// Without a runbook id the best-matching runbook's tree is used.
	env := d.GetDecisionTree(context.Background(), GetDecisionTreeRequest{
		Alert: domain.AlertContext{AlertType: "high_cpu", Severity: domain.SeverityCritical, AffectedSystems: []string{"database"}},
	})
	require.True(t, env.Success)
	result, ok := env.Data.(DecisionTreeResult)
	require.True(t, ok)
	assert.Equal(t, "investigate_queries", result.TerminalAction)

	// Pinning an unknown runbook id is NOT_FOUND.
	env = d.GetDecisionTree(context.Background(), GetDecisionTreeRequest{
		RunbookID: "missing",
		Alert:     domain.AlertContext{AlertType: "high_cpu", Severity: domain.SeverityCritical},
	})
	require.False(t, env.Success)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}
