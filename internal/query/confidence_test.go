package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
)

func runbookFixture() domain.Runbook {
	return domain.Runbook{
		ID:    "rb-disk-full",
		Title: "Disk Full Remediation",
		Triggers: []domain.Trigger{
			{AlertType: "disk_full", Severities: []domain.Severity{domain.SeverityHigh, domain.SeverityCritical}, Systems: []string{"api-1", "api-2"}},
		},
		Metadata: domain.RunbookMetadata{LastValidated: time.Now().Add(-24 * time.Hour)},
	}
}

func TestScoreRunbook_ExactMatchScoresHighest(t *testing.T) {
	rb := runbookFixture()
	alert := domain.AlertContext{AlertType: "disk_full", Severity: domain.SeverityHigh, AffectedSystems: []string{"api-1"}}

	s := scoreRunbook(rb, alert, time.Now())

	assert.Contains(t, s.reasons, "exact_trigger_match")
	assert.Contains(t, s.reasons, "severity_alignment")
	assert.Contains(t, s.reasons, "system_overlap")
	assert.Greater(t, s.value, 0.5)
}

func TestScoreRunbook_NoTriggerMatchScoresLow(t *testing.T) {
	rb := runbookFixture()
	alert := domain.AlertContext{AlertType: "memory_leak", Severity: domain.SeverityLow}

	s := scoreRunbook(rb, alert, time.Now())

	assert.NotContains(t, s.reasons, "exact_trigger_match")
	assert.Less(t, s.value, 0.2)
}

func TestScoreRunbook_WrongSeverityStillMatchesTrigger(t *testing.T) {
	rb := runbookFixture()
	alert := domain.AlertContext{AlertType: "disk_full", Severity: domain.SeverityLow}

	s := scoreRunbook(rb, alert, time.Now())

	assert.Contains(t, s.reasons, "exact_trigger_match")
	assert.NotContains(t, s.reasons, "severity_alignment")
}

func TestScoreRunbook_NeverExceedsOne(t *testing.T) {
	rb := runbookFixture()
	rb.Title = "disk full"
	alert := domain.AlertContext{
		AlertType:       "disk_full",
		Severity:        domain.SeverityHigh,
		AffectedSystems: []string{"api-1", "api-2"},
		Context:         map[string]string{"note": "disk full"},
	}
	s := scoreRunbook(rb, alert, time.Now())
	assert.LessOrEqual(t, s.value, 1.0)
}

func TestJaccard_EmptySetsYieldZero(t *testing.T) {
	assert.Equal(t, 0.0, jaccard(nil, nil))
}

func TestFreshness_RecentIsOne(t *testing.T) {
	rb := domain.Runbook{Metadata: domain.RunbookMetadata{LastValidated: time.Now()}}
	assert.Equal(t, 1.0, freshness(rb, time.Now()))
}

func TestFreshness_StaleIsZero(t *testing.T) {
	rb := domain.Runbook{Metadata: domain.RunbookMetadata{LastValidated: time.Now().Add(-365 * 24 * time.Hour)}}
	assert.Equal(t, 0.0, freshness(rb, time.Now()))
}

func TestFreshness_ZeroValueIsZero(t *testing.T) {
	assert.Equal(t, 0.0, freshness(domain.Runbook{}, time.Now()))
}
