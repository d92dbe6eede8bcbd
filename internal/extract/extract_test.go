package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
)

func TestExtract_StructuredJSON(t *testing.T) {
	doc := domain.Document{
		ID:    "disk-full",
		Title: "Disk Full",
		Body: `{
			"id": "disk-full",
			"title": "Disk Full Runbook",
			"triggers": [{"alert_type": "disk_full", "severity": ["high"], "systems": ["db-01"]}],
			"procedures": [{"id": "p1", "name": "Clear space", "steps": [{"action": "remove temp files"}]}]
		}`,
	}

	rb, ok := Extract(doc)
	require.True(t, ok)
	assert.Equal(t, "disk-full", rb.ID)
	require.Len(t, rb.Triggers, 1)
	assert.Equal(t, "disk_full", rb.Triggers[0].AlertType)
	assert.Equal(t, []string{"db-01"}, rb.Triggers[0].Systems)
}

func TestExtract_LegacyFlatTriggers(t *testing.T) {
	doc := domain.Document{
		ID: "oom",
		Body: `{
			"id": "oom",
			"title": "OOM Runbook",
			"triggers": ["out_of_memory", "oom_killer"],
			"procedures": [{"id": "p1", "name": "Restart", "steps": [{"action": "restart service"}]}]
		}`,
	}

	rb, ok := Extract(doc)
	require.True(t, ok)
	require.Len(t, rb.Triggers, 2)
	assert.Equal(t, "out_of_memory", rb.Triggers[0].AlertType)
}

func TestExtract_MalformedJSONIsRejected(t *testing.T) {
	doc := domain.Document{ID: "bad", Body: `{"id": "bad", "triggers": [`}
	_, ok := Extract(doc)
	assert.False(t, ok)
}

func TestExtract_MarkdownHeuristics(t *testing.T) {
	doc := domain.Document{
		ID:    "disk-full",
		Title: "Disk Full Runbook",
		Body: "# Triggers\n- disk_full\n- disk_at_capacity\n\n# Procedure\n1. Check usage\n```\ndf -h\n```\n2. Clear temp files\n",
	}

	rb, ok := Extract(doc)
	require.True(t, ok)
	require.Len(t, rb.Triggers, 2)
	require.Len(t, rb.Procedures, 1)
	require.Len(t, rb.Procedures[0].Steps, 2)
	assert.Equal(t, "df -h", rb.Procedures[0].Steps[0].Command)
}

func TestExtract_MarkdownWithoutSignalReturnsFalse(t *testing.T) {
	doc := domain.Document{ID: "guide", Title: "Guide", Body: "Just some prose about the system."}
	_, ok := Extract(doc)
	assert.False(t, ok)
}

func TestExtract_DecisionTreeConditionalBranches(t *testing.T) {
	doc := domain.Document{
		ID:    "latency",
		Title: "Latency Runbook",
		Body: "# Triggers\n- high_latency\n\n# Decision Tree\n- If cpu above 90%: scale out procedure\n- Else: escalate\n\n# Scale Out Procedure\n1. Add replicas\n",
	}

	rb, ok := Extract(doc)
	require.True(t, ok)
	require.NotNil(t, rb.DecisionTree)
	assert.Equal(t, "cpu above 90%", rb.DecisionTree.Root.Condition)
	assert.Equal(t, "scale out procedure", rb.DecisionTree.Root.Branches["yes"].Action)
	assert.Equal(t, "escalate", rb.DecisionTree.Root.Branches["no"].Action)
}

func TestExtract_RejectsTreeReferencingMissingProcedure(t *testing.T) {
	doc := domain.Document{
		ID:    "latency",
		Title: "Latency Runbook",
		Body: "# Triggers\n- high_latency\n\n# Decision Tree\n- If cpu above 90%: run_defrag\n- Else: escalate\n\n# Scale Out Procedure\n1. Add replicas\n",
	}

	_, ok := Extract(doc)
	assert.False(t, ok, "a tree pointing at a procedure the runbook does not carry must be rejected")
}

func TestExtract_RejectsJSONTreeReferencingMissingProcedure(t *testing.T) {
	doc := domain.Document{
		ID:    "disk-full",
		Title: "Disk Full",
		Body: `{
			"id": "disk-full",
			"triggers": [{"alert_type": "disk_full", "severity": ["high"], "systems": ["db-01"]}],
			"decision_tree": {"root": {"condition": "is it the data volume", "branches": {
				"yes": {"action": "expand_volume"},
				"no": {"action": "p1"}
			}}},
			"procedures": [{"id": "p1", "name": "Clear space", "steps": [{"action": "remove temp files"}]}]
		}`,
	}

	_, ok := Extract(doc)
	assert.False(t, ok)
}

func TestExtract_AcceptsJSONTreeWithProcedureAndEscalationActions(t *testing.T) {
	doc := domain.Document{
		ID:    "disk-full",
		Title: "Disk Full",
		Body: `{
			"id": "disk-full",
			"triggers": [{"alert_type": "disk_full", "severity": ["high"], "systems": ["db-01"]}],
			"decision_tree": {"root": {"condition": "is it the data volume", "branches": {
				"yes": {"action": "p1"},
				"no": {"action": "escalate"}
			}}},
			"procedures": [{"id": "p1", "name": "Clear space", "steps": [{"action": "remove temp files"}]}]
		}`,
	}

	rb, ok := Extract(doc)
	require.True(t, ok)
	require.NotNil(t, rb.DecisionTree)
	assert.True(t, rb.HasProcedure("p1"))
}

func TestExtract_SynthesizesLinearTreeWhenAbsent(t *testing.T) {
	doc := domain.Document{
		ID:    "ordered.md",
		Title: "Failover Runbook",
		Body:  "# Triggers\n- failover\n\n# Procedure\n1. Stop writes\n2. Promote replica\n",
	}
	rb, ok := Extract(doc)
	require.True(t, ok)
	require.NotNil(t, rb.DecisionTree)
	require.NotNil(t, rb.DecisionTree.Root)
	assert.True(t, rb.DecisionTree.Root.IsTerminal())
	assert.Equal(t, rb.Procedures[0].ID, rb.DecisionTree.Root.Action)
}
