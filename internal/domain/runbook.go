package domain

import "time"

// Severity is the alert severity scale used throughout the system.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a recognized severity level.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Trigger associates an alert type and severity set with affected
// systems. The structured form is authoritative; Runbook JSON may also
// carry a legacy flat `triggers: [string]` form, decoded separately by
// the extractor.
type Trigger struct {
	AlertType  string     `json:"alert_type" validate:"required"`
	Severities []Severity `json:"severity"`
	Systems    []string   `json:"systems"`
	Conditions []string   `json:"conditions,omitempty"`
}

// SeverityPolicy is the response contract for a given severity level.
type SeverityPolicy struct {
	ResponseTimeBudget time.Duration `json:"response_time_budget"`
	AutoEscalate       bool          `json:"auto_escalate"`
	ImmediateAction    bool          `json:"immediate_action"`
}

// RunbookMetadata carries the extractor's own confidence about the
// runbook plus operational history, not the result-level confidence
// computed by the query engine.
type RunbookMetadata struct {
	ConfidenceScore   float64   `json:"confidence_score"`
	SuccessRate       float64   `json:"success_rate"`
	AvgResolutionMins float64   `json:"avg_resolution_minutes"`
	LastValidated     time.Time `json:"last_validated"`
	Dependencies      []string  `json:"dependencies,omitempty"`
}

// Runbook is a structured operational document keyed to alert conditions.
type Runbook struct {
	ID              string                    `json:"id" validate:"required"`
	Title           string                    `json:"title" validate:"required"`
	Version         string                    `json:"version"`
	Triggers        []Trigger                 `json:"triggers" validate:"required,min=1"`
	SeverityMapping map[Severity]SeverityPolicy `json:"severity_mapping"`
	DecisionTree    *DecisionTree             `json:"decision_tree"`
	Procedures      []Procedure               `json:"procedures" validate:"required,min=1"`
	Metadata        RunbookMetadata           `json:"metadata"`
}

// HasProcedure reports whether id names a procedure in the runbook.
func (r *Runbook) HasProcedure(id string) bool {
	for _, p := range r.Procedures {
		if p.ID == id {
			return true
		}
	}
	return false
}

// ProcedureStep is one action of a Procedure.
type ProcedureStep struct {
	Action          string        `json:"action" validate:"required"`
	Command         string        `json:"command,omitempty"`
	ExpectedOutcome string        `json:"expected_outcome,omitempty"`
	Timeout         time.Duration `json:"timeout,omitempty"`
}

// Procedure is an ordered, executable sequence of steps.
type Procedure struct {
	ID               string          `json:"id" validate:"required"`
	Name             string          `json:"name" validate:"required"`
	Steps            []ProcedureStep `json:"steps"`
	Prerequisites    []string        `json:"prerequisites,omitempty"`
	ToolsRequired    []string        `json:"tools_required,omitempty"`
	RollbackSteps    []ProcedureStep `json:"rollback_steps,omitempty"`
	SuccessCriteria  []string        `json:"success_criteria,omitempty"`
	EstimatedMinutes float64         `json:"estimated_duration_minutes,omitempty"`
}

// DecisionTree is a rooted, acyclic tree of nodes navigating alert
// context to a terminal action.
type DecisionTree struct {
	Root *DecisionNode `json:"root"`
}

// DecisionNode is either a predicate node (Condition set, Branches
// populated) or a terminal node (Action set, Branches empty).
type DecisionNode struct {
	// Condition is a human-readable predicate description. It is not
	// evaluated: navigation scores each Branches label against the
	// alert context.
	Condition string                   `json:"condition,omitempty"`
	Branches  map[string]*DecisionNode `json:"branches,omitempty"`

	// Terminal fields.
	Action    string   `json:"action,omitempty"`
	NextSteps []string `json:"next_steps,omitempty"`
}

// IsTerminal reports whether n is a leaf action node.
func (n *DecisionNode) IsTerminal() bool {
	return len(n.Branches) == 0
}

// Walk visits every node in the tree in pre-order.
func (t *DecisionTree) Walk(visit func(*DecisionNode)) {
	var walk func(*DecisionNode)
	walk = func(n *DecisionNode) {
		if n == nil {
			return
		}
		visit(n)
		for _, child := range n.Branches {
			walk(child)
		}
	}
	walk(t.Root)
}
