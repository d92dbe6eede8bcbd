// Package extract turns a raw Document into a structured Runbook,
// preferring a JSON schema when the document declares one and falling
// back to markdown heuristics otherwise.
package extract

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
)

// Extract attempts to derive a Runbook from doc. It returns false when
// doc carries no recognizable runbook structure at all.
func Extract(doc domain.Document) (domain.Runbook, bool) {
	if looksLikeJSON(doc.Body) {
		if rb, ok := extractJSON(doc); ok {
			return rb, true
		}
	}
	return extractMarkdown(doc)
}

func looksLikeJSON(body string) bool {
	trimmed := strings.TrimSpace(body)
	return strings.HasPrefix(trimmed, "{")
}

// rawRunbook mirrors the structured JSON runbook schema: id, triggers,
// and procedures are required; triggers may be given either in
// structured form ({alert_type, severity, systems}) or as a legacy flat
// list of alert-type strings; the structured form is authoritative
// when present.
type rawRunbook struct {
	ID              string                         `json:"id"`
	Title           string                         `json:"title"`
	Version         string                         `json:"version"`
	Triggers        json.RawMessage                `json:"triggers"`
	SeverityMapping map[domain.Severity]rawPolicy  `json:"severity_mapping"`
	DecisionTree    *domain.DecisionTree           `json:"decision_tree"`
	Procedures      []domain.Procedure             `json:"procedures"`
}

type rawPolicy struct {
	ResponseTimeBudgetSeconds int  `json:"response_time_budget_seconds"`
	AutoEscalate              bool `json:"auto_escalate"`
	ImmediateAction           bool `json:"immediate_action"`
}

type structuredTrigger struct {
	AlertType  string           `json:"alert_type"`
	Severity   []domain.Severity `json:"severity"`
	Systems    []string         `json:"systems"`
	Conditions []string         `json:"conditions"`
}

func extractJSON(doc domain.Document) (domain.Runbook, bool) {
	var raw rawRunbook
	if err := json.Unmarshal([]byte(doc.Body), &raw); err != nil {
		return domain.Runbook{}, false
	}
	if raw.ID == "" || len(raw.Procedures) == 0 || len(raw.Triggers) == 0 {
		return domain.Runbook{}, false
	}

	triggers, ok := decodeTriggers(raw.Triggers)
	if !ok || len(triggers) == 0 {
		return domain.Runbook{}, false
	}

	mapping := make(map[domain.Severity]domain.SeverityPolicy, len(raw.SeverityMapping))
	for sev, pol := range raw.SeverityMapping {
		mapping[sev] = domain.SeverityPolicy{
			ResponseTimeBudget: time.Duration(pol.ResponseTimeBudgetSeconds) * time.Second,
			AutoEscalate:       pol.AutoEscalate,
			ImmediateAction:    pol.ImmediateAction,
		}
	}

	title := raw.Title
	if title == "" {
		title = doc.Title
	}
	tree := raw.DecisionTree
	if tree == nil {
		tree = linearTree(raw.Procedures)
	}

	rb := domain.Runbook{
		ID:              raw.ID,
		Title:           title,
		Version:         raw.Version,
		Triggers:        triggers,
		SeverityMapping: mapping,
		DecisionTree:    tree,
		Procedures:      raw.Procedures,
	}
	if !treeRefsValid(&rb) {
		return domain.Runbook{}, false
	}
	return rb, true
}

// escalationVerb reports whether action is a hand-off to a human
// rather than a reference to one of the runbook's own procedures.
func escalationVerb(action string) bool {
	a := strings.ToLower(strings.TrimSpace(action))
	return strings.HasPrefix(a, "escalate") || a == "page_oncall" || a == "notify_oncall"
}

// treeRefsValid enforces the runbook's referential integrity: every
// terminal action in the decision tree must name a procedure (by id
// or, for trees recovered from prose, by name) or an escalation verb.
// A runbook whose tree points at a procedure it does not carry is
// rejected rather than served.
func treeRefsValid(rb *domain.Runbook) bool {
	if rb.DecisionTree == nil {
		return true
	}
	valid := true
	rb.DecisionTree.Walk(func(n *domain.DecisionNode) {
		if !n.IsTerminal() || n.Action == "" {
			return
		}
		if rb.HasProcedure(n.Action) || escalationVerb(n.Action) {
			return
		}
		for _, p := range rb.Procedures {
			if strings.EqualFold(p.Name, n.Action) {
				return
			}
		}
		valid = false
	})
	return valid
}

// decodeTriggers accepts either the structured form
// ([{alert_type, severity, systems}]) or the legacy flat form
// (["alert-type", ...]), normalizing both into []domain.Trigger.
func decodeTriggers(raw json.RawMessage) ([]domain.Trigger, bool) {
	var structured []structuredTrigger
	if err := json.Unmarshal(raw, &structured); err == nil && len(structured) > 0 && structured[0].AlertType != "" {
		out := make([]domain.Trigger, 0, len(structured))
		for _, s := range structured {
			out = append(out, domain.Trigger{
				AlertType:  s.AlertType,
				Severities: s.Severity,
				Systems:    s.Systems,
				Conditions: s.Conditions,
			})
		}
		return out, true
	}

	var flat []string
	if err := json.Unmarshal(raw, &flat); err == nil {
		out := make([]domain.Trigger, 0, len(flat))
		for _, alertType := range flat {
			out = append(out, domain.Trigger{AlertType: alertType})
		}
		return out, true
	}

	return nil, false
}
