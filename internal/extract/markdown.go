package extract

import (
	"regexp"
	"strings"

	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
)

var (
	headingRe     = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	numberedStep  = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.*)$`)
	bulletRe      = regexp.MustCompile(`^\s*[-*]\s+(.*)$`)
	fenceRe       = regexp.MustCompile("^\\s*```")
	alertTypeLine = regexp.MustCompile(`(?i)^\s*[-*]?\s*alert[_ ]?type:\s*(.+)$`)
)

// extractMarkdown applies heading/keyword/numbered-step heuristics to
// recover a best-effort Runbook from free-form markdown. It returns
// false when no heading names a trigger, decision, procedure, step or
// resolution section, when no trigger or no procedure with steps is
// recovered, or when the recovered decision tree is not valid.
func extractMarkdown(doc domain.Document) (domain.Runbook, bool) {
	lines := strings.Split(doc.Body, "\n")

	var (
		triggers      []domain.Trigger
		procedures    []domain.Procedure
		decisionTree  *domain.DecisionTree
		currentProc   *domain.Procedure
		section       string
		sawSignal     bool
		fenceOpen     bool
		pendingStepIx int = -1
	)

	flushProc := func() {
		if currentProc != nil && len(currentProc.Steps) > 0 {
			procedures = append(procedures, *currentProc)
		}
		currentProc = nil
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if fenceRe.MatchString(line) {
			fenceOpen = !fenceOpen
			continue
		}
		if fenceOpen {
			if currentProc != nil && pendingStepIx >= 0 && pendingStepIx < len(currentProc.Steps) {
				step := currentProc.Steps[pendingStepIx]
				if step.Command == "" {
					step.Command = strings.TrimSpace(line)
					currentProc.Steps[pendingStepIx] = step
				}
			}
			continue
		}

		if m := headingRe.FindStringSubmatch(line); m != nil {
			heading := strings.ToLower(strings.TrimSpace(m[2]))
			switch {
			case strings.Contains(heading, "trigger"):
				section = "triggers"
				sawSignal = true
			case strings.Contains(heading, "decision"):
				section = "decision"
				sawSignal = true
			case strings.Contains(heading, "procedure") || strings.Contains(heading, "step") || strings.Contains(heading, "resolution"):
				flushProc()
				section = "procedure"
				sawSignal = true
				currentProc = &domain.Procedure{ID: slug(m[2]), Name: strings.TrimSpace(m[2])}
			default:
				section = ""
			}
			continue
		}

		switch section {
		case "triggers":
			if m := alertTypeLine.FindStringSubmatch(line); m != nil {
				triggers = append(triggers, domain.Trigger{AlertType: strings.TrimSpace(m[1])})
			} else if m := bulletRe.FindStringSubmatch(line); m != nil {
				text := strings.TrimSpace(m[1])
				if text != "" {
					triggers = append(triggers, domain.Trigger{AlertType: text})
				}
			}
		case "procedure":
			if m := numberedStep.FindStringSubmatch(line); m != nil && currentProc != nil {
				currentProc.Steps = append(currentProc.Steps, domain.ProcedureStep{Action: strings.TrimSpace(m[2])})
				pendingStepIx = len(currentProc.Steps) - 1
			}
		case "decision":
			if decisionTree == nil {
				decisionTree = parseDecisionSection(lines[i:])
			}
		}
	}
	flushProc()

	if !sawSignal {
		return domain.Runbook{}, false
	}
	if len(triggers) == 0 || len(procedures) == 0 {
		return domain.Runbook{}, false
	}

	id := doc.ID
	if id == "" {
		id = slug(doc.Title)
	}
	if decisionTree == nil {
		decisionTree = linearTree(procedures)
	}

	rb := domain.Runbook{
		ID:           id,
		Title:        doc.Title,
		Triggers:     triggers,
		Procedures:   procedures,
		DecisionTree: decisionTree,
	}
	if !treeRefsValid(&rb) {
		return domain.Runbook{}, false
	}
	return rb, true
}

// linearTree synthesizes an "all procedures in order" tree for
// documents that carry procedures but no explicit decision section:
// the terminal action is the first procedure, the rest follow as
// ordered next steps.
func linearTree(procedures []domain.Procedure) *domain.DecisionTree {
	if len(procedures) == 0 {
		return nil
	}
	next := make([]string, 0, len(procedures)-1)
	for _, p := range procedures[1:] {
		next = append(next, p.ID)
	}
	return &domain.DecisionTree{Root: &domain.DecisionNode{Action: procedures[0].ID, NextSteps: next}}
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
