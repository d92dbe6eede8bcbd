package extract

import (
	"regexp"
	"strings"

	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
)

var (
	ifConditionRe = regexp.MustCompile(`(?i)^\s*[-*]\s*if\s+(.+?):\s*(.+)$`)
	elseRe        = regexp.MustCompile(`(?i)^\s*[-*]\s*(?:else|otherwise):\s*(.+)$`)
)

type conditionBranch struct {
	condition string
	action    string
}

// parseDecisionSection reads the bulleted lines under a "Decision Tree"
// heading until the next heading; lines is the content immediately
// following the heading line (the heading itself already consumed by
// the caller). Lines of the form "- If <cond>: <action>" build a chain
// of predicate nodes; an "- Else: <action>" line terminates the chain.
// When no conditional bullets are present, the section degrades to a
// single terminal node whose Action is the first bullet and whose
// NextSteps are the remaining bullets in order,
// matching a plain numbered-step runbook that happens to sit under a
// "Decision Tree" heading.
func parseDecisionSection(lines []string) *domain.DecisionTree {
	var branches []conditionBranch
	var elseAction string
	var plain []string

	for _, line := range lines {
		if headingRe.MatchString(line) {
			break
		}
		if m := ifConditionRe.FindStringSubmatch(line); m != nil {
			branches = append(branches, conditionBranch{condition: strings.TrimSpace(m[1]), action: strings.TrimSpace(m[2])})
			continue
		}
		if m := elseRe.FindStringSubmatch(line); m != nil {
			elseAction = strings.TrimSpace(m[1])
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			text := strings.TrimSpace(m[1])
			if text != "" {
				plain = append(plain, text)
			}
		}
	}

	if len(branches) == 0 {
		if len(plain) == 0 {
			return nil
		}
		return &domain.DecisionTree{Root: &domain.DecisionNode{Action: plain[0], NextSteps: plain[1:]}}
	}

	var fallback *domain.DecisionNode
	if elseAction != "" {
		fallback = &domain.DecisionNode{Action: elseAction}
	}

	root := buildChain(branches, fallback)
	return &domain.DecisionTree{Root: root}
}

func buildChain(branches []conditionBranch, fallback *domain.DecisionNode) *domain.DecisionNode {
	if len(branches) == 0 {
		return fallback
	}
	head := branches[0]
	rest := buildChain(branches[1:], fallback)
	node := &domain.DecisionNode{
		Condition: head.condition,
		Branches: map[string]*domain.DecisionNode{
			"yes": {Action: head.action},
		},
	}
	if rest != nil {
		node.Branches["no"] = rest
	}
	return node
}
