package dispatch

import (
	"fmt"
	"strings"

	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
)

// DecisionTreeResult is the get_decision_tree tool's output: the raw
// tree plus, at each predicate node actually walked, a confidence per
// candidate branch, the greedily-navigated path, and the resolved
// terminal action.
type DecisionTreeResult struct {
	Tree              *domain.DecisionTree `json:"decision_tree"`
	BranchConfidences map[string]float64   `json:"branch_confidences"`
	NavigatedPath     []string             `json:"navigated_path"`
	TerminalAction    string               `json:"terminal_action,omitempty"`
	NextSteps         []string             `json:"next_steps,omitempty"`
}

// navigateDecisionTree walks tree from the root, at every predicate
// node scoring each branch label against alert by token overlap with
// the branch label text, greedily following the highest-scoring
// branch, skipping labels already recorded in alert.Agent's attempted
// steps. It stops at the first terminal node or when no branch scores
// above zero.
func navigateDecisionTree(tree *domain.DecisionTree, alert domain.AlertContext) DecisionTreeResult {
	out := DecisionTreeResult{Tree: tree, BranchConfidences: map[string]float64{}}
	if tree == nil || tree.Root == nil {
		return out
	}

	attempted := map[string]bool{}
	if alert.Agent != nil {
		for _, s := range alert.Agent.AttemptedSteps {
			attempted[s] = true
		}
	}

	haystack := strings.ToLower(alert.AlertType + " " + string(alert.Severity) + " " + strings.Join(alert.AffectedSystems, " "))
	needleTokens := tokenize(haystack)

	node := tree.Root
	depth := 0
	for node != nil && !node.IsTerminal() {
		var bestLabel string
		var bestScore float64 = -1
		var bestChild *domain.DecisionNode
		for label, child := range node.Branches {
			score := overlapScore(needleTokens, tokenize(label))
			out.BranchConfidences[fmt.Sprintf("%d:%s", depth, label)] = score
			if attempted[label] {
				continue
			}
			if score > bestScore {
				bestScore, bestLabel, bestChild = score, label, child
			}
		}
		if bestChild == nil || bestScore <= 0 {
			break
		}
		out.NavigatedPath = append(out.NavigatedPath, bestLabel)
		node = bestChild
		depth++
	}

	if node != nil && node.IsTerminal() {
		out.TerminalAction = node.Action
		out.NextSteps = node.NextSteps
	}
	return out
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f != "" {
			set[f] = struct{}{}
		}
	}
	return set
}

// overlapScore is the Jaccard similarity between two token sets, 0
// when either is empty.
func overlapScore(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
