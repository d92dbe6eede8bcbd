package query

import (
	"strings"
	"time"

	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
)

// Weights for the composite confidence score.
const (
	weightTriggerMatch  = 0.40
	weightSeverityAlign = 0.20
	weightSystemOverlap = 0.20
	weightTextRelevance = 0.15
	weightFreshness     = 0.05

	freshnessFloorDays = 180.0
	freshnessCeilDays  = 7.0
)

// score is the composite confidence for one runbook against one
// alert, plus the names of every non-zero contributor, for the
// match_reasons list.
type score struct {
	value   float64
	reasons []string
}

// scoreRunbook computes the weighted composite confidence: exact
// trigger match, severity alignment, system overlap (Jaccard), text
// relevance, and freshness.
func scoreRunbook(rb domain.Runbook, alert domain.AlertContext, now time.Time) score {
	var s score

	if triggerMatches(rb, alert) {
		s.value += weightTriggerMatch
		s.reasons = append(s.reasons, "exact_trigger_match")
	}

	if severityAligned(rb, alert) {
		s.value += weightSeverityAlign
		s.reasons = append(s.reasons, "severity_alignment")
	}

	if overlap := systemOverlap(rb, alert); overlap > 0 {
		s.value += weightSystemOverlap * overlap
		s.reasons = append(s.reasons, "system_overlap")
	}

	if rel := textRelevance(rb, alert); rel > 0 {
		s.value += weightTextRelevance * rel
		s.reasons = append(s.reasons, "text_relevance")
	}

	if fresh := freshness(rb, now); fresh > 0 {
		s.value += weightFreshness * fresh
		s.reasons = append(s.reasons, "freshness")
	}

	if s.value > 1.0 {
		s.value = 1.0
	}
	return s
}

func triggerMatches(rb domain.Runbook, alert domain.AlertContext) bool {
	for _, t := range rb.Triggers {
		if strings.EqualFold(t.AlertType, alert.AlertType) {
			return true
		}
	}
	return false
}

func severityAligned(rb domain.Runbook, alert domain.AlertContext) bool {
	for _, t := range rb.Triggers {
		if !strings.EqualFold(t.AlertType, alert.AlertType) {
			continue
		}
		if len(t.Severities) == 0 {
			return true
		}
		for _, sev := range t.Severities {
			if sev == alert.Severity {
				return true
			}
		}
	}
	return false
}

func systemOverlap(rb domain.Runbook, alert domain.AlertContext) float64 {
	alertSystems := alert.SystemSet()
	if len(alertSystems) == 0 {
		return 0
	}
	var rbSystems map[string]struct{}
	for _, t := range rb.Triggers {
		if rbSystems == nil {
			rbSystems = make(map[string]struct{})
		}
		for _, sys := range t.Systems {
			rbSystems[sys] = struct{}{}
		}
	}
	if len(rbSystems) == 0 {
		return 0
	}
	return jaccard(alertSystems, rbSystems)
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// textRelevance approximates the adapter-level fuzzy+token score spec
// §4.3 describes, using a simple token-overlap ratio between the
// alert's own text (alert type plus free-form context values) and the
// runbook's title, matching the filesystem adapter's relevance idiom
// (matched tokens / total tokens) without re-running its full index.
func textRelevance(rb domain.Runbook, alert domain.AlertContext) float64 {
	queryTokens := tokenize(alert.AlertType)
	for _, v := range alert.Context {
		queryTokens = append(queryTokens, tokenize(v)...)
	}
	if len(queryTokens) == 0 {
		return 0
	}
	titleTokens := tokenSet(rb.Title)
	matched := 0
	for _, tok := range queryTokens {
		if _, ok := titleTokens[tok]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenize(text) {
		set[tok] = struct{}{}
	}
	return set
}

// freshness is 0 for runbooks last validated more than 180 days ago,
// 1 for runbooks validated within the last 7 days, and linear between.
func freshness(rb domain.Runbook, now time.Time) float64 {
	if rb.Metadata.LastValidated.IsZero() {
		return 0
	}
	ageDays := now.Sub(rb.Metadata.LastValidated).Hours() / 24
	switch {
	case ageDays <= freshnessCeilDays:
		return 1
	case ageDays >= freshnessFloorDays:
		return 0
	default:
		return 1 - (ageDays-freshnessCeilDays)/(freshnessFloorDays-freshnessCeilDays)
	}
}
