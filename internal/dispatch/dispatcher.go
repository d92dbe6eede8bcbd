package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/knowledgesvc/internal/config"
	"github.com/vitaliisemenov/knowledgesvc/internal/domain"
	"github.com/vitaliisemenov/knowledgesvc/internal/errtax"
	"github.com/vitaliisemenov/knowledgesvc/internal/feedback"
	"github.com/vitaliisemenov/knowledgesvc/internal/health"
	"github.com/vitaliisemenov/knowledgesvc/internal/logging"
	"github.com/vitaliisemenov/knowledgesvc/internal/monitor"
	"github.com/vitaliisemenov/knowledgesvc/internal/query"
	"github.com/vitaliisemenov/knowledgesvc/internal/registry"
)

// Tool names one verb of the fixed tool vocabulary.
type Tool string

const (
	ToolSearchRunbooks            Tool = "search_runbooks"
	ToolGetDecisionTree           Tool = "get_decision_tree"
	ToolGetProcedure              Tool = "get_procedure"
	ToolGetEscalationPath         Tool = "get_escalation_path"
	ToolListSources               Tool = "list_sources"
	ToolSearchKnowledgeBase       Tool = "search_knowledge_base"
	ToolRecordResolutionFeedback  Tool = "record_resolution_feedback"
)

// Pure reports whether t's result may be cache-fingerprinted and
// served from the hybrid cache. Every tool is pure except the
// feedback-recording one, which has a side effect that must never be
// skipped by a cache hit.
func (t Tool) Pure() bool {
	return t != ToolRecordResolutionFeedback
}

// Dispatcher implements the Tool Dispatcher: it validates inputs,
// invokes the Query Engine / Registry / Health Aggregator / feedback
// sink, and shapes every response into the common Envelope.
type Dispatcher struct {
	engine     *query.Engine
	registry   *registry.Registry
	aggregator *health.Aggregator
	monitor    *monitor.Monitor
	feedback   *feedback.Sink
	escalation config.EscalationConfig
	logger     *slog.Logger
}

// New creates a Dispatcher wiring together the service's components.
func New(engine *query.Engine, reg *registry.Registry, agg *health.Aggregator, mon *monitor.Monitor, fb *feedback.Sink, escalation config.EscalationConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{engine: engine, registry: reg, aggregator: agg, monitor: mon, feedback: fb, escalation: escalation, logger: logger}
}

func (d *Dispatcher) correlationID(ctx context.Context) string {
	if id := logging.CorrelationID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

func (d *Dispatcher) errorEnvelope(ctx context.Context, start time.Time, err error) Envelope {
	code := errtax.CodeOf(err)
	var recovery []string
	if te, ok := errtax.As(err); ok {
		recovery = te.RecoveryActions
	}
	corr := d.correlationID(ctx)
	d.monitor.Record("dispatch.error", float64(elapsedMS(start)))
	return Envelope{
		Success: false,
		Error: &ErrorBody{
			Code:    string(code),
			Message: err.Error(),
			Details: ErrorDetails{
				CorrelationID:    corr,
				RecoveryActions:  recovery,
				RetryRecommended: code.RetryRecommended(),
			},
		},
		Metadata: Metadata{CorrelationID: corr, ExecutionTimeMS: elapsedMS(start)},
	}
}

func (d *Dispatcher) validationError(ctx context.Context, start time.Time, err error) Envelope {
	return d.errorEnvelope(ctx, start, errtax.New(errtax.CodeValidation, validationMessage(err), err))
}

// SearchRunbooks implements the search_runbooks tool.
func (d *Dispatcher) SearchRunbooks(ctx context.Context, req SearchRunbooksRequest) Envelope {
	start := time.Now()
	if err := validate.Struct(req); err != nil {
		return d.validationError(ctx, start, err)
	}

	alert := domain.AlertContext{AlertType: req.AlertType, Severity: req.Severity, AffectedSystems: req.AffectedSystems, Context: req.Context}
	result, err := d.engine.SearchRunbooks(ctx, alert, req.MaxResults)
	if err != nil {
		return d.errorEnvelope(ctx, start, err)
	}
	d.monitor.Record("search_runbooks", float64(result.LatencyMS))

	var confidence float64
	var reasons []string
	if len(result.Matches) > 0 {
		confidence = result.Matches[0].Confidence
		reasons = result.Matches[0].MatchReasons
	}
	return Envelope{
		Success: true,
		Data:    result.Matches,
		Metadata: Metadata{
			CorrelationID:   d.correlationID(ctx),
			ExecutionTimeMS: elapsedMS(start),
			CacheHit:        result.CacheHit,
			ConfidenceScore: confidence,
			MatchReasons:    reasons,
			RetrievalTimeMS: result.LatencyMS,
			Source:          "query_engine",
			Degraded:        result.Degraded,
		},
	}
}

// GetDecisionTree implements the get_decision_tree tool.
func (d *Dispatcher) GetDecisionTree(ctx context.Context, req GetDecisionTreeRequest) Envelope {
	start := time.Now()
	if err := validate.Struct(req); err != nil {
		return d.validationError(ctx, start, err)
	}

	var rb domain.Runbook
	if req.RunbookID != "" {
		found, ok, err := d.engine.GetRunbook(ctx, req.RunbookID)
		if err != nil {
			return d.errorEnvelope(ctx, start, err)
		}
		if !ok {
			return d.errorEnvelope(ctx, start, errtax.New(errtax.CodeNotFound, "runbook not found: "+req.RunbookID, nil))
		}
		rb = found
	} else {
		result, err := d.engine.SearchRunbooks(ctx, req.Alert, 1)
		if err != nil {
			return d.errorEnvelope(ctx, start, err)
		}
		if len(result.Matches) == 0 {
			return d.errorEnvelope(ctx, start, errtax.New(errtax.CodeNotFound, "no runbook matches the alert context", nil))
		}
		rb = result.Matches[0].Runbook
	}
	if rb.DecisionTree == nil {
		return d.errorEnvelope(ctx, start, errtax.New(errtax.CodeNotFound, "no decision tree for runbook "+rb.ID, nil))
	}

	alert := req.Alert
	alert.Agent = req.AgentState
	result := navigateDecisionTree(rb.DecisionTree, alert)
	d.monitor.Record("get_decision_tree", float64(elapsedMS(start)))

	return Envelope{
		Success: true,
		Data:    result,
		Metadata: Metadata{
			CorrelationID:   d.correlationID(ctx),
			ExecutionTimeMS: elapsedMS(start),
			Source:          "query_engine",
		},
	}
}

// GetProcedure implements the get_procedure tool.
func (d *Dispatcher) GetProcedure(ctx context.Context, req GetProcedureRequest) Envelope {
	start := time.Now()
	if err := validate.Struct(req); err != nil {
		return d.validationError(ctx, start, err)
	}
	if req.StepName == "" && req.ProcedureID == "" {
		return d.validationError(ctx, start, errtax.New(errtax.CodeValidation, "one of step_name or procedure_id is required", nil))
	}

	rb, ok, err := d.engine.GetRunbook(ctx, req.RunbookID)
	if err != nil {
		return d.errorEnvelope(ctx, start, err)
	}
	if !ok {
		return d.errorEnvelope(ctx, start, errtax.New(errtax.CodeNotFound, "runbook not found: "+req.RunbookID, nil))
	}

	for _, p := range rb.Procedures {
		if p.ID == req.ProcedureID || p.Name == req.StepName {
			d.monitor.Record("get_procedure", float64(elapsedMS(start)))
			return Envelope{
				Success: true,
				Data:    p,
				Metadata: Metadata{
					CorrelationID:   d.correlationID(ctx),
					ExecutionTimeMS: elapsedMS(start),
					Source:          "query_engine",
				},
			}
		}
	}
	return d.errorEnvelope(ctx, start, errtax.New(errtax.CodeNotFound, "no matching procedure in runbook "+req.RunbookID, nil))
}

// GetEscalationPath implements the get_escalation_path tool.
func (d *Dispatcher) GetEscalationPath(ctx context.Context, req GetEscalationPathRequest) Envelope {
	start := time.Now()
	if err := validate.Struct(req); err != nil {
		return d.validationError(ctx, start, err)
	}

	policy, ok := d.escalation.PolicyFor(string(req.Severity))
	if !ok {
		return d.errorEnvelope(ctx, start, errtax.New(errtax.CodeNotFound, "no escalation policy configured for severity "+string(req.Severity), nil))
	}

	// Business hours: every configured contact is reachable. Off-hours:
	// business-hours-only contacts are skipped.
	contacts := policy.Contacts
	if !req.BusinessHours {
		var filtered []config.Contact
		for _, c := range contacts {
			if !c.BusinessHoursOnly {
				filtered = append(filtered, c)
			}
		}
		contacts = filtered
	}

	advance := req.FailedAttempts >= policy.FailedAttemptThreshold

	d.monitor.Record("get_escalation_path", float64(elapsedMS(start)))
	return Envelope{
		Success: true,
		Data: map[string]any{
			"contacts":                  contacts,
			"failed_attempt_threshold":  policy.FailedAttemptThreshold,
			"initial_wait_before_next":  policy.InitialWaitBeforeNext.String(),
			"advance_to_next_recommended": advance,
		},
		Metadata: Metadata{CorrelationID: d.correlationID(ctx), ExecutionTimeMS: elapsedMS(start), Source: "escalation_config"},
	}
}

// ListSources implements the list_sources tool.
func (d *Dispatcher) ListSources(ctx context.Context) Envelope {
	start := time.Now()
	adapters := d.registry.Adapters()
	type sourceInfo struct {
		Name     string                 `json:"name"`
		Priority int                    `json:"priority"`
		Health   domain.HealthSnapshot  `json:"health"`
		Metadata domain.AdapterMetadata `json:"metadata"`
	}
	out := make([]sourceInfo, len(adapters))
	for i, a := range adapters {
		out[i] = sourceInfo{Name: a.Name(), Priority: a.Priority(), Health: a.HealthCheck(ctx), Metadata: a.GetMetadata(ctx)}
	}
	d.monitor.Record("list_sources", float64(elapsedMS(start)))
	return Envelope{
		Success: true,
		Data:    out,
		Metadata: Metadata{CorrelationID: d.correlationID(ctx), ExecutionTimeMS: elapsedMS(start), Source: "registry"},
	}
}

// SearchKnowledgeBase implements the search_knowledge_base tool.
func (d *Dispatcher) SearchKnowledgeBase(ctx context.Context, req SearchKnowledgeBaseRequest) Envelope {
	start := time.Now()
	if err := validate.Struct(req); err != nil {
		return d.validationError(ctx, start, err)
	}

	result, err := d.engine.SearchKnowledgeBase(ctx, req.Query, req.Categories, req.MaxResults)
	if err != nil {
		return d.errorEnvelope(ctx, start, err)
	}
	if req.MaxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -req.MaxAgeDays)
		var filtered []domain.SearchResult
		for _, r := range result.Results {
			if r.Document.LastModified.After(cutoff) {
				filtered = append(filtered, r)
			}
		}
		result.Results = filtered
	}
	d.monitor.Record("search_knowledge_base", float64(result.LatencyMS))

	var confidence float64
	var reasons []string
	if len(result.Results) > 0 {
		confidence = result.Results[0].Confidence
		reasons = result.Results[0].MatchReasons
	}
	return Envelope{
		Success: true,
		Data:    result.Results,
		Metadata: Metadata{
			CorrelationID:   d.correlationID(ctx),
			ExecutionTimeMS: elapsedMS(start),
			CacheHit:        result.CacheHit,
			ConfidenceScore: confidence,
			MatchReasons:    reasons,
			RetrievalTimeMS: result.LatencyMS,
			Source:          "query_engine",
			Degraded:        result.Degraded,
		},
	}
}

// RecordResolutionFeedback implements the record_resolution_feedback
// tool. This is the one non-pure tool: it is never cache-eligible and
// always performs its side effect.
func (d *Dispatcher) RecordResolutionFeedback(ctx context.Context, req RecordResolutionFeedbackRequest) Envelope {
	start := time.Now()
	if err := validate.Struct(req); err != nil {
		return d.validationError(ctx, start, err)
	}

	rec := feedback.Record{
		RunbookID:      req.RunbookID,
		ProcedureID:    req.ProcedureID,
		Outcome:        feedback.Outcome(req.Outcome),
		ElapsedMinutes: req.ElapsedMinutes,
		Notes:          req.Notes,
	}
	if err := d.feedback.Append(rec); err != nil {
		return d.errorEnvelope(ctx, start, errtax.New(errtax.CodeInternal, "failed to persist feedback", err))
	}

	d.monitor.Record("record_resolution_feedback", float64(elapsedMS(start)))
	return Envelope{
		Success: true,
		Data:    map[string]any{"acknowledged": true},
		Metadata: Metadata{CorrelationID: d.correlationID(ctx), ExecutionTimeMS: elapsedMS(start), Source: "feedback_sink"},
	}
}

// HealthSnapshot exposes the Health Aggregator for the HTTP ingress's
// read-only GET endpoint.
func (d *Dispatcher) HealthSnapshot(ctx context.Context) health.Overall {
	return d.aggregator.Snapshot(ctx)
}
