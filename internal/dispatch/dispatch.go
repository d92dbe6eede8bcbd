package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vitaliisemenov/knowledgesvc/internal/errtax"
)

// Dispatch routes a raw tool invocation to the matching typed handler.
// It is the single entry point both ingresses call: the stdio loop and
// the HTTP surface decode their transport framing, then hand the tool
// name and the still-raw arguments object here.
func (d *Dispatcher) Dispatch(ctx context.Context, tool Tool, rawArgs json.RawMessage) Envelope {
	start := time.Now()
	if len(rawArgs) == 0 {
		rawArgs = json.RawMessage("{}")
	}

	decode := func(v any) error {
		if err := json.Unmarshal(rawArgs, v); err != nil {
			return errtax.New(errtax.CodeValidation, "malformed arguments object", err)
		}
		return nil
	}

	switch tool {
	case ToolSearchRunbooks:
		var req SearchRunbooksRequest
		if err := decode(&req); err != nil {
			return d.errorEnvelope(ctx, start, err)
		}
		return d.SearchRunbooks(ctx, req)
	case ToolGetDecisionTree:
		var req GetDecisionTreeRequest
		if err := decode(&req); err != nil {
			return d.errorEnvelope(ctx, start, err)
		}
		return d.GetDecisionTree(ctx, req)
	case ToolGetProcedure:
		var req GetProcedureRequest
		if err := decode(&req); err != nil {
			return d.errorEnvelope(ctx, start, err)
		}
		return d.GetProcedure(ctx, req)
	case ToolGetEscalationPath:
		var req GetEscalationPathRequest
		if err := decode(&req); err != nil {
			return d.errorEnvelope(ctx, start, err)
		}
		return d.GetEscalationPath(ctx, req)
	case ToolListSources:
		return d.ListSources(ctx)
	case ToolSearchKnowledgeBase:
		var req SearchKnowledgeBaseRequest
		if err := decode(&req); err != nil {
			return d.errorEnvelope(ctx, start, err)
		}
		return d.SearchKnowledgeBase(ctx, req)
	case ToolRecordResolutionFeedback:
		var req RecordResolutionFeedbackRequest
		if err := decode(&req); err != nil {
			return d.errorEnvelope(ctx, start, err)
		}
		return d.RecordResolutionFeedback(ctx, req)
	default:
		return d.errorEnvelope(ctx, start, errtax.New(errtax.CodeValidation, "unknown tool: "+string(tool), nil))
	}
}
