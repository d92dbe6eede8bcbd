// Package dispatch implements the Tool Dispatcher: the fixed
// seven-verb vocabulary shared by the stdio and HTTP ingresses, schema
// validation via go-playground/validator, cache-eligibility ("pure"
// tools only), and the common response envelope
// (success/data/error + a metadata block).
package dispatch

import "time"

// Envelope is the response shape every tool call returns.
type Envelope struct {
	Success  bool        `json:"success"`
	Data     any         `json:"data,omitempty"`
	Error    *ErrorBody  `json:"error,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

// ErrorBody is the user-visible error shape.
type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details ErrorDetails `json:"details"`
}

// ErrorDetails carries recovery guidance alongside an error.
type ErrorDetails struct {
	CorrelationID    string   `json:"correlation_id"`
	RecoveryActions  []string `json:"recovery_actions,omitempty"`
	RetryRecommended bool     `json:"retry_recommended"`
}

// Metadata is the envelope's common metadata block.
type Metadata struct {
	CorrelationID    string  `json:"correlation_id"`
	ExecutionTimeMS  int64   `json:"execution_time_ms"`
	CacheHit         bool    `json:"cache_hit"`
	ConfidenceScore  float64 `json:"confidence_score,omitempty"`
	MatchReasons     []string `json:"match_reasons,omitempty"`
	RetrievalTimeMS  int64   `json:"retrieval_time_ms,omitempty"`
	Source           string  `json:"source,omitempty"`
	Degraded         bool    `json:"degraded,omitempty"`
}

func elapsedMS(since time.Time) int64 {
	return time.Since(since).Milliseconds()
}
