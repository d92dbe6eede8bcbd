package domain

import "time"

// HealthSnapshot is a point-in-time health reading for one component.
type HealthSnapshot struct {
	Component       string            `json:"component"`
	Healthy         bool              `json:"healthy"`
	Error           string            `json:"error,omitempty"`
	LastChecked     time.Time         `json:"last_checked"`
	RollingLatency  time.Duration     `json:"rolling_latency"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// AdapterMetadata is the summary returned by an adapter's GetMetadata.
type AdapterMetadata struct {
	Name              string  `json:"name"`
	Kind              string  `json:"kind"`
	DocumentCount     int     `json:"document_count"`
	AvgResponseTimeMS float64 `json:"avg_response_time_ms"`
	SuccessRate       float64 `json:"success_rate"`
}
