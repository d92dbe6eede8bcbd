// Package monitor implements the Performance/Monitoring component:
// latency histograms per tool/adapter and a rule-based alerting
// channel. Threshold rules are evaluated on every recorded sample;
// violations become AlertRecord values pushed to a subscriber
// channel.
package monitor

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rule evaluates a named metric's latest sample and reports whether it
// should raise an alert.
type Rule struct {
	Name      string
	Metric    string
	Threshold float64
	Message   string
	// Evaluate reports whether sample breaches this rule. Defaults to
	// "sample > Threshold" when nil.
	Evaluate func(sample, threshold float64) bool
}

func (r Rule) evaluate(sample float64) bool {
	if r.Evaluate != nil {
		return r.Evaluate(sample, r.Threshold)
	}
	return sample > r.Threshold
}

// AlertRecord is one rule-violation event, delivered over Monitor's
// bounded alert channel.
type AlertRecord struct {
	Rule      string    `json:"rule"`
	Metric    string    `json:"metric"`
	Sample    float64   `json:"sample"`
	Threshold float64   `json:"threshold"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

const windowCapacity = 256

// Monitor tracks a rolling latency window per metric name, exposes
// Prometheus histograms, and evaluates configured rules on every
// Record call, publishing violations to a bounded alert channel.
type Monitor struct {
	mu      sync.Mutex
	windows map[string][]float64

	rules  []Rule
	alerts chan AlertRecord
	logger *slog.Logger

	registry *prometheus.Registry
	latency  *prometheus.HistogramVec
}

// New creates a Monitor with the given rule set, registering its
// Prometheus collectors on a private registry (so multiple Monitor
// instances in one process, e.g. in tests, never collide on metric
// names). Registry returns the registry for callers that want to
// federate it into a process-wide /metrics endpoint. alertBuffer
// bounds the alert channel; a full channel drops the newest alert
// (logged and discarded) rather than blocking the caller.
func New(rules []Rule, alertBuffer int, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if alertBuffer <= 0 {
		alertBuffer = 64
	}
	reg := prometheus.NewRegistry()
	return &Monitor{
		windows:  make(map[string][]float64),
		rules:    rules,
		alerts:   make(chan AlertRecord, alertBuffer),
		logger:   logger,
		registry: reg,
		latency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "knowledgesvc",
			Subsystem: "query",
			Name:      "latency_ms",
			Help:      "Retrieval latency in milliseconds by metric name.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"metric"}),
	}
}

// Registry exposes the Monitor's private Prometheus registry so a
// process can federate it into a shared /metrics handler.
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// Record appends sample to metric's rolling window, bumps the
// Prometheus histogram, and evaluates every configured rule whose
// Metric matches.
func (m *Monitor) Record(metric string, sample float64) {
	m.latency.WithLabelValues(metric).Observe(sample)

	m.mu.Lock()
	w := append(m.windows[metric], sample)
	if len(w) > windowCapacity {
		w = w[len(w)-windowCapacity:]
	}
	m.windows[metric] = w
	m.mu.Unlock()

	for _, r := range m.rules {
		if r.Metric != metric {
			continue
		}
		if r.evaluate(sample) {
			m.publish(AlertRecord{
				Rule: r.Name, Metric: metric, Sample: sample,
				Threshold: r.Threshold, Message: r.Message, At: time.Now(),
			})
		}
	}
}

func (m *Monitor) publish(rec AlertRecord) {
	select {
	case m.alerts <- rec:
	default:
		m.logger.Warn("monitor alert channel full, dropping alert", "rule", rec.Rule, "metric", rec.Metric)
	}
}

// Alerts returns the channel consumers subscribe to by taking from it.
func (m *Monitor) Alerts() <-chan AlertRecord {
	return m.alerts
}

// Percentile returns the p-th percentile (0..100) of metric's current
// rolling window, or 0 if no samples have been recorded.
func (m *Monitor) Percentile(metric string, p float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.windows[metric]
	if len(w) == 0 {
		return 0
	}
	sorted := append([]float64(nil), w...)
	sort.Float64s(sorted)
	idx := int(p / 100 * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
