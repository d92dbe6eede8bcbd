package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// typeCounters is a small mutex-guarded per-content-type hit counter,
// backing Manager.Stats' HitsByType field.
type typeCounters struct {
	mu   sync.Mutex
	hits map[string]int64
}

func (c *typeCounters) hit(contentType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hits == nil {
		c.hits = make(map[string]int64)
	}
	c.hits[contentType]++
}

func (c *typeCounters) snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.hits))
	for k, v := range c.hits {
		out[k] = v
	}
	return out
}

func (c *typeCounters) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits = make(map[string]int64)
}

// Metrics holds Prometheus instrumentation for the hybrid cache.
type Metrics struct {
	Hits      *prometheus.CounterVec
	Misses    *prometheus.CounterVec
	Errors    *prometheus.CounterVec
	Size      *prometheus.GaugeVec
	Latency   *prometheus.HistogramVec
}

// NewMetrics returns the cache metric collectors, registered on a
// private registry so several Managers in one process never collide
// on metric names.
func NewMetrics() *Metrics {
	factory := promauto.With(prometheus.NewRegistry())
	return &Metrics{
		Hits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "knowledgesvc",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total cache hits by tier.",
		}, []string{"tier"}),
		Misses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "knowledgesvc",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total cache misses by tier.",
		}, []string{"tier"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "knowledgesvc",
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Total cache errors by tier and type.",
		}, []string{"tier", "error_type"}),
		Size: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "knowledgesvc",
			Subsystem: "cache",
			Name:      "size_entries",
			Help:      "Current number of entries held by a tier.",
		}, []string{"tier"}),
		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "knowledgesvc",
			Subsystem: "cache",
			Name:      "operation_duration_seconds",
			Help:      "Cache operation duration in seconds.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"tier", "operation", "status"}),
	}
}
