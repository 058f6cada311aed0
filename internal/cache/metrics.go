package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for cache operations.
type Metrics struct {
	hitsTotal         prometheus.Counter
	missesTotal       prometheus.Counter
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the process-wide cache metrics.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
		metricsInstance.Init()
	})
	return metricsInstance
}

// MustRegister registers the cache collectors with registry.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	registry.MustRegister(
		m.hitsTotal,
		m.missesTotal,
		m.operationDuration,
		m.errorsTotal,
	)
}

// Init pre-populates label combinations.
func (m *Metrics) Init() {
	for _, op := range []string{"get", "set", "setnx", "incr", "ttl", "delete"} {
		m.operationDuration.WithLabelValues(op)
		m.errorsTotal.WithLabelValues(op)
	}
}

func newMetrics() *Metrics {
	return &Metrics{
		hitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "wikiclip",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of cache hits",
			},
		),
		missesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "wikiclip",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of cache misses",
			},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wikiclip",
				Subsystem: "cache",
				Name:      "operation_duration_seconds",
				Help:      "Duration of cache operations",
				Buckets: []float64{
					.0001, .0005, .001, .005,
					.01, .025, .05, .1,
				},
			},
			[]string{"operation"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wikiclip",
				Subsystem: "cache",
				Name:      "errors_total",
				Help:      "Total number of cache errors",
			},
			[]string{"operation"},
		),
	}
}
