package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Decision outcomes.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Metrics records gate decisions per factor.
type Metrics struct {
	decisionsTotal *prometheus.CounterVec
	checkDuration  *prometheus.HistogramVec
}

// NewMetrics creates gate metrics registered with registerer. A nil
// registerer leaves them unregistered, which tests rely on.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "wikiclip"
	}

	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "decisions_total",
				Help:      "Total number of gate decisions by factor, outcome and failure kind",
			},
			[]string{"factor", "outcome", "kind"},
		),
		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "check_duration_seconds",
				Help:      "Duration of a single factor check in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"factor"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(m.decisionsTotal, m.checkDuration)
	}
	m.Init()

	return m
}

// Init pre-populates label combinations so series appear before the
// first request.
func (m *Metrics) Init() {
	factors := []Factor{FactorAPIKey, FactorSession, FactorActionToken}
	kinds := []Kind{KindMissingCredential, KindInvalidCredential, KindPolicyViolation}

	for _, f := range factors {
		m.decisionsTotal.WithLabelValues(string(f), OutcomeAllowed, "")
		for _, k := range kinds {
			m.decisionsTotal.WithLabelValues(string(f), OutcomeDenied, string(k))
		}
		m.decisionsTotal.WithLabelValues(string(f), OutcomeError, string(KindUnavailable))
		m.checkDuration.WithLabelValues(string(f))
	}
}

// RecordDecision records one factor check. err is nil for an allowed
// request.
func (m *Metrics) RecordDecision(factor Factor, err error, duration time.Duration) {
	outcome, kind := OutcomeAllowed, ""
	if err != nil {
		outcome, kind = OutcomeDenied, string(KindInvalidCredential)
		if ae, ok := AsAuthError(err); ok {
			kind = string(ae.Kind)
		}
		if IsUnavailable(err) {
			outcome, kind = OutcomeError, string(KindUnavailable)
		}
	}

	m.decisionsTotal.WithLabelValues(string(factor), outcome, kind).Inc()
	m.checkDuration.WithLabelValues(string(factor)).Observe(duration.Seconds())
}
