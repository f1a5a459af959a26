package metrics

import (
	"time"

	"esoe-hq/pdp/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// DecisionMetrics tracks authorization decisions.
//
// Metrics:
//   - pdp_decisions_total: decisions by outcome
//   - pdp_decision_duration_seconds: time spent in the decision algorithm
type DecisionMetrics struct {
	decisionsTotal   *prometheus.CounterVec
	decisionDuration prometheus.Histogram
}

// NewDecisionMetrics creates and registers decision metrics.
func NewDecisionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *DecisionMetrics {
	dm := &DecisionMetrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "decisions_total",
				Help:      "Total number of authorization decisions by outcome",
			},
			[]string{"decision"},
		),
		decisionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "decision_duration_seconds",
				Help:      "Duration of authorization decisions in seconds",
				Buckets:   cfg.DecisionDurationBuckets,
			},
		),
	}

	registry.MustRegister(dm.decisionsTotal, dm.decisionDuration)
	return dm
}

// Record records one decision.
func (dm *DecisionMetrics) Record(decision string, elapsed time.Duration) {
	dm.decisionsTotal.WithLabelValues(decision).Inc()
	dm.decisionDuration.Observe(elapsed.Seconds())
}
