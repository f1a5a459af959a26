package metrics

import (
	"context"
	"sync"
	"time"

	"esoe-hq/pdp/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// sizeTimeout bounds the repository query made during a scrape.
const sizeTimeout = 2 * time.Second

// FailureMetrics tracks cache clear delivery failures.
//
// Metrics:
//   - pdp_failures_recorded_total: failures added to the repository
//   - pdp_failures_retries_total: retry outcomes by result
//   - pdp_failure_repository_size: records currently stored
type FailureMetrics struct {
	recorded prometheus.Counter
	retries  *prometheus.CounterVec

	trackOnce sync.Once
}

// NewFailureMetrics creates and registers failure metrics.
func NewFailureMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *FailureMetrics {
	fm := &FailureMetrics{
		recorded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "failures",
				Name:      "recorded_total",
				Help:      "Total number of cache clear failures recorded for retry",
			},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "failures",
				Name:      "retries_total",
				Help:      "Total number of failure records processed by the retry monitor",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(fm.recorded, fm.retries)
	return fm
}

// RecordRetry adds one monitor pass to the retry counters.
func (fm *FailureMetrics) RecordRetry(delivered, expired, failed int) {
	fm.retries.WithLabelValues("delivered").Add(float64(delivered))
	fm.retries.WithLabelValues("expired").Add(float64(expired))
	fm.retries.WithLabelValues("failed").Add(float64(failed))
}

// Track registers a gauge reading repo's size on every scrape.
func (fm *FailureMetrics) Track(cfg *config.MetricsConfig, registry *prometheus.Registry, repo Sizer) {
	fm.trackOnce.Do(func() {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "failure_repository_size",
				Help:      "Number of cache clear failures awaiting retry",
			},
			func() float64 {
				ctx, cancel := context.WithTimeout(context.Background(), sizeTimeout)
				defer cancel()
				n, err := repo.Size(ctx)
				if err != nil {
					return -1
				}
				return float64(n)
			},
		))
	})
}
