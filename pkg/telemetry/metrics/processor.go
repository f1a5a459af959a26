package metrics

import (
	"time"

	"esoe-hq/pdp/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// ProcessorMetrics tracks the cache processor.
//
// Metrics:
//   - pdp_processor_polls_total: store polls by result
//   - pdp_processor_rebuilds_total: rebuilds by kind and result
//   - pdp_processor_rebuild_duration_seconds: rebuild latency by kind
//   - pdp_processor_notifications_total: cache clear sends by result
//   - pdp_policy_cache_descriptors: descriptors held in the policy cache
type ProcessorMetrics struct {
	polls           *prometheus.CounterVec
	rebuilds        *prometheus.CounterVec
	rebuildDuration *prometheus.HistogramVec
	notifications   *prometheus.CounterVec
	descriptors     prometheus.Gauge
}

// NewProcessorMetrics creates and registers processor metrics.
func NewProcessorMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ProcessorMetrics {
	pm := &ProcessorMetrics{
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "processor",
				Name:      "polls_total",
				Help:      "Total number of policy store polls by result",
			},
			[]string{"result"},
		),
		rebuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "processor",
				Name:      "rebuilds_total",
				Help:      "Total number of policy cache rebuilds by kind and result",
			},
			[]string{"kind", "result"},
		),
		rebuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "processor",
				Name:      "rebuild_duration_seconds",
				Help:      "Duration of policy cache rebuilds in seconds",
				// Store queries plus parsing, 1ms to ~16s
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"kind"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "processor",
				Name:      "notifications_total",
				Help:      "Total number of cache clear requests sent by result",
			},
			[]string{"result"},
		),
		descriptors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "policy_cache_descriptors",
				Help:      "Number of descriptors with policies in the cache",
			},
		),
	}

	registry.MustRegister(
		pm.polls,
		pm.rebuilds,
		pm.rebuildDuration,
		pm.notifications,
		pm.descriptors,
	)
	return pm
}

// RecordRebuild records a rebuild attempt. Failed rebuilds are counted
// but not timed.
func (pm *ProcessorMetrics) RecordRebuild(kind string, elapsed time.Duration, err error) {
	if err != nil {
		pm.rebuilds.WithLabelValues(kind, "failure").Inc()
		return
	}
	pm.rebuilds.WithLabelValues(kind, "success").Inc()
	pm.rebuildDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}
