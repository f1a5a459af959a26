package metrics

import (
	"context"
	"time"

	"esoe-hq/pdp/pkg/config"
	"esoe-hq/pdp/pkg/policy"

	"github.com/prometheus/client_golang/prometheus"
)

// Sizer reports the number of stored failure records.
type Sizer interface {
	Size(ctx context.Context) (int, error)
}

// Collector is the entry point for all decision point metrics. It
// registers every metric on its own registry and exposes recording methods
// for the decision point, the cache processor and the failure monitor.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	decisionMetrics  *DecisionMetrics
	processorMetrics *ProcessorMetrics
	failureMetrics   *FailureMetrics
}

// NewCollector creates a new metrics collector with the specified
// configuration and Prometheus registry. If registry is nil, a fresh
// registry is created.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.DecisionDurationBuckets) == 0 {
		cfg.DecisionDurationBuckets = append([]float64(nil), config.DefaultDecisionDurationBuckets...)
	}

	return &Collector{
		config:           cfg,
		registry:         registry,
		decisionMetrics:  NewDecisionMetrics(cfg, registry),
		processorMetrics: NewProcessorMetrics(cfg, registry),
		failureMetrics:   NewFailureMetrics(cfg, registry),
	}
}

// Enabled reports whether recording is active.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordDecision records one authorization decision and how long it took.
func (c *Collector) RecordDecision(decision policy.Decision, elapsed time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.decisionMetrics.Record(string(decision), elapsed)
}

// RecordPoll records one cache processor poll. result is "unchanged",
// "changed" or "error".
func (c *Collector) RecordPoll(result string) {
	if !c.config.Enabled {
		return
	}
	c.processorMetrics.polls.WithLabelValues(result).Inc()
}

// RecordRebuild records a cache rebuild attempt.
func (c *Collector) RecordRebuild(kind string, elapsed time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	c.processorMetrics.RecordRebuild(kind, elapsed, err)
}

// RecordNotification records one cache clear delivery attempt.
func (c *Collector) RecordNotification(success bool) {
	if !c.config.Enabled {
		return
	}
	c.processorMetrics.notifications.WithLabelValues(resultLabel(success)).Inc()
}

// RecordFailureRecorded counts a delivery failure added to the repository.
func (c *Collector) RecordFailureRecorded() {
	if !c.config.Enabled {
		return
	}
	c.failureMetrics.recorded.Inc()
}

// SetCacheDescriptors sets the number of descriptors in the policy cache.
func (c *Collector) SetCacheDescriptors(n int) {
	if !c.config.Enabled {
		return
	}
	c.processorMetrics.descriptors.Set(float64(n))
}

// RecordRetry records the outcome of one failure monitor pass.
func (c *Collector) RecordRetry(delivered, expired, failed int) {
	if !c.config.Enabled {
		return
	}
	c.failureMetrics.RecordRetry(delivered, expired, failed)
}

// TrackRepository exposes repo's size as a gauge read at scrape time.
// Only the first repository registered is tracked.
func (c *Collector) TrackRepository(repo Sizer) {
	if !c.config.Enabled || repo == nil {
		return
	}
	c.failureMetrics.Track(c.config, c.registry, repo)
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
