// Package metrics provides Prometheus metrics for the policy decision point.
//
// # Overview
//
// A Collector owns a private registry and records:
//
//   - Decision metrics: decisions by outcome and decision latency
//   - Processor metrics: polls, rebuilds, rebuild latency, cache clear
//     notifications and the number of cached descriptors
//   - Failure metrics: recorded failures, retry outcomes and the current
//     repository size
//
// Collector satisfies decision.Recorder and processor.Observer, so it is
// passed straight to those components:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	point := decision.NewPoint(cache, dcfg, logger).WithRecorder(collector)
//	proc, err := processor.New(processor.Dependencies{..., Observer: collector}, pcfg, logger)
//
// All recording methods are no-ops when metrics are disabled.
//
// # Exposition
//
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
package metrics
