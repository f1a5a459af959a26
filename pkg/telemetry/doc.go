// Package telemetry groups the decision point's observability packages.
//
//   - logging: slog construction with request scoped fields and redaction
//   - metrics: Prometheus collector for decisions, the cache processor and
//     failure tracking
//   - tracing: OpenTelemetry tracer provider with OTLP gRPC export
//   - health: liveness and readiness endpoints
//
// Each subpackage is configured from config.TelemetryConfig and wired
// together by cmd/pdpd.
package telemetry
