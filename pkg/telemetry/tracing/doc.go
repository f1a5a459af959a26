// Package tracing configures OpenTelemetry tracing for the decision point.
//
// New builds a Tracer from config.TracingConfig. When tracing is disabled
// the Tracer hands out a noop trace.Tracer, so components can always be
// given one:
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	point := decision.NewPoint(cache, dcfg, logger).WithTracer(tracer.Tracer())
//
// Spans are exported over OTLP gRPC. The tracer provider and propagator are
// not installed globally; the HTTP server and the cache clear transport take
// them from the Tracer explicitly.
//
// # Sampling
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    sampler: ratio      # always, never, ratio
//	    sample_ratio: 0.1
//
// Every sampler is wrapped in ParentBased so an incoming sampled
// traceparent is honored.
//
// # Attributes
//
// Decision point attributes use the "pdp." prefix; see attributes.go.
package tracing
