package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"esoe-hq/pdp/pkg/config"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func enabledConfig(sampler string) *config.TracingConfig {
	return &config.TracingConfig{
		Enabled:     true,
		Sampler:     sampler,
		SampleRatio: 1.0,
		Endpoint:    "localhost:4317",
		ServiceName: "pdpd-test",
		OTLP: config.OTLPConfig{
			Insecure: true,
			Timeout:  time.Second,
		},
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		config      *config.TracingConfig
		wantErr     bool
		wantEnabled bool
	}{
		{
			name:    "nil config",
			config:  nil,
			wantErr: true,
		},
		{
			name:   "disabled tracing",
			config: &config.TracingConfig{Enabled: false},
		},
		{
			name:        "enabled with always sampler",
			config:      enabledConfig(SamplerAlways),
			wantEnabled: true,
		},
		{
			name:        "enabled with ratio sampler",
			config:      enabledConfig(SamplerRatio),
			wantEnabled: true,
		},
		{
			name:    "unknown sampler",
			config:  enabledConfig("sometimes"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, err := New(tt.config, "test")
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = tracer.Shutdown(ctx)
			}()

			if tracer.Enabled() != tt.wantEnabled {
				t.Errorf("Enabled() = %v, want %v", tracer.Enabled(), tt.wantEnabled)
			}
			if tracer.Tracer() == nil || tracer.Provider() == nil || tracer.Propagator() == nil {
				t.Error("expected tracer, provider and propagator to be set")
			}
		})
	}
}

func TestTracer_Disabled(t *testing.T) {
	tracer, err := New(&config.TracingConfig{}, "test")
	if err != nil {
		t.Fatal(err)
	}

	ctx, span := tracer.Start(context.Background(), "noop")
	defer span.End()

	if span.SpanContext().IsValid() {
		t.Error("disabled tracer should produce invalid span contexts")
	}
	if TraceID(ctx) != "" {
		t.Error("TraceID should be empty without a recording span")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if fields := tracer.Propagator().Fields(); len(fields) != 0 {
		t.Errorf("disabled propagator should have no fields, got %v", fields)
	}
}

func TestNewWithExporter_RecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := NewWithExporter(enabledConfig(SamplerAlways), "1.2.3", exporter)
	if err != nil {
		t.Fatal(err)
	}

	ctx, parent := tracer.Start(context.Background(), "processor.rebuild",
		trace.WithAttributes(attribute.String(AttrRebuildKind, "full")))
	if TraceID(ctx) == "" {
		t.Error("expected trace ID inside a recording span")
	}
	_, child := tracer.Start(ctx, "processor.cache_clear",
		trace.WithAttributes(NotifyAttributes("spep-a", "https://spep/cache", "startup")...))
	SetError(child, errors.New("connection refused"))
	child.End()
	parent.End()

	if err := tracer.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}
	defer tracer.Shutdown(context.Background())

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("exported %d spans, want 2", len(spans))
	}

	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}

	sendSpan := byName["processor.cache_clear"]
	if sendSpan.Parent.SpanID() != byName["processor.rebuild"].SpanContext.SpanID() {
		t.Error("cache clear span should be a child of the rebuild span")
	}
	if sendSpan.Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", sendSpan.Status.Code)
	}
	if len(sendSpan.Events) == 0 {
		t.Error("expected recorded error event")
	}

	res := sendSpan.Resource.Attributes()
	found := false
	for _, kv := range res {
		if kv.Key == "service.name" && kv.Value.AsString() == "pdpd-test" {
			found = true
		}
	}
	if !found {
		t.Errorf("resource missing service.name: %v", res)
	}
}

func TestNewWithExporter_Validation(t *testing.T) {
	if _, err := NewWithExporter(nil, "v", tracetest.NewInMemoryExporter()); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewWithExporter(enabledConfig(SamplerAlways), "v", nil); err == nil {
		t.Error("expected error for nil exporter")
	}
}

func TestTracer_PropagatorRoundTrip(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := NewWithExporter(enabledConfig(SamplerAlways), "v", exporter)
	if err != nil {
		t.Fatal(err)
	}
	defer tracer.Shutdown(context.Background())

	ctx, span := tracer.Start(context.Background(), "outbound")
	defer span.End()

	carrier := propagation.MapCarrier{}
	tracer.Propagator().Inject(ctx, carrier)
	if carrier.Get("traceparent") == "" {
		t.Fatal("traceparent not injected")
	}

	extracted := tracer.Propagator().Extract(context.Background(), carrier)
	if got := TraceID(extracted); got != span.SpanContext().TraceID().String() {
		t.Errorf("extracted trace ID %q, want %q", got, span.SpanContext().TraceID())
	}
}

func TestSetError_Nil(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := NewWithExporter(enabledConfig(SamplerAlways), "v", exporter)
	if err != nil {
		t.Fatal(err)
	}

	_, span := tracer.Start(context.Background(), "ok")
	SetError(span, nil)
	span.End()
	_ = tracer.ForceFlush(context.Background())
	defer tracer.Shutdown(context.Background())

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code != codes.Unset {
		t.Errorf("nil error should leave status unset, got %+v", spans)
	}
}
