package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	issuerKey     contextKey = "issuer"
	descriptorKey contextKey = "descriptor_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithIssuer adds the issuer of an inbound request to the context.
func WithIssuer(ctx context.Context, issuer string) context.Context {
	return context.WithValue(ctx, issuerKey, issuer)
}

// GetIssuer retrieves the issuer from the context.
func GetIssuer(ctx context.Context) string {
	if v, ok := ctx.Value(issuerKey).(string); ok {
		return v
	}
	return ""
}

// WithDescriptor adds an enforcement point descriptor ID to the context.
func WithDescriptor(ctx context.Context, descriptorID string) context.Context {
	return context.WithValue(ctx, descriptorKey, descriptorID)
}

// GetDescriptor retrieves the descriptor ID from the context.
func GetDescriptor(ctx context.Context) string {
	if v, ok := ctx.Value(descriptorKey).(string); ok {
		return v
	}
	return ""
}

// contextAttrs returns the request scoped attributes present on ctx.
func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr
	if v := GetRequestID(ctx); v != "" {
		attrs = append(attrs, slog.String(string(requestIDKey), v))
	}
	if v := GetIssuer(ctx); v != "" {
		attrs = append(attrs, slog.String(string(issuerKey), v))
	}
	if v := GetDescriptor(ctx); v != "" {
		attrs = append(attrs, slog.String(string(descriptorKey), v))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return attrs
}

// ContextHandler adds request scoped fields from the record's context.
type ContextHandler struct {
	next slog.Handler
}

// NewContextHandler wraps next.
func NewContextHandler(next slog.Handler) *ContextHandler {
	return &ContextHandler{next: next}
}

// Enabled reports whether the wrapped handler handles level.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle adds context fields and forwards the record.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := contextAttrs(ctx); len(attrs) > 0 {
		r.AddAttrs(attrs...)
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs returns a ContextHandler around next.WithAttrs.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{next: h.next.WithAttrs(attrs)}
}

// WithGroup returns a ContextHandler around next.WithGroup.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{next: h.next.WithGroup(name)}
}
