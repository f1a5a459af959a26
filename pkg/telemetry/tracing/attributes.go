package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrIssuer    = "pdp.issuer"
	AttrResource  = "pdp.resource"
	AttrAction    = "pdp.action"
	AttrDecision  = "pdp.decision"
	AttrPolicyID  = "pdp.policy.id"
	AttrRequestID = "pdp.request_id"

	AttrRebuildKind        = "pdp.rebuild.kind"
	AttrRebuildDescriptors = "pdp.rebuild.descriptors"
	AttrNotifyDescriptors  = "pdp.notify.descriptors"

	AttrDescriptor = "pdp.descriptor.id"
	AttrEndpoint   = "pdp.endpoint"
	AttrReason     = "pdp.notify.reason"

	AttrErrorMessage = "error.message"
)

// DecisionAttributes describes an authorization request.
func DecisionAttributes(issuer, resource, action string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrIssuer, issuer),
		attribute.String(AttrResource, resource),
	}
	if action != "" {
		attrs = append(attrs, attribute.String(AttrAction, action))
	}
	return attrs
}

// SetDecision records the outcome of a decision on span.
func SetDecision(span trace.Span, decision string) {
	span.SetAttributes(attribute.String(AttrDecision, decision))
}

// NotifyAttributes describes one cache clear delivery.
func NotifyAttributes(descriptor, endpoint, reason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrDescriptor, descriptor),
		attribute.String(AttrEndpoint, endpoint),
		attribute.String(AttrReason, reason),
	}
}
