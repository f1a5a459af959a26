package invalidation

import "time"

// Version is the protocol version carried by every request.
const Version = "2.0"

// StatusSuccess is the only status code that acknowledges a cache clear.
const StatusSuccess = "urn:oasis:names:tc:SAML:2.0:status:Success"

// Well-known status codes returned by enforcement points.
const (
	StatusRequester = "urn:oasis:names:tc:SAML:2.0:status:Requester"
	StatusResponder = "urn:oasis:names:tc:SAML:2.0:status:Responder"
)

// Reasons attached to requests.
const (
	ReasonPolicyChange = "Policy cache updated: policies for this enforcement point have changed."
	ReasonSpepStartup  = "Enforcement point startup: sending current group targets."
)

// GroupTarget is a policy resource together with the rule resources and
// actions it governs.
type GroupTarget struct {
	Resource     string   `cbor:"1,keyasint" json:"resource"`
	AuthzTargets []string `cbor:"2,keyasint,omitempty" json:"authz_targets,omitempty"`
	Actions      []string `cbor:"3,keyasint,omitempty" json:"actions,omitempty"`
}

// ClearCacheRequest asks an enforcement point to drop its cached
// authorization decisions for the listed group targets.
type ClearCacheRequest struct {
	ID           string        `cbor:"1,keyasint" json:"id"`
	Version      string        `cbor:"2,keyasint" json:"version"`
	Destination  string        `cbor:"3,keyasint" json:"destination"`
	Reason       string        `cbor:"4,keyasint" json:"reason"`
	Issuer       string        `cbor:"5,keyasint" json:"issuer"`
	IssueInstant time.Time     `cbor:"6,keyasint" json:"issue_instant"`
	GroupTargets []GroupTarget `cbor:"7,keyasint,omitempty" json:"group_targets,omitempty"`
}

// Status is the outcome reported by an enforcement point.
type Status struct {
	Code    string `cbor:"1,keyasint" json:"code"`
	Message string `cbor:"2,keyasint,omitempty" json:"message,omitempty"`
}

// ClearCacheResponse is an enforcement point's answer to a
// ClearCacheRequest.
type ClearCacheResponse struct {
	ID           string    `cbor:"1,keyasint" json:"id"`
	InResponseTo string    `cbor:"2,keyasint" json:"in_response_to"`
	Issuer       string    `cbor:"3,keyasint" json:"issuer"`
	IssueInstant time.Time `cbor:"4,keyasint" json:"issue_instant"`
	Status       Status    `cbor:"5,keyasint" json:"status"`
}

// Succeeded reports whether the response carries StatusSuccess.
func (r *ClearCacheResponse) Succeeded() bool {
	return r.Status.Code == StatusSuccess
}
