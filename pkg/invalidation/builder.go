package invalidation

import (
	"errors"
	"fmt"
	"time"

	"esoe-hq/pdp/pkg/policy"
)

// ErrNoCachedPolicies is returned when a request is built for a descriptor
// the policy source does not know.
var ErrNoCachedPolicies = errors.New("invalidation: no cached policies for descriptor")

// PolicySource supplies the policies a request is derived from.
type PolicySource interface {
	Get(descriptorID string) []policy.Policy
}

// Builder creates ClearCacheRequests from the current policy cache.
type Builder struct {
	source PolicySource
	issuer string
	ids    IDGenerator
	now    func() time.Time
}

// NewBuilder creates a builder issuing requests as issuer. A nil ids uses
// UUIDGenerator.
func NewBuilder(source PolicySource, issuer string, ids IDGenerator) (*Builder, error) {
	if source == nil {
		return nil, fmt.Errorf("policy source cannot be nil")
	}
	if issuer == "" {
		return nil, fmt.Errorf("issuer cannot be empty")
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &Builder{source: source, issuer: issuer, ids: ids, now: time.Now}, nil
}

// Build returns a request for descriptorID addressed to destination.
func (b *Builder) Build(descriptorID, destination, reason string) (*ClearCacheRequest, error) {
	policies := b.source.Get(descriptorID)
	if policies == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCachedPolicies, descriptorID)
	}
	return &ClearCacheRequest{
		ID:           b.ids.NewID(),
		Version:      Version,
		Destination:  destination,
		Reason:       reason,
		Issuer:       b.issuer,
		IssueInstant: b.now().UTC(),
		GroupTargets: GroupTargets(policies),
	}, nil
}

// GroupTargets derives one group target per policy resource. Its
// authorization targets are the resources of the policy's rules, with
// rules that declare none contributing the policy resources.
func GroupTargets(policies []policy.Policy) []GroupTarget {
	var out []GroupTarget
	for _, p := range policies {
		var authz []string
		seen := make(map[string]bool)
		for i := range p.Rules {
			resources := p.Rules[i].Resources()
			if len(resources) == 0 {
				resources = p.Target.Resources
			}
			for _, r := range resources {
				if !seen[r] {
					seen[r] = true
					authz = append(authz, r)
				}
			}
		}
		for _, resource := range p.Target.Resources {
			gt := GroupTarget{Resource: resource}
			if authz != nil {
				gt.AuthzTargets = append([]string(nil), authz...)
			}
			if p.Target.Actions != nil {
				gt.Actions = append([]string(nil), p.Target.Actions...)
			}
			out = append(out, gt)
		}
	}
	return out
}
