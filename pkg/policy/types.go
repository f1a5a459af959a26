package policy

import (
	"fmt"
	"strings"

	"esoe-hq/pdp/pkg/policy/expr"
)

// Effect is the outcome a rule applies when its target and condition match.
type Effect string

const (
	// EffectPermit grants access.
	EffectPermit Effect = "PERMIT"
	// EffectDeny refuses access and halts evaluation.
	EffectDeny Effect = "DENY"
)

// Decision is the result of an authorization request.
type Decision string

const (
	// Permit indicates that access is granted.
	Permit Decision = "PERMIT"
	// Deny indicates that access is refused.
	Deny Decision = "DENY"
)

// ParseDecision converts a case-insensitive string into a Decision.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(Permit):
		return Permit, nil
	case string(Deny):
		return Deny, nil
	default:
		return "", fmt.Errorf("unknown decision %q (expected PERMIT or DENY)", s)
	}
}

// Target lists the resources and actions a policy or rule applies to.
// Resources are literal strings or regular expressions matched against the
// whole requested resource.
type Target struct {
	Resources []string `yaml:"resources,omitempty" json:"resources,omitempty"`
	Actions   []string `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// Rule is a single effect-bearing statement within a policy.
type Rule struct {
	// ID identifies the rule within its policy.
	ID string `yaml:"id" json:"id"`

	// Description is free text for administrators.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Effect is applied when the rule matches.
	Effect Effect `yaml:"effect" json:"effect"`

	// Condition is evaluated against the principal's attributes. A nil
	// condition always matches.
	Condition *expr.Node `yaml:"condition,omitempty" json:"condition,omitempty"`

	// Target overrides the policy target when non-nil.
	Target *Target `yaml:"target,omitempty" json:"target,omitempty"`
}

// Resources returns the rule's own target resources, or nil when the rule
// inherits the policy target.
func (r *Rule) Resources() []string {
	if r.Target == nil {
		return nil
	}
	return r.Target.Resources
}

// Actions returns the rule's own target actions, or nil when none are
// declared.
func (r *Rule) Actions() []string {
	if r.Target == nil {
		return nil
	}
	return r.Target.Actions
}

// Policy groups rules under a common target.
type Policy struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Target      Target `yaml:"target" json:"target"`
	Rules       []Rule `yaml:"rules" json:"rules"`
}

// Clone returns a deep copy of the policy.
func (p Policy) Clone() Policy {
	out := Policy{
		ID:          p.ID,
		Description: p.Description,
		Target:      cloneTarget(p.Target),
	}
	if p.Rules != nil {
		out.Rules = make([]Rule, len(p.Rules))
		for i, r := range p.Rules {
			out.Rules[i] = Rule{
				ID:          r.ID,
				Description: r.Description,
				Effect:      r.Effect,
				Condition:   r.Condition.Clone(),
			}
			if r.Target != nil {
				t := cloneTarget(*r.Target)
				out.Rules[i].Target = &t
			}
		}
	}
	return out
}

func cloneTarget(t Target) Target {
	out := Target{}
	if t.Resources != nil {
		out.Resources = append([]string(nil), t.Resources...)
	}
	if t.Actions != nil {
		out.Actions = append([]string(nil), t.Actions...)
	}
	return out
}

// ClonePolicies deep-copies a policy list. A nil input yields nil.
func ClonePolicies(policies []Policy) []Policy {
	if policies == nil {
		return nil
	}
	out := make([]Policy, len(policies))
	for i, p := range policies {
		out[i] = p.Clone()
	}
	return out
}

// PolicySet is the full list of policies registered for one descriptor.
type PolicySet struct {
	DescriptorID string   `yaml:"descriptor_id" json:"descriptor_id"`
	Policies     []Policy `yaml:"policies" json:"policies"`
}

// Validate checks the structure of every policy, rule and condition in the
// set. All problems are collected into a single ValidationError.
func (ps *PolicySet) Validate() error {
	var problems []string

	if ps.DescriptorID == "" {
		problems = append(problems, "descriptor_id is required")
	}

	seen := make(map[string]bool, len(ps.Policies))
	for i, p := range ps.Policies {
		where := fmt.Sprintf("policies[%d]", i)
		if p.ID == "" {
			problems = append(problems, where+": id is required")
		} else if seen[p.ID] {
			problems = append(problems, fmt.Sprintf("%s: duplicate policy id %q", where, p.ID))
		}
		seen[p.ID] = true

		if len(p.Target.Resources) == 0 {
			problems = append(problems, where+": target.resources must not be empty")
		}

		for j, r := range p.Rules {
			rwhere := fmt.Sprintf("%s.rules[%d]", where, j)
			if r.ID == "" {
				problems = append(problems, rwhere+": id is required")
			}
			if r.Effect != EffectPermit && r.Effect != EffectDeny {
				problems = append(problems, fmt.Sprintf("%s: effect %q must be PERMIT or DENY", rwhere, r.Effect))
			}
			if r.Condition != nil {
				if err := expr.Validate(r.Condition); err != nil {
					problems = append(problems, fmt.Sprintf("%s.condition: %v", rwhere, err))
				}
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{DescriptorID: ps.DescriptorID, Problems: problems}
	}
	return nil
}

// ValidationError reports structural problems found in a policy set.
type ValidationError struct {
	DescriptorID string
	Problems     []string
}

// Error returns all problems joined into one message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid policy set %q: %s", e.DescriptorID, strings.Join(e.Problems, "; "))
}
