// Package trace records how a single authorization decision was reached:
// which policies and rules were processed, which policy resources (group
// targets) matched, which rule resources matched under each, and a
// human-readable decision message.
//
// A DecisionData is owned by one request and is not safe for concurrent
// use.
package trace

import (
	"strings"
)

// ProcessedPolicy lists the rules evaluated for one policy, in order.
type ProcessedPolicy struct {
	PolicyID string   `json:"policy_id"`
	Rules    []string `json:"rules"`
}

// GroupTarget is a policy resource together with the rule resources that
// matched the request beneath it.
type GroupTarget struct {
	Resource string   `json:"resource"`
	Matches  []string `json:"matches"`
}

// DecisionData accumulates evaluation state for one decision.
type DecisionData struct {
	currentPolicy string
	currentRule   string
	currentGroup  string
	currentMatch  string

	policies    []ProcessedPolicy
	policyIndex map[string]int

	groups     []GroupTarget
	groupIndex map[string]int

	message string
}

// New returns an empty DecisionData.
func New() *DecisionData {
	return &DecisionData{
		policyIndex: make(map[string]int),
		groupIndex:  make(map[string]int),
	}
}

// AddProcessedPolicy marks policyID as the policy being evaluated. Empty
// IDs are ignored.
func (d *DecisionData) AddProcessedPolicy(policyID string) {
	if policyID == "" {
		return
	}
	if _, ok := d.policyIndex[policyID]; !ok {
		d.policyIndex[policyID] = len(d.policies)
		d.policies = append(d.policies, ProcessedPolicy{PolicyID: policyID, Rules: []string{}})
	}
	d.currentPolicy = policyID
}

// AddProcessedRule records ruleID under the current policy. It is ignored
// when ruleID is empty or no policy has been added yet.
func (d *DecisionData) AddProcessedRule(ruleID string) {
	if ruleID == "" {
		return
	}
	idx, ok := d.policyIndex[d.currentPolicy]
	if !ok {
		return
	}
	d.policies[idx].Rules = append(d.policies[idx].Rules, ruleID)
	d.currentRule = ruleID
}

// CurrentPolicy returns the ID of the most recently added policy.
func (d *DecisionData) CurrentPolicy() string { return d.currentPolicy }

// CurrentRule returns the ID of the most recently processed rule.
func (d *DecisionData) CurrentRule() string { return d.currentRule }

// CurrentMatch returns the most recently matched rule resource.
func (d *DecisionData) CurrentMatch() string { return d.currentMatch }

// AddGroupTarget makes resource the group target that subsequent matches
// are recorded under, creating it if needed.
func (d *DecisionData) AddGroupTarget(resource string) {
	if _, ok := d.groupIndex[resource]; !ok {
		d.groupIndex[resource] = len(d.groups)
		d.groups = append(d.groups, GroupTarget{Resource: resource, Matches: []string{}})
	}
	d.currentGroup = resource
}

// AddMatch records a matched rule resource under the current group
// target. Duplicates are ignored.
func (d *DecisionData) AddMatch(resource string) {
	d.currentMatch = resource
	idx, ok := d.groupIndex[d.currentGroup]
	if !ok {
		d.AddGroupTarget(d.currentGroup)
		idx = d.groupIndex[d.currentGroup]
	}
	for _, m := range d.groups[idx].Matches {
		if m == resource {
			return
		}
	}
	d.groups[idx].Matches = append(d.groups[idx].Matches, resource)
}

// ClearTargets discards every group target and match recorded so far.
func (d *DecisionData) ClearTargets() {
	d.groups = nil
	d.groupIndex = make(map[string]int)
	d.currentGroup = ""
	d.currentMatch = ""
}

// GroupTargets returns the group target to matches map.
func (d *DecisionData) GroupTargets() map[string][]string {
	out := make(map[string][]string, len(d.groups))
	for _, g := range d.groups {
		out[g.Resource] = append([]string{}, g.Matches...)
	}
	return out
}

// GroupTargetList returns the group targets in the order they were added.
func (d *DecisionData) GroupTargetList() []GroupTarget {
	out := make([]GroupTarget, len(d.groups))
	for i, g := range d.groups {
		out[i] = GroupTarget{Resource: g.Resource, Matches: append([]string{}, g.Matches...)}
	}
	return out
}

// ProcessedPolicies returns the processed policies in evaluation order.
func (d *DecisionData) ProcessedPolicies() []ProcessedPolicy {
	out := make([]ProcessedPolicy, len(d.policies))
	for i, p := range d.policies {
		out[i] = ProcessedPolicy{PolicyID: p.PolicyID, Rules: append([]string{}, p.Rules...)}
	}
	return out
}

// ProcessedPoliciesString renders processed policies for log and decision
// messages, e.g. "{Policy : p1 : Rules [r1,r2]}{Policy : p2}".
func (d *DecisionData) ProcessedPoliciesString() string {
	var sb strings.Builder
	for _, p := range d.policies {
		sb.WriteString("{Policy : ")
		sb.WriteString(p.PolicyID)
		if len(p.Rules) > 0 {
			sb.WriteString(" : Rules [")
			sb.WriteString(strings.Join(p.Rules, ","))
			sb.WriteString("]")
		}
		sb.WriteString("}")
	}
	return sb.String()
}

// SetDecisionMessage stores the explanation of the final decision.
func (d *DecisionData) SetDecisionMessage(msg string) { d.message = msg }

// DecisionMessage returns the explanation of the final decision.
func (d *DecisionData) DecisionMessage() string { return d.message }

// Summary is a serializable snapshot of a DecisionData.
type Summary struct {
	ProcessedPolicies []ProcessedPolicy `json:"processed_policies"`
	GroupTargets      []GroupTarget     `json:"group_targets"`
	Message           string            `json:"message"`
}

// Summary returns a snapshot suitable for encoding.
func (d *DecisionData) Summary() Summary {
	return Summary{
		ProcessedPolicies: d.ProcessedPolicies(),
		GroupTargets:      d.GroupTargetList(),
		Message:           d.message,
	}
}
