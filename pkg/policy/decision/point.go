package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"esoe-hq/pdp/pkg/policy"
	"esoe-hq/pdp/pkg/policy/expr"
	dtrace "esoe-hq/pdp/pkg/policy/trace"
	"esoe-hq/pdp/pkg/telemetry/tracing"
)

// CacheReader is the read-only view of the policy cache a Point needs.
type CacheReader interface {
	Get(descriptorID string) []policy.Policy
	Size() int
}

// Recorder receives one observation per decision.
type Recorder interface {
	RecordDecision(decision policy.Decision, elapsed time.Duration)
}

// Request is a single authorization question.
type Request struct {
	// Resource is the resource the principal is trying to access.
	Resource string `json:"resource"`

	// Issuer is the descriptor ID of the enforcement point asking.
	Issuer string `json:"issuer"`

	// Attributes are the principal's identity attributes.
	Attributes map[string][]string `json:"attributes,omitempty"`

	// Action is the requested action. Empty matches rules that declare no
	// actions.
	Action string `json:"action,omitempty"`
}

// Point makes authorization decisions against a policy cache.
type Point struct {
	cache     CacheReader
	config    *Config
	evaluator *expr.Evaluator
	patterns  *expr.Patterns
	recorder  Recorder
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewPoint creates a decision point. A nil config uses DefaultConfig; a
// default mode other than PERMIT or DENY is rejected.
func NewPoint(cache CacheReader, config *Config, logger *slog.Logger) (*Point, error) {
	if cache == nil {
		return nil, fmt.Errorf("policy cache cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "policy.decision")

	patterns := &expr.Patterns{}
	return &Point{
		cache:     cache,
		config:    config,
		evaluator: expr.NewEvaluator(patterns, logger),
		patterns:  patterns,
		tracer:    noop.NewTracerProvider().Tracer(""),
		logger:    logger,
	}, nil
}

// WithRecorder attaches a decision recorder.
func (p *Point) WithRecorder(r Recorder) *Point {
	p.recorder = r
	return p
}

// WithTracer attaches a tracer used for decision spans.
func (p *Point) WithTracer(t trace.Tracer) *Point {
	if t != nil {
		p.tracer = t
	}
	return p
}

// DefaultMode returns the configured default decision.
func (p *Point) DefaultMode() policy.Decision {
	return p.config.DefaultMode
}

// MakeAuthzDecision evaluates req against the issuer's cached policies.
// When dd is non-nil it is filled with the evaluation trace.
func (p *Point) MakeAuthzDecision(req Request, dd *dtrace.DecisionData) policy.Decision {
	return p.Decide(context.Background(), req, dd)
}

// Decide is MakeAuthzDecision with a context for span propagation.
func (p *Point) Decide(ctx context.Context, req Request, dd *dtrace.DecisionData) policy.Decision {
	start := time.Now()
	_, span := p.tracer.Start(ctx, "decision.evaluate",
		trace.WithAttributes(tracing.DecisionAttributes(req.Issuer, req.Resource, req.Action)...))
	defer span.End()

	decision := p.decide(req, dd)

	tracing.SetDecision(span, string(decision))
	if p.recorder != nil {
		p.recorder.RecordDecision(decision, time.Since(start))
	}
	return decision
}

func (p *Point) decide(req Request, dd *dtrace.DecisionData) policy.Decision {
	defaultMode := p.config.DefaultMode
	if p.cache.Size() == 0 {
		p.logger.Error("policy cache is empty, denying request",
			"issuer", req.Issuer,
			"resource", req.Resource)
		defaultMode = policy.Deny
	}

	policies := p.cache.Get(req.Issuer)
	if policies == nil {
		p.logger.Debug("no policies for issuer, using default",
			"issuer", req.Issuer,
			"default", defaultMode)
		if dd != nil {
			dd.SetDecisionMessage(fmt.Sprintf("No matching policy located for %s. Falling through to default state of %s.", req.Issuer, defaultMode))
		}
		return defaultMode
	}

	p.logger.Debug("evaluating request",
		"issuer", req.Issuer,
		"resource", req.Resource,
		"policies", len(policies))

	if dd == nil {
		dd = dtrace.New()
	}
	return p.evaluate(policies, req, dd, defaultMode)
}

// outcome is the result of one rule; the zero value means no decision.
type outcome int

const (
	noOutcome outcome = iota
	permitOutcome
	denyOutcome
)

func (p *Point) evaluate(policies []policy.Policy, req Request, dd *dtrace.DecisionData, defaultMode policy.Decision) policy.Decision {
	result := noOutcome
	attrs := expr.Attributes(req.Attributes)

scan:
	for i := range policies {
		pol := &policies[i]
		dd.AddProcessedPolicy(pol.ID)
		if p.config.TraceDecisions {
			p.logger.Debug("processing policy", "policy_id", pol.ID)
		}

		for _, policyResource := range pol.Target.Resources {
			if !p.resourceMatches(req.Resource, policyResource) {
				continue
			}

			for j := range pol.Rules {
				rule := &pol.Rules[j]
				dd.AddProcessedRule(rule.ID)
				if p.config.TraceDecisions {
					p.logger.Debug("processing rule", "policy_id", pol.ID, "rule_id", rule.ID)
				}

				ruleResources := rule.Resources()
				if len(ruleResources) == 0 {
					ruleResources = pol.Target.Resources
				}

				for _, ruleResource := range ruleResources {
					if !p.resourceMatches(req.Resource, ruleResource) {
						continue
					}
					if !actionAllowed(req.Action, pol.Target.Actions, rule.Actions()) {
						p.logger.Warn("invalid action in authorization request",
							"issuer", req.Issuer,
							"action", req.Action,
							"policy_id", pol.ID,
							"rule_id", rule.ID)
						continue
					}

					switch p.processRule(rule, attrs) {
					case denyOutcome:
						result = denyOutcome
						// Only the DENY-triggering match is reported.
						dd.ClearTargets()
						dd.AddGroupTarget(policyResource)
						dd.AddMatch(ruleResource)
						break scan
					case permitOutcome:
						result = permitOutcome
					}
					dd.AddGroupTarget(policyResource)
					dd.AddMatch(ruleResource)
				}
			}
		}
	}

	switch result {
	case denyOutcome:
		dd.SetDecisionMessage(fmt.Sprintf("Identified DENY state for principal in Policy %s Rule %s. Evaluated %s.",
			dd.CurrentPolicy(), dd.CurrentRule(), dd.ProcessedPoliciesString()))
		return policy.Deny
	case permitOutcome:
		dd.SetDecisionMessage(fmt.Sprintf("Identified PERMIT state for principal. Evaluated %s.",
			dd.ProcessedPoliciesString()))
		return policy.Permit
	default:
		dd.SetDecisionMessage(fmt.Sprintf("Policies located and rules evaluated but no explicit outcome detected. Falling through to default state of %s.",
			defaultMode))
		return defaultMode
	}
}

// processRule applies the rule's effect when its condition holds. A
// structurally invalid condition never holds.
func (p *Point) processRule(rule *policy.Rule, attrs expr.Attributes) outcome {
	if rule.Condition != nil {
		ok, err := p.evaluator.Evaluate(rule.Condition, attrs)
		if err != nil {
			p.logger.Warn("ignoring rule with invalid condition",
				"rule_id", rule.ID,
				"error", err)
			return noOutcome
		}
		if !ok {
			return noOutcome
		}
	}

	switch rule.Effect {
	case policy.EffectPermit:
		return permitOutcome
	case policy.EffectDeny:
		return denyOutcome
	default:
		return noOutcome
	}
}

// resourceMatches reports whether resource equals pattern or fully matches
// it as a regular expression. Invalid patterns only match by equality.
func (p *Point) resourceMatches(resource, pattern string) bool {
	if resource == pattern {
		return true
	}
	ok, err := p.patterns.MatchString(pattern, resource)
	return err == nil && ok
}

// actionAllowed checks the requested action against the rule's actions, or
// the policy's when the rule declares none. No declared actions allows any.
func actionAllowed(action string, policyActions, ruleActions []string) bool {
	actions := ruleActions
	if len(actions) == 0 {
		if len(policyActions) == 0 {
			return true
		}
		actions = policyActions
	}
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}
