// Package decision answers authorization requests against the policy cache.
//
// For a request from an enforcement point (the issuer) the decision point
// walks that issuer's policies in cache order. A policy applies when one of
// its target resources equals, or fully matches as a regular expression,
// the requested resource. Within an applicable policy each rule is checked
// against its own target resources (or the policy's when it declares none)
// and actions, and its condition is evaluated against the principal's
// attributes.
//
// # Combining
//
// A DENY outcome ends the whole scan immediately. PERMIT outcomes are
// remembered while the scan continues. The final decision is DENY if any
// rule denied, otherwise PERMIT if any rule permitted, otherwise the
// configured default mode. An empty cache always denies.
//
// # Trace
//
// Callers that need to know why a decision was made pass a
// trace.DecisionData, which receives the processed policies and rules, the
// matched group targets and a decision message. After a DENY the group
// targets hold only the match that triggered it.
//
// # Thread Safety
//
// Point is safe for concurrent use. It reads an immutable cache snapshot
// per request and performs no blocking I/O.
package decision
