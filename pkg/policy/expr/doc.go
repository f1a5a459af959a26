// Package expr implements the condition language used by authorization
// rules: a small, fixed vocabulary of boolean combinators (and, or, not)
// and string predicates (string-equal, string-regex-match) with two
// normalizers (string-normalize-to-lower-case, string-normalize-space).
//
// Expressions are trees of Node values discriminated by Function. The
// Evaluator walks the tree with a single recursive switch:
//
//	cond := expr.And(
//	    expr.StringEqual("type", "staff"),
//	    expr.Not(expr.StringRegexMatch("uid", "guest.*")),
//	)
//	ok, err := evaluator.Evaluate(&cond, expr.Attributes{"type": {"staff"}, "uid": {"alice"}})
//
// # Semantics
//
//   - and: true when every nested expression is true; empty is true
//   - or: true when any nested expression is true; empty is false
//   - not: negates exactly one nested expression
//   - string-equal / string-regex-match: true when any value of any named
//     attribute equals (or wholly matches) any literal
//
// A missing attribute is an empty set of values, never an error. Invalid
// regular expression literals are skipped. Unknown functions evaluate to
// false so that a malformed policy cannot grant access.
//
// # Thread Safety
//
// Evaluator and Patterns are safe for concurrent use.
package expr
