package expr

import (
	"fmt"
	"strings"
)

// Function identifies the operation performed by a Node.
type Function string

// Supported functions. Anything else evaluates to false.
const (
	FunctionAnd              Function = "and"
	FunctionOr               Function = "or"
	FunctionNot              Function = "not"
	FunctionStringEqual      Function = "string-equal"
	FunctionStringRegexMatch Function = "string-regex-match"
	FunctionNormalizeLower   Function = "string-normalize-to-lower-case"
	FunctionNormalizeSpace   Function = "string-normalize-space"
)

// IsCombinator reports whether f combines nested nodes.
func (f Function) IsCombinator() bool {
	return f == FunctionAnd || f == FunctionOr || f == FunctionNot
}

// IsMatch reports whether f compares attribute values against literals.
func (f Function) IsMatch() bool {
	return f == FunctionStringEqual || f == FunctionStringRegexMatch
}

// IsNormalizer reports whether f is a string normalization modifier.
func (f Function) IsNormalizer() bool {
	return f == FunctionNormalizeLower || f == FunctionNormalizeSpace
}

// Known reports whether f is part of the supported vocabulary.
func (f Function) Known() bool {
	return f.IsCombinator() || f.IsMatch() || f.IsNormalizer()
}

// Node is one element of a condition expression tree, discriminated by its
// Function tag.
//
// Combinators (and, or, not) use Apply for their operands. Match functions
// (string-equal, string-regex-match) read subject attribute designators
// from Attributes and literals from Values; their Apply list may only hold
// normalizer nodes, which transform the principal's attribute values
// before comparison.
type Node struct {
	Function   Function `yaml:"function" json:"function"`
	Apply      []Node   `yaml:"apply,omitempty" json:"apply,omitempty"`
	Attributes []string `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	Values     []string `yaml:"values,omitempty" json:"values,omitempty"`
}

// And builds an and node.
func And(children ...Node) Node {
	return Node{Function: FunctionAnd, Apply: children}
}

// Or builds an or node.
func Or(children ...Node) Node {
	return Node{Function: FunctionOr, Apply: children}
}

// Not builds a not node.
func Not(child Node) Node {
	return Node{Function: FunctionNot, Apply: []Node{child}}
}

// StringEqual builds a string-equal node comparing attribute against values.
func StringEqual(attribute string, values ...string) Node {
	return Node{Function: FunctionStringEqual, Attributes: []string{attribute}, Values: values}
}

// StringRegexMatch builds a string-regex-match node.
func StringRegexMatch(attribute string, patterns ...string) Node {
	return Node{Function: FunctionStringRegexMatch, Attributes: []string{attribute}, Values: patterns}
}

// WithNormalizers returns a copy of a match node with the given normalizer
// functions appended to its Apply list.
func (n Node) WithNormalizers(fns ...Function) Node {
	out := *n.Clone()
	for _, fn := range fns {
		out.Apply = append(out.Apply, Node{Function: fn})
	}
	return out
}

// Clone returns a deep copy of the node. Cloning nil yields nil.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Function: n.Function}
	if n.Apply != nil {
		out.Apply = make([]Node, len(n.Apply))
		for i := range n.Apply {
			out.Apply[i] = *n.Apply[i].Clone()
		}
	}
	if n.Attributes != nil {
		out.Attributes = append([]string(nil), n.Attributes...)
	}
	if n.Values != nil {
		out.Values = append([]string(nil), n.Values...)
	}
	return out
}

// String renders the node in a compact prefix form, e.g.
// and(string-equal(uid="alice"),not(...)).
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	var sb strings.Builder
	n.write(&sb)
	return sb.String()
}

func (n *Node) write(sb *strings.Builder) {
	sb.WriteString(string(n.Function))
	sb.WriteByte('(')
	first := true
	sep := func() {
		if !first {
			sb.WriteByte(',')
		}
		first = false
	}
	for _, a := range n.Attributes {
		sep()
		sb.WriteString(a)
	}
	for _, v := range n.Values {
		sep()
		fmt.Fprintf(sb, "%q", v)
	}
	for i := range n.Apply {
		sep()
		n.Apply[i].write(sb)
	}
	sb.WriteByte(')')
}
