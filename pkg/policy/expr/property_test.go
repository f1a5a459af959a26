package expr

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

var propertyAttrs = Attributes{"k": {"yes"}}

var (
	trueLeaf  = StringEqual("k", "yes")
	falseLeaf = StringEqual("k", "no")
)

// genTree draws a random combinator tree over constant leaves together with
// its expected truth value computed independently of the evaluator.
func genTree(t *rapid.T, depth int) (Node, bool) {
	kind := rapid.IntRange(0, 4).Draw(t, "kind")
	if depth <= 0 || kind < 2 {
		if kind%2 == 0 {
			return trueLeaf, true
		}
		return falseLeaf, false
	}

	switch kind {
	case 2:
		n := rapid.IntRange(0, 3).Draw(t, "and_len")
		children := make([]Node, n)
		want := true
		for i := range children {
			var v bool
			children[i], v = genTree(t, depth-1)
			want = want && v
		}
		return And(children...), want
	case 3:
		n := rapid.IntRange(0, 3).Draw(t, "or_len")
		children := make([]Node, n)
		want := false
		for i := range children {
			var v bool
			children[i], v = genTree(t, depth-1)
			want = want || v
		}
		return Or(children...), want
	default:
		child, v := genTree(t, depth-1)
		return Not(child), !v
	}
}

func TestEvaluator_CombinatorProperty(t *testing.T) {
	e := newTestEvaluator()
	rapid.Check(t, func(t *rapid.T) {
		tree, want := genTree(t, 4)
		got, err := e.Evaluate(&tree, propertyAttrs)
		if err != nil {
			t.Fatalf("Evaluate(%s) error = %v", tree.String(), err)
		}
		if got != want {
			t.Fatalf("Evaluate(%s) = %v, want %v", tree.String(), got, want)
		}
	})
}

func TestEvaluator_DoubleNegationProperty(t *testing.T) {
	e := newTestEvaluator()
	rapid.Check(t, func(t *rapid.T) {
		tree, _ := genTree(t, 3)
		plain, err := e.Evaluate(&tree, propertyAttrs)
		if err != nil {
			t.Fatal(err)
		}
		doubled := Not(Not(tree))
		negated, err := e.Evaluate(&doubled, propertyAttrs)
		if err != nil {
			t.Fatal(err)
		}
		if plain != negated {
			t.Fatalf("not(not(x)) = %v, x = %v for %s", negated, plain, tree.String())
		}
	})
}

func TestEvaluator_LowerNormalizerProperty(t *testing.T) {
	e := newTestEvaluator()
	rapid.Check(t, func(t *rapid.T) {
		value := rapid.StringMatching(`[A-Za-z]{1,12}`).Draw(t, "value")
		node := StringEqual("uid", strings.ToLower(value)).WithNormalizers(FunctionNormalizeLower)

		got, err := e.Evaluate(&node, Attributes{"uid": {value}})
		if err != nil {
			t.Fatal(err)
		}
		if !got {
			t.Fatalf("lower-cased %q should equal %q", value, strings.ToLower(value))
		}
	})
}

func TestEvaluator_MissingAttributeNeverMatchesProperty(t *testing.T) {
	e := newTestEvaluator()
	rapid.Check(t, func(t *rapid.T) {
		literal := rapid.String().Draw(t, "literal")
		fn := rapid.SampledFrom([]Function{FunctionStringEqual, FunctionStringRegexMatch}).Draw(t, "fn")
		node := Node{Function: fn, Attributes: []string{"absent"}, Values: []string{literal}}

		got, err := e.Evaluate(&node, Attributes{"present": {literal}})
		if err != nil {
			t.Fatalf("missing attribute must not be an error: %v", err)
		}
		if got {
			t.Fatal("missing attribute matched")
		}
	})
}
