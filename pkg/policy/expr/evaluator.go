package expr

import (
	"log/slog"
	"strings"
)

// Attributes maps a subject attribute name to the principal's values for
// it. A missing key means the principal has no values for that attribute.
type Attributes map[string][]string

// Evaluator evaluates condition expressions against principal attributes.
// It is stateless apart from its pattern cache and is safe for concurrent
// use.
type Evaluator struct {
	patterns *Patterns
	logger   *slog.Logger
}

// NewEvaluator creates an evaluator. A nil patterns cache gets a private
// one; a nil logger falls back to slog.Default().
func NewEvaluator(patterns *Patterns, logger *slog.Logger) *Evaluator {
	if patterns == nil {
		patterns = &Patterns{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		patterns: patterns,
		logger:   logger.With("component", "policy.expr"),
	}
}

// Evaluate returns the boolean value of node for the given attributes.
//
// An error wrapping ErrInvalidArgument is returned when the tree is
// structurally invalid (a not without exactly one operand, a match function
// missing designators or literals, or a match function containing something
// other than a normalizer). Unknown functions evaluate to false.
func (e *Evaluator) Evaluate(node *Node, attrs Attributes) (bool, error) {
	if node == nil {
		return false, invalid("", "condition has no root expression")
	}
	return e.eval(node, attrs)
}

func (e *Evaluator) eval(n *Node, attrs Attributes) (bool, error) {
	switch n.Function {
	case FunctionAnd:
		return e.evalAnd(n, attrs)
	case FunctionOr:
		return e.evalOr(n, attrs)
	case FunctionNot:
		return e.evalNot(n, attrs)
	case FunctionStringEqual, FunctionStringRegexMatch:
		return e.evalMatch(n, attrs)
	case FunctionNormalizeLower, FunctionNormalizeSpace:
		// Normalizers only modify a match function.
		e.logger.Debug("normalizer used outside a match function", "function", n.Function)
		return false, nil
	default:
		e.logger.Debug("unknown function evaluates to false", "function", n.Function)
		return false, nil
	}
}

// evalAnd is true only if every operand is a nested expression that
// evaluates to true. An empty and is true.
func (e *Evaluator) evalAnd(n *Node, attrs Attributes) (bool, error) {
	if len(n.Attributes) > 0 || len(n.Values) > 0 {
		return false, nil
	}
	for i := range n.Apply {
		ok, err := e.eval(&n.Apply[i], attrs)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// evalOr is true as soon as one nested operand is true. An empty or is
// false. Designators and literals placed directly under or are ignored.
func (e *Evaluator) evalOr(n *Node, attrs Attributes) (bool, error) {
	for i := range n.Apply {
		ok, err := e.eval(&n.Apply[i], attrs)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (e *Evaluator) evalNot(n *Node, attrs Attributes) (bool, error) {
	if len(n.Apply) != 1 {
		return false, invalid(n.Function, "requires exactly one nested expression, got %d", len(n.Apply))
	}
	ok, err := e.eval(&n.Apply[0], attrs)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

type normalizers struct {
	lower bool
	space bool
}

func (nz normalizers) apply(v string) string {
	if nz.lower {
		v = strings.ToLower(v)
	}
	if nz.space {
		v = strings.TrimSpace(v)
	}
	return v
}

func leafNormalizers(n *Node) (normalizers, error) {
	var nz normalizers
	for i := range n.Apply {
		switch n.Apply[i].Function {
		case FunctionNormalizeLower:
			nz.lower = true
		case FunctionNormalizeSpace:
			nz.space = true
		default:
			return nz, invalid(n.Function, "may only contain %s or %s, got %q",
				FunctionNormalizeLower, FunctionNormalizeSpace, n.Apply[i].Function)
		}
	}
	return nz, nil
}

// evalMatch implements string-equal and string-regex-match. It returns
// true on the first principal value that equals (or fully matches) any
// literal. Normalization applies to principal values only.
func (e *Evaluator) evalMatch(n *Node, attrs Attributes) (bool, error) {
	nz, err := leafNormalizers(n)
	if err != nil {
		return false, err
	}
	if len(n.Attributes) == 0 || len(n.Values) == 0 {
		return false, invalid(n.Function, "requires at least one subject attribute and one value")
	}

	regex := n.Function == FunctionStringRegexMatch
	for _, literal := range n.Values {
		if regex {
			if _, err := e.patterns.Compile(literal); err != nil {
				e.logger.Warn("skipping invalid regular expression in condition",
					"pattern", literal,
					"error", err)
				continue
			}
		}
		for _, name := range n.Attributes {
			for _, v := range attrs[name] {
				v = nz.apply(v)
				if regex {
					if ok, _ := e.patterns.MatchString(literal, v); ok {
						return true, nil
					}
				} else if v == literal {
					return true, nil
				}
			}
		}
	}
	return false, nil
}
