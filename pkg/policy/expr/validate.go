package expr

// Validate checks the structure of an expression tree without evaluating
// it. It reports the first problem found: unknown functions, a not without
// exactly one operand, match functions missing designators or literals,
// and normalizers placed anywhere other than inside a match function.
// Regular expression literals are not compiled here; an invalid pattern
// is skipped at evaluation time.
func Validate(node *Node) error {
	if node == nil {
		return invalid("", "condition has no root expression")
	}
	return validate(node)
}

func validate(n *Node) error {
	switch {
	case n.Function.IsCombinator():
		if n.Function == FunctionNot && len(n.Apply) != 1 {
			return invalid(n.Function, "requires exactly one nested expression, got %d", len(n.Apply))
		}
		for i := range n.Apply {
			if err := validate(&n.Apply[i]); err != nil {
				return err
			}
		}
		return nil
	case n.Function.IsMatch():
		if _, err := leafNormalizers(n); err != nil {
			return err
		}
		if len(n.Attributes) == 0 || len(n.Values) == 0 {
			return invalid(n.Function, "requires at least one subject attribute and one value")
		}
		return nil
	case n.Function.IsNormalizer():
		return invalid(n.Function, "normalizers are only valid inside %s or %s",
			FunctionStringEqual, FunctionStringRegexMatch)
	default:
		return invalid(n.Function, "unknown function")
	}
}
