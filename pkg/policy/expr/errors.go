package expr

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument indicates a structurally invalid expression. The
// decision point treats a rule whose condition fails with this error as
// non-matching.
var ErrInvalidArgument = errors.New("invalid expression argument")

// ArgumentError describes where in the tree an invalid argument was found.
type ArgumentError struct {
	Function Function
	Message  string
}

// Error returns the error message.
func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Function, e.Message)
}

// Unwrap allows errors.Is(err, ErrInvalidArgument).
func (e *ArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

func invalid(fn Function, format string, args ...any) error {
	return &ArgumentError{Function: fn, Message: fmt.Sprintf(format, args...)}
}
