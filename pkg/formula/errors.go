package formula

import (
	"errors"
	"fmt"
)

var (
	// ErrDivisionByZero is returned when the right operand of / or % is zero.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrNonFinite is returned when an operation produces NaN or an infinity.
	ErrNonFinite = errors.New("result is not a finite number")
	// ErrNoFormula is returned by Evaluate before any formula was set.
	ErrNoFormula = errors.New("no formula set")
)

// ParseError reports malformed formula text. Pos is the byte offset of the
// offending token in the source.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s", e.Pos, e.Msg)
}

func parseErrorf(pos int, format string, args ...any) *ParseError {
	return &ParseError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// UnresolvedFieldError reports a field key that the resolver does not know.
type UnresolvedFieldError struct {
	Field string
}

func (e *UnresolvedFieldError) Error() string {
	return fmt.Sprintf("unresolved field %q", e.Field)
}

// TypeError reports an operator applied to operands it does not accept.
type TypeError struct {
	Op    string
	Left  Kind
	Right Kind
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("operator %s not defined for %s and %s", e.Op, e.Left, e.Right)
}

// EvaluationError wraps any failure raised while evaluating a formula.
type EvaluationError struct {
	Formula string
	Pos     int
	Err     error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("failed to evaluate formula '%s' at position %d: %v", e.Formula, e.Pos, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
