package expr

import (
	"errors"
	"fmt"
)

// EvalError represents an error raised while evaluating an expression.
//
// Evaluation errors include:
//   - Unknown function: call expression names a callee outside the library
//   - Unsupported operator: binary/logical operator outside the grammar
//   - Bad arity: library function called with the wrong argument count
//   - Bad argument: argument cannot be coerced to the required type
//   - Invalid node: tree contains a node the grammar does not admit
type EvalError struct {
	// Code identifies the error category.
	Code EvalErrorCode

	// Message is a human-readable description.
	Message string

	// Function names the library function, for call errors.
	Function string

	// Operator names the operator, for operator errors.
	Operator string
}

// EvalErrorCode categorizes evaluation errors.
type EvalErrorCode string

const (
	// ErrCodeUnknownFunction indicates a call to a function outside the library.
	ErrCodeUnknownFunction EvalErrorCode = "UNKNOWN_FUNCTION"

	// ErrCodeUnsupportedOperator indicates an operator outside the grammar.
	ErrCodeUnsupportedOperator EvalErrorCode = "UNSUPPORTED_OPERATOR"

	// ErrCodeBadArity indicates a library function called with the wrong argument count.
	ErrCodeBadArity EvalErrorCode = "BAD_ARITY"

	// ErrCodeBadArgument indicates an argument that cannot serve the function.
	ErrCodeBadArgument EvalErrorCode = "BAD_ARGUMENT"

	// ErrCodeInvalidNode indicates a tree node outside the closed grammar.
	ErrCodeInvalidNode EvalErrorCode = "INVALID_NODE"
)

// Error implements the error interface.
func (e *EvalError) Error() string {
	switch {
	case e.Function != "":
		return fmt.Sprintf("%s: %s (function=%s)", e.Code, e.Message, e.Function)
	case e.Operator != "":
		return fmt.Sprintf("%s: %s (operator=%s)", e.Code, e.Message, e.Operator)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// IsUnknownFunction returns true if err is an unknown-function error.
// Uses errors.As to handle wrapped errors.
func IsUnknownFunction(err error) bool {
	var ee *EvalError
	if errors.As(err, &ee) {
		return ee.Code == ErrCodeUnknownFunction
	}
	return false
}

// IsUnsupportedOperator returns true if err is an unsupported-operator error.
func IsUnsupportedOperator(err error) bool {
	var ee *EvalError
	if errors.As(err, &ee) {
		return ee.Code == ErrCodeUnsupportedOperator
	}
	return false
}

// NewUnknownFunctionError creates an EvalError for an unknown callee.
func NewUnknownFunctionError(name string) *EvalError {
	return &EvalError{
		Code:     ErrCodeUnknownFunction,
		Message:  "call to function outside the fixed library",
		Function: name,
	}
}

// NewUnsupportedOperatorError creates an EvalError for an unknown operator.
func NewUnsupportedOperatorError(op string) *EvalError {
	return &EvalError{
		Code:     ErrCodeUnsupportedOperator,
		Message:  "operator is not part of the expression grammar",
		Operator: op,
	}
}

func newArityError(fn string, want string, got int) *EvalError {
	return &EvalError{
		Code:     ErrCodeBadArity,
		Message:  fmt.Sprintf("expected %s arguments, got %d", want, got),
		Function: fn,
	}
}

func newArgumentError(fn, msg string) *EvalError {
	return &EvalError{
		Code:     ErrCodeBadArgument,
		Message:  msg,
		Function: fn,
	}
}
