package schema

import (
	"errors"
	"fmt"
)

// SchemaError represents a problem with a schema document.
//
// Schema errors are fatal to the form that depends on the schema;
// the hosting collaborator surfaces them as a load error.
type SchemaError struct {
	// Code identifies the error category.
	Code SchemaErrorCode

	// Message is a human-readable description.
	Message string

	// Field identifies the affected field, when field-scoped.
	Field string

	// RuleID identifies the affected rule, when rule-scoped.
	RuleID string
}

// SchemaErrorCode categorizes schema errors.
type SchemaErrorCode string

const (
	// ErrCodeMalformed indicates a document that does not decode into a schema.
	ErrCodeMalformed SchemaErrorCode = "SCHEMA_MALFORMED"

	// ErrCodeNotFound indicates a schema the source cannot resolve.
	ErrCodeNotFound SchemaErrorCode = "SCHEMA_NOT_FOUND"

	// ErrCodeFieldInvalid indicates a field definition that cannot be used.
	ErrCodeFieldInvalid SchemaErrorCode = "FIELD_INVALID"

	// ErrCodeRuleInvalid indicates a rule with a missing or bad expression.
	ErrCodeRuleInvalid SchemaErrorCode = "RULE_INVALID"

	// ErrCodeCycleDetected indicates computed fields that depend on each other.
	ErrCodeCycleDetected SchemaErrorCode = "CYCLE_DETECTED"
)

// Error implements the error interface.
func (e *SchemaError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	case e.RuleID != "":
		return fmt.Sprintf("%s: %s (rule=%s)", e.Code, e.Message, e.RuleID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// IsNotFound returns true if the error is a schema-not-found error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	var se *SchemaError
	if errors.As(err, &se) {
		return se.Code == ErrCodeNotFound
	}
	return false
}

// IsCycleError returns true if the error reports a computed-field cycle.
func IsCycleError(err error) bool {
	var se *SchemaError
	if errors.As(err, &se) {
		return se.Code == ErrCodeCycleDetected
	}
	return false
}

// NewMalformedError creates a SchemaError for an undecodable document.
func NewMalformedError(msg string) *SchemaError {
	return &SchemaError{Code: ErrCodeMalformed, Message: msg}
}
