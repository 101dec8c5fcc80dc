package session

import (
	"errors"
	"fmt"
)

// SessionError represents a failure inside a form session.
//
// The taxonomy separates fatal load failures (schema, record) from
// recoverable per-field failures (validation) and from remote-call
// failures (sync, submission), which leave the form editable. Every
// failure path leaves baseline values, cache contents, and field
// visibility internally consistent.
type SessionError struct {
	// Code identifies the error category.
	Code SessionErrorCode

	// Message is a human-readable description.
	Message string

	// Field identifies the affected field, when field-scoped.
	Field string

	// Err is the underlying cause, when wrapping a remote failure.
	Err error
}

// SessionErrorCode categorizes session errors.
type SessionErrorCode string

const (
	// ErrCodeSchema indicates a malformed or missing schema. Fatal to the form.
	ErrCodeSchema SessionErrorCode = "SCHEMA_ERROR"

	// ErrCodeRecordLoad indicates the update-mode record fetch failed. Fatal, retryable.
	ErrCodeRecordLoad SessionErrorCode = "RECORD_LOAD_ERROR"

	// ErrCodeValidation indicates a per-field validation failure. Recovered locally.
	ErrCodeValidation SessionErrorCode = "VALIDATION_FAILURE"

	// ErrCodeSync indicates a draft create/sync call failed. Editing continues.
	ErrCodeSync SessionErrorCode = "SYNC_ERROR"

	// ErrCodeSubmission indicates the final commit failed. Form remains editable.
	ErrCodeSubmission SessionErrorCode = "SUBMISSION_ERROR"

	// ErrCodePermission indicates a write to a field the role cannot edit.
	ErrCodePermission SessionErrorCode = "PERMISSION_DENIED"

	// ErrCodeComputedField indicates a direct write to a derived field.
	ErrCodeComputedField SessionErrorCode = "COMPUTED_FIELD"

	// ErrCodeClosed indicates an operation on a torn-down session.
	ErrCodeClosed SessionErrorCode = "SESSION_CLOSED"
)

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// IsValidationError returns true for per-field validation failures.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Code == ErrCodeValidation
	}
	return false
}

// IsSubmissionError returns true for final-commit failures.
func IsSubmissionError(err error) bool {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Code == ErrCodeSubmission
	}
	return false
}

// IsPermissionError returns true for permission-gated writes.
func IsPermissionError(err error) bool {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Code == ErrCodePermission || se.Code == ErrCodeComputedField
	}
	return false
}

func newClosedError() *SessionError {
	return &SessionError{Code: ErrCodeClosed, Message: "session has been closed"}
}
