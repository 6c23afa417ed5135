package domain

import (
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition indicates an illegal processing status change
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict indicates the resource is being modified by another caller
	ErrConflict = errors.New("conflict")

	// ErrUpstream indicates the parsing or language-model service failed
	ErrUpstream = errors.New("upstream service error")

	// ErrStorageInconsistency indicates a stored record is corrupt or duplicated
	ErrStorageInconsistency = errors.New("storage inconsistency")

	// ErrServiceUnavailable indicates a collaborator is not configured or unreachable
	ErrServiceUnavailable = errors.New("service unavailable")
)

// ValidationError reports malformed or inconsistent input for a single field.
// It matches ErrInvalidInput with errors.Is.
type ValidationError struct {
	Field   string
	Message string
	// Code narrows the failure for transport mapping (e.g. "file_too_large").
	Code string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// Validation error codes
const (
	ValidationCodeFileTooLarge     = "file_too_large"
	ValidationCodeUnsupportedMedia = "unsupported_media_type"
)

// NewValidationError creates a ValidationError for a field
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransitionError reports a status change not allowed by the state machine.
// It matches ErrInvalidTransition with errors.Is.
type TransitionError struct {
	From ProcessingStatus
	To   ProcessingStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %q to %q", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
