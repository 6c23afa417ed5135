package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"ErrNotFound", ErrNotFound, "not found"},
		{"ErrInvalidInput", ErrInvalidInput, "invalid input"},
		{"ErrInvalidTransition", ErrInvalidTransition, "invalid status transition"},
		{"ErrConflict", ErrConflict, "conflict"},
		{"ErrUpstream", ErrUpstream, "upstream service error"},
		{"ErrStorageInconsistency", ErrStorageInconsistency, "storage inconsistency"},
		{"ErrServiceUnavailable", ErrServiceUnavailable, "service unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.msg {
				t.Errorf("expected %q, got %q", tt.msg, tt.err.Error())
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("title", "must be at most %d characters", 255)
	if err.Error() != "title: must be at most 255 characters" {
		t.Errorf("unexpected message %q", err.Error())
	}

	wrapped := fmt.Errorf("create control: %w", err)
	if !errors.Is(wrapped, ErrInvalidInput) {
		t.Error("expected wrapped validation error to match ErrInvalidInput")
	}
	var ve *ValidationError
	if !errors.As(wrapped, &ve) || ve.Field != "title" {
		t.Errorf("expected to recover the field, got %v", ve)
	}

	if got := NewValidationError("", "at least one field").Error(); got != "at least one field" {
		t.Errorf("expected bare message without field, got %q", got)
	}
}

func TestTransitionError(t *testing.T) {
	err := &TransitionError{From: StatusCompleted, To: StatusPending}
	if err.Error() != `invalid status transition from "completed" to "pending"` {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Error("expected match on ErrInvalidTransition")
	}
	if errors.Is(err, ErrInvalidInput) {
		t.Error("expected no match on ErrInvalidInput")
	}
}
