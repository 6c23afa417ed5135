package domain

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxControlTitleLength is the maximum title length in characters
const MaxControlTitleLength = 255

// Control is a reusable compliance question evaluated against documents
type Control struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Prompt      string    `json:"prompt"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StatusDisplay returns a human-readable activity label
func (c *Control) StatusDisplay() string {
	if c.IsActive {
		return "Active"
	}
	return "Inactive"
}

// IsQuestionFormat returns true if the prompt is phrased as a question
func (c *Control) IsQuestionFormat() bool {
	return strings.HasSuffix(strings.TrimSpace(c.Prompt), "?")
}

// Validate checks the title and prompt invariants
func (c *Control) Validate() error {
	if c.Title == "" {
		return NewValidationError("title", "title is required")
	}
	if utf8.RuneCountInString(c.Title) > MaxControlTitleLength {
		return NewValidationError("title", "title must be at most %d characters", MaxControlTitleLength)
	}
	if c.Prompt == "" {
		return NewValidationError("prompt", "prompt is required")
	}
	if strings.EqualFold(strings.TrimSpace(c.Title), strings.TrimSpace(c.Prompt)) {
		return NewValidationError("prompt", "title and prompt cannot be identical")
	}
	return nil
}

// NormalizePrompt trims the prompt and appends '?' unless it already ends
// with sentence punctuation.
func NormalizePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ""
	}
	if strings.HasSuffix(prompt, "?") || strings.HasSuffix(prompt, ".") || strings.HasSuffix(prompt, "!") {
		return prompt
	}
	return prompt + "?"
}

// CreateControlRequest holds the fields for a new control
type CreateControlRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Prompt      string `json:"prompt"`
}

// UpdateControlRequest holds optional fields to merge into a control
type UpdateControlRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Prompt      *string `json:"prompt,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// IsEmpty returns true if no field is set
func (r UpdateControlRequest) IsEmpty() bool {
	return r.Title == nil && r.Description == nil && r.Prompt == nil && r.IsActive == nil
}

// NewControl builds a validated, active control from a create request.
func NewControl(req CreateControlRequest, now time.Time) (*Control, error) {
	c := &Control{
		ID:          NewUUID(),
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Prompt:      NormalizePrompt(req.Prompt),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Apply merges the provided fields into a copy of c and validates the result.
// c itself is never modified.
func (c *Control) Apply(req UpdateControlRequest, now time.Time) (*Control, error) {
	if req.IsEmpty() {
		return nil, NewValidationError("", "at least one field must be provided for update")
	}

	updated := *c
	if req.Title != nil {
		updated.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Prompt != nil {
		updated.Prompt = NormalizePrompt(*req.Prompt)
	}
	if req.IsActive != nil {
		updated.IsActive = *req.IsActive
	}
	updated.UpdatedAt = now

	if err := updated.Validate(); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Matches reports whether query (already lower-cased) occurs in the title,
// description or prompt.
func (c *Control) Matches(query string) bool {
	return strings.Contains(strings.ToLower(c.Title), query) ||
		strings.Contains(strings.ToLower(c.Description), query) ||
		strings.Contains(strings.ToLower(c.Prompt), query)
}

// MarshalJSON adds the derived fields to the encoded control
func (c Control) MarshalJSON() ([]byte, error) {
	type plain Control
	return json.Marshal(struct {
		plain
		StatusDisplay    string `json:"status_display"`
		IsQuestionFormat bool   `json:"is_question_format"`
	}{
		plain:            plain(c),
		StatusDisplay:    c.StatusDisplay(),
		IsQuestionFormat: c.IsQuestionFormat(),
	})
}
