package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// ResponseKey identifies the single AI response allowed per
// (document, control) pair.
type ResponseKey struct {
	DocumentID string
	ControlID  string
}

// IsZero returns true if either half of the key is missing
func (k ResponseKey) IsZero() bool {
	return k.DocumentID == "" || k.ControlID == ""
}

// Citation points at the part of a document that supports a response
type Citation struct {
	Source string `json:"source"`
	Page   int    `json:"page,omitempty"`
	Quote  string `json:"quote,omitempty"`
}

// AIResponse is the stored result of evaluating one document against one control
type AIResponse struct {
	ID               string           `json:"id"`
	ControlID        string           `json:"control_id"`
	DocumentID       string           `json:"document_id"`
	Status           ProcessingStatus `json:"status"`
	ResponseText     string           `json:"response_text,omitempty"`
	ConfidenceScore  *float64         `json:"confidence_score,omitempty"`
	Citations        []Citation       `json:"citations,omitempty"`
	Metadata         map[string]any   `json:"response_metadata,omitempty"`
	TokensUsed       int              `json:"tokens_used,omitempty"`
	ProcessingTimeMS int64            `json:"processing_time_ms,omitempty"`
	Model            string           `json:"openai_model,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// NewAIResponse creates a pending response for a pair
func NewAIResponse(key ResponseKey, now time.Time) *AIResponse {
	return &AIResponse{
		ID:         NewUUID(),
		ControlID:  key.ControlID,
		DocumentID: key.DocumentID,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Key returns the composite key of the response
func (r *AIResponse) Key() ResponseKey {
	return ResponseKey{DocumentID: r.DocumentID, ControlID: r.ControlID}
}

// IsProcessingComplete returns true when the status is terminal
func (r *AIResponse) IsProcessingComplete() bool {
	return r.Status.IsTerminal()
}

// ProcessingTimeSeconds returns the processing time in seconds, or nil if unknown
func (r *AIResponse) ProcessingTimeSeconds() *float64 {
	if r.ProcessingTimeMS <= 0 {
		return nil
	}
	s := float64(r.ProcessingTimeMS) / 1000
	return &s
}

// MarshalJSON adds the derived fields to the encoded response
func (r AIResponse) MarshalJSON() ([]byte, error) {
	type plain AIResponse
	return json.Marshal(struct {
		plain
		IsProcessingComplete  bool     `json:"is_processing_complete"`
		ProcessingTimeSeconds *float64 `json:"processing_time_seconds,omitempty"`
	}{
		plain:                 plain(r),
		IsProcessingComplete:  r.IsProcessingComplete(),
		ProcessingTimeSeconds: r.ProcessingTimeSeconds(),
	})
}

// Validate checks the stored-record invariants
func (r *AIResponse) Validate() error {
	if r.DocumentID == "" {
		return NewValidationError("document_id", "document_id is required")
	}
	if r.ControlID == "" {
		return NewValidationError("control_id", "control_id is required")
	}
	if !r.Status.IsValid() {
		return NewValidationError("status", "unknown status %q", r.Status)
	}
	if r.ConfidenceScore != nil && (*r.ConfidenceScore < 0 || *r.ConfidenceScore > 1) {
		return NewValidationError("confidence_score", "confidence score must be between 0 and 1")
	}
	return ValidateCitations(r.Citations)
}

// TransitionTo moves the response to next if the state machine allows it
func (r *AIResponse) TransitionTo(next ProcessingStatus, now time.Time) error {
	status, err := r.Status.Transition(next)
	if err != nil {
		return err
	}
	r.Status = status
	r.UpdatedAt = now
	return nil
}

// ValidateCitations requires every citation to name its source
func ValidateCitations(citations []Citation) error {
	for i, c := range citations {
		if strings.TrimSpace(c.Source) == "" {
			return NewValidationError("citations", "citation %d must have a source", i)
		}
	}
	return nil
}

// AnalyzeRequest is a stateless analysis of raw content against a prompt
type AnalyzeRequest struct {
	DocumentContent string `json:"document_content"`
	ControlPrompt   string `json:"control_prompt"`
}

// Validate checks that both content and prompt are present
func (r AnalyzeRequest) Validate() error {
	if strings.TrimSpace(r.DocumentContent) == "" {
		return NewValidationError("document_content", "document content is required")
	}
	if strings.TrimSpace(r.ControlPrompt) == "" {
		return NewValidationError("control_prompt", "control prompt is required")
	}
	return nil
}

// AnalysisResult is the outcome of one language-model evaluation.
// Failures are reported with Status failed and ErrorMessage set.
type AnalysisResult struct {
	Status           ProcessingStatus `json:"status"`
	ResponseText     string           `json:"response_text"`
	ConfidenceScore  float64          `json:"confidence_score"`
	Citations        []Citation       `json:"citations"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
	TokensUsed       int              `json:"tokens_used"`
	ProcessingTimeMS int64            `json:"processing_time_ms"`
	Model            string           `json:"model,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
}

// RegenerateScope names what a regeneration request covers
type RegenerateScope string

const (
	RegenerateScopeControl  RegenerateScope = "control"
	RegenerateScopeDocument RegenerateScope = "document"
	RegenerateScopeResponse RegenerateScope = "single_response"
)

// RegenerateRequest selects responses to regenerate. Exactly one id must be set.
type RegenerateRequest struct {
	ControlID    string `json:"control_id,omitempty"`
	DocumentID   string `json:"document_id,omitempty"`
	AIResponseID string `json:"ai_response_id,omitempty"`
}

// Scope validates the request and returns its scope
func (r RegenerateRequest) Scope() (RegenerateScope, error) {
	set := 0
	var scope RegenerateScope
	if r.ControlID != "" {
		set++
		scope = RegenerateScopeControl
	}
	if r.DocumentID != "" {
		set++
		scope = RegenerateScopeDocument
	}
	if r.AIResponseID != "" {
		set++
		scope = RegenerateScopeResponse
	}
	if set != 1 {
		return "", NewValidationError("", "exactly one of control_id, document_id, or ai_response_id must be provided")
	}
	return scope, nil
}

// RegenerateResult reports how many evaluations were scheduled
type RegenerateResult struct {
	Scope     RegenerateScope `json:"scope"`
	Scheduled int             `json:"scheduled"`
}
