package driving

import (
	"context"

	"github.com/custodia-labs/tally-core/internal/core/domain"
)

// SettingsService reports and swaps the language-model and parser clients
type SettingsService interface {
	// GetAIStatus returns which collaborators are currently available
	GetAIStatus(ctx context.Context) (*AISettingsStatus, error)

	// UpdateAISettings replaces the collaborator clients without a restart.
	// A section left nil keeps the current client.
	UpdateAISettings(ctx context.Context, req UpdateAISettingsRequest) (*AISettingsStatus, error)

	// TestConnection pings every configured collaborator
	TestConnection(ctx context.Context) error
}

// UpdateAISettingsRequest represents a request to update AI settings
type UpdateAISettingsRequest struct {
	LLM    *LLMSettingsInput    `json:"llm,omitempty"`
	Parser *ParserSettingsInput `json:"parser,omitempty"`
}

// LLMSettingsInput is the input for LLM configuration
type LLMSettingsInput struct {
	Provider    domain.AIProvider `json:"provider"`
	Model       string            `json:"model"`
	APIKey      string            `json:"api_key"`
	BaseURL     string            `json:"base_url,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
}

// ParserSettingsInput is the input for parser configuration
type ParserSettingsInput struct {
	Provider domain.ParserProvider `json:"provider"`
	APIKey   string                `json:"api_key"`
	BaseURL  string                `json:"base_url,omitempty"`
}

// AIServiceStatus represents the status of one collaborator
type AIServiceStatus struct {
	Available bool   `json:"available"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	Error     string `json:"error,omitempty"`
}

// AISettingsStatus represents the status of all collaborators
type AISettingsStatus struct {
	LLM    AIServiceStatus `json:"llm"`
	Parser AIServiceStatus `json:"parser"`
}
