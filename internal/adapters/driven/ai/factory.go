package ai

import (
	"fmt"

	"github.com/custodia-labs/tally-core/internal/adapters/driven/reducto"
	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

// Ensure Factory implements AIServiceFactory
var _ driven.AIServiceFactory = (*Factory)(nil)

// Factory creates the language-model and parser clients from settings
type Factory struct{}

// NewFactory creates a new AI service factory
func NewFactory() *Factory {
	return &Factory{}
}

// CreateLLMService creates an LLM service from settings
func (f *Factory) CreateLLMService(settings *domain.LLMSettings) (driven.LLMService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOpenAI:
		llm, err := NewOpenAILLM(*settings)
		if err != nil {
			return nil, err
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %s", domain.ErrInvalidInput, settings.Provider)
	}
}

// CreateDocumentParser creates a document parser from settings
func (f *Factory) CreateDocumentParser(settings *domain.ParserSettings) (driven.DocumentParser, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.ParserProviderReducto:
		parser, err := reducto.NewParser(settings.APIKey, settings.BaseURL)
		if err != nil {
			return nil, err
		}
		return parser, nil
	default:
		return nil, fmt.Errorf("%w: unknown parser provider %s", domain.ErrInvalidInput, settings.Provider)
	}
}
