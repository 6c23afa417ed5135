package driven

import (
	"context"
	"io"

	"github.com/custodia-labs/tally-core/internal/core/domain"
)

// FileReader is an open stored file
type FileReader struct {
	io.ReadCloser
	ContentType string
	Size        int64
}

// ParsedDocument is the result of a parsing-service run
type ParsedDocument struct {
	Text string
	Raw  map[string]any
}

// DocumentParser extracts text from a document reachable by URL
type DocumentParser interface {
	// Parse fetches and parses the document at documentURL
	Parse(ctx context.Context, documentURL string) (*ParsedDocument, error)

	// Ping verifies the parsing service is configured
	Ping(ctx context.Context) error
}

// Completion is one chat completion result
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	FinishReason     string
	Model            string
}

// LLMService provides chat completion for document evaluation
type LLMService interface {
	// Complete sends a system and a user prompt and returns the reply
	Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error)

	// Model returns the model name being used
	Model() string

	// Ping verifies the LLM service is available
	Ping(ctx context.Context) error

	// Close releases resources held by the LLM service
	Close() error
}

// AIServiceFactory creates collaborator clients from settings
type AIServiceFactory interface {
	// CreateLLMService creates an LLM service from settings
	// Returns nil, nil if settings are not configured
	CreateLLMService(settings *domain.LLMSettings) (LLMService, error)

	// CreateDocumentParser creates a parser from settings
	// Returns nil, nil if settings are not configured
	CreateDocumentParser(settings *domain.ParserSettings) (DocumentParser, error)
}
