package driving

import (
	"context"

	"github.com/custodia-labs/tally-core/internal/core/domain"
)

// ResponseFilter narrows a response listing. Empty fields match everything.
type ResponseFilter struct {
	DocumentID string
	ControlID  string
	Status     domain.ProcessingStatus
}

// AnalysisService produces AI responses for grid cells
type AnalysisService interface {
	// Analyze evaluates raw content against a prompt without storing anything.
	// Language-model failures are reported in the result, not as an error.
	Analyze(ctx context.Context, req domain.AnalyzeRequest) (*domain.AnalysisResult, error)

	// AnalyzeBatch runs Analyze for each request with bounded concurrency.
	// Results are in request order.
	AnalyzeBatch(ctx context.Context, reqs []domain.AnalyzeRequest) ([]*domain.AnalysisResult, error)

	// EvaluateCell generates and stores the response for one document/control pair.
	// A completed cell is only regenerated when force is set.
	EvaluateCell(ctx context.Context, key domain.ResponseKey, force bool) (*domain.AIResponse, error)

	// ScheduleDocument queues an evaluation for the document against every active control
	ScheduleDocument(ctx context.Context, documentID string) (int, error)

	// SchedulePending queues an evaluation for every cell without a completed response
	SchedulePending(ctx context.Context) (int, error)

	// Regenerate queues forced evaluations for a control, a document or a single response
	Regenerate(ctx context.Context, req domain.RegenerateRequest) (*domain.RegenerateResult, error)

	// GetResponse retrieves a stored response by ID
	GetResponse(ctx context.Context, id string) (*domain.AIResponse, error)

	// ListResponses retrieves stored responses matching filter
	ListResponses(ctx context.Context, filter ResponseFilter) ([]*domain.AIResponse, error)
}
