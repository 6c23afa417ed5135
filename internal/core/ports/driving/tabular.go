package driving

import (
	"context"

	"github.com/custodia-labs/tally-core/internal/core/domain"
)

// TabularService assembles the controls x documents grid
type TabularService interface {
	// BuildView joins active controls, documents and AI responses into the grid
	BuildView(ctx context.Context) (*domain.TabularView, error)

	// ProcessingSummary counts stored responses per status
	ProcessingSummary(ctx context.Context) (*domain.ProcessingSummary, error)
}
