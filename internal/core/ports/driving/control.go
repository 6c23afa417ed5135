package driving

import (
	"context"

	"github.com/custodia-labs/tally-core/internal/core/domain"
)

// ControlService manages the compliance questions shown as grid columns
type ControlService interface {
	// Create validates and stores a new active control
	Create(ctx context.Context, req domain.CreateControlRequest) (*domain.Control, error)

	// Get retrieves a control by ID
	Get(ctx context.Context, id string) (*domain.Control, error)

	// List retrieves controls newest first. Inactive controls are included on request.
	List(ctx context.Context, includeInactive bool) ([]*domain.Control, error)

	// Search matches active controls by title, description or prompt
	Search(ctx context.Context, query string) ([]*domain.Control, error)

	// Update merges the provided fields into a control
	Update(ctx context.Context, id string, req domain.UpdateControlRequest) (*domain.Control, error)

	// Delete removes a control and every AI response for it
	Delete(ctx context.Context, id string) error

	// Duplicate copies a control under the title "{title} (Copy)"
	Duplicate(ctx context.Context, id string) (*domain.Control, error)

	// SetActive activates or deactivates a control
	SetActive(ctx context.Context, id string, active bool) (*domain.Control, error)
}
