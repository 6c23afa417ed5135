package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
	"github.com/custodia-labs/tally-core/internal/core/ports/driving"
)

// Ensure controlService implements ControlService
var _ driving.ControlService = (*controlService)(nil)

// controlService implements the ControlService interface
type controlService struct {
	controlStore  driven.ControlStore
	responseStore driven.ResponseStore
	logger        *slog.Logger
	now           func() time.Time
}

// NewControlService creates a new ControlService
func NewControlService(
	controlStore driven.ControlStore,
	responseStore driven.ResponseStore,
	logger *slog.Logger,
) driving.ControlService {
	if logger == nil {
		logger = slog.Default()
	}
	return &controlService{
		controlStore:  controlStore,
		responseStore: responseStore,
		logger:        logger,
		now:           time.Now,
	}
}

// Create validates and stores a new active control
func (s *controlService) Create(ctx context.Context, req domain.CreateControlRequest) (*domain.Control, error) {
	control, err := domain.NewControl(req, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.controlStore.Save(ctx, control); err != nil {
		return nil, err
	}

	s.logger.Info("control created", "control_id", control.ID)
	return control, nil
}

// Get retrieves a control by ID
func (s *controlService) Get(ctx context.Context, id string) (*domain.Control, error) {
	return s.controlStore.Get(ctx, id)
}

// List retrieves controls newest first
func (s *controlService) List(ctx context.Context, includeInactive bool) ([]*domain.Control, error) {
	return s.controlStore.List(ctx, includeInactive)
}

// Search matches active controls case-insensitively
func (s *controlService) Search(ctx context.Context, query string) ([]*domain.Control, error) {
	query = strings.ToLower(strings.TrimSpace(query))

	controls, err := s.controlStore.List(ctx, false)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return controls, nil
	}

	matched := make([]*domain.Control, 0, len(controls))
	for _, c := range controls {
		if c.Matches(query) {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

// Update merges the provided fields and re-validates the merged control
func (s *controlService) Update(ctx context.Context, id string, req domain.UpdateControlRequest) (*domain.Control, error) {
	control, err := s.controlStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := control.Apply(req, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.controlStore.Save(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the control, then every response that referenced it.
// Documents tagged with the control are left in place.
func (s *controlService) Delete(ctx context.Context, id string) error {
	if err := s.controlStore.Delete(ctx, id); err != nil {
		return err
	}

	removed, err := s.responseStore.DeleteByControl(ctx, id)
	if err != nil {
		// The control is gone; orphaned responses are ignored by the grid.
		s.logger.Error("failed to delete responses for control", "control_id", id, "error", err)
		return nil
	}

	s.logger.Info("control deleted", "control_id", id, "responses_deleted", removed)
	return nil
}

// Duplicate copies title, description and prompt into a new active control
func (s *controlService) Duplicate(ctx context.Context, id string) (*domain.Control, error) {
	original, err := s.controlStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	title := original.Title + " (Copy)"
	if len([]rune(title)) > domain.MaxControlTitleLength {
		return nil, domain.NewValidationError("title", "copied title exceeds %d characters", domain.MaxControlTitleLength)
	}

	return s.Create(ctx, domain.CreateControlRequest{
		Title:       title,
		Description: original.Description,
		Prompt:      original.Prompt,
	})
}

// SetActive activates or deactivates a control
func (s *controlService) SetActive(ctx context.Context, id string, active bool) (*domain.Control, error) {
	control, err := s.controlStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if control.IsActive == active {
		return control, nil
	}

	return s.Update(ctx, id, domain.UpdateControlRequest{IsActive: &active})
}

// isNotFound reports whether err is a missing-record error
func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
