package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ControlStore = (*ControlStore)(nil)

// ControlStore keeps each control at controls/{id}/metadata.json
type ControlStore struct {
	store  driven.ObjectStore
	logger *slog.Logger
}

// NewControlStore creates a new ControlStore
func NewControlStore(store driven.ObjectStore, cfg Config) *ControlStore {
	return &ControlStore{store: store, logger: cfg.logger()}
}

func controlPath(id string) string {
	return id + "/" + metadataFile
}

// Save creates or updates a control
func (s *ControlStore) Save(ctx context.Context, control *domain.Control) error {
	return putJSON(ctx, s.store, BucketControls, controlPath(control.ID), control)
}

// Get retrieves a control by ID
func (s *ControlStore) Get(ctx context.Context, id string) (*domain.Control, error) {
	var control domain.Control
	if err := getJSON(ctx, s.store, BucketControls, controlPath(id), &control); err != nil {
		return nil, err
	}
	return &control, nil
}

// List retrieves controls sorted by created_at descending
func (s *ControlStore) List(ctx context.Context, includeInactive bool) ([]*domain.Control, error) {
	all, err := loadAll[domain.Control](ctx, s.store, s.logger, BucketControls, "", isMetadataPath)
	if err != nil {
		return nil, err
	}

	controls := make([]*domain.Control, 0, len(all))
	for _, c := range all {
		if c.ID == "" {
			s.logger.Warn("skipping control without id")
			continue
		}
		if !includeInactive && !c.IsActive {
			continue
		}
		controls = append(controls, c)
	}
	sortControls(controls)
	return controls, nil
}

// Delete removes everything under controls/{id}/
func (s *ControlStore) Delete(ctx context.Context, id string) error {
	if _, err := s.store.Get(ctx, BucketControls, controlPath(id)); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("get control: %w", err)
	}
	if _, err := s.store.DeletePrefix(ctx, BucketControls, id+"/"); err != nil {
		return fmt.Errorf("delete control: %w", err)
	}
	return nil
}

// sortControls orders by created_at descending, ties broken by id
func sortControls(controls []*domain.Control) {
	sort.Slice(controls, func(i, j int) bool {
		if !controls[i].CreatedAt.Equal(controls[j].CreatedAt) {
			return controls[i].CreatedAt.After(controls[j].CreatedAt)
		}
		return controls[i].ID < controls[j].ID
	})
}
