package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ResponseStore = (*ResponseStore)(nil)

// ResponseStore keeps one object per pair at ai_responses/{document_id}/{control_id}.json.
// The path is derived from the composite key, so a second save for the same
// pair overwrites the first.
type ResponseStore struct {
	store  driven.ObjectStore
	logger *slog.Logger
}

// NewResponseStore creates a new ResponseStore
func NewResponseStore(store driven.ObjectStore, cfg Config) *ResponseStore {
	return &ResponseStore{store: store, logger: cfg.logger()}
}

func responsePath(key domain.ResponseKey) string {
	return key.DocumentID + "/" + key.ControlID + ".json"
}

// Save upserts a response, keeping the id and created_at of an existing record
func (s *ResponseStore) Save(ctx context.Context, resp *domain.AIResponse) error {
	key := resp.Key()
	if key.IsZero() {
		return domain.NewValidationError("", "response requires document_id and control_id")
	}
	if err := resp.Validate(); err != nil {
		return err
	}

	existing, err := s.Get(ctx, key)
	switch {
	case err == nil:
		resp.ID = existing.ID
		resp.CreatedAt = existing.CreatedAt
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrStorageInconsistency):
		// New pair, or a corrupt record that this save repairs
	default:
		return err
	}
	if resp.ID == "" {
		resp.ID = domain.NewUUID()
	}

	return putJSON(ctx, s.store, BucketResponses, responsePath(key), resp)
}

// Get retrieves the response for a pair
func (s *ResponseStore) Get(ctx context.Context, key domain.ResponseKey) (*domain.AIResponse, error) {
	var resp domain.AIResponse
	if err := getJSON(ctx, s.store, BucketResponses, responsePath(key), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetByID scans for a response by its own id
func (s *ResponseStore) GetByID(ctx context.Context, id string) (*domain.AIResponse, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, domain.ErrNotFound
}

// List retrieves every readable response
func (s *ResponseStore) List(ctx context.Context) ([]*domain.AIResponse, error) {
	return loadAll[domain.AIResponse](ctx, s.store, s.logger, BucketResponses, "", isResponsePath)
}

// DeleteByDocument removes every response for a document
func (s *ResponseStore) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	n, err := s.store.DeletePrefix(ctx, BucketResponses, documentID+"/")
	if err != nil {
		return 0, fmt.Errorf("delete responses for document: %w", err)
	}
	return n, nil
}

// DeleteByControl removes every response for a control. Responses are keyed
// by document first, so this is a full listing.
func (s *ResponseStore) DeleteByControl(ctx context.Context, controlID string) (int, error) {
	infos, err := s.store.List(ctx, BucketResponses, "")
	if err != nil {
		return 0, fmt.Errorf("list responses: %w", err)
	}
	suffix := "/" + controlID + ".json"
	deleted := 0
	for _, info := range infos {
		if !strings.HasSuffix(info.Path, suffix) {
			continue
		}
		if err := s.store.Delete(ctx, BucketResponses, info.Path); err != nil {
			return deleted, fmt.Errorf("delete response %s: %w", info.Path, err)
		}
		deleted++
	}
	return deleted, nil
}

func isResponsePath(path string) bool {
	return strings.HasSuffix(path, ".json") && strings.Count(path, "/") == 1
}
