package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore keeps document metadata at documents/{id}/metadata.json and
// the parsed text at documents/{id}/content.json.
type DocumentStore struct {
	store  driven.ObjectStore
	logger *slog.Logger
}

// NewDocumentStore creates a new DocumentStore
func NewDocumentStore(store driven.ObjectStore, cfg Config) *DocumentStore {
	return &DocumentStore{store: store, logger: cfg.logger()}
}

// Save creates or updates document metadata
func (s *DocumentStore) Save(ctx context.Context, doc *domain.Document) error {
	return putJSON(ctx, s.store, BucketDocuments, doc.ID+"/"+metadataFile, doc)
}

// Get retrieves a document by ID
func (s *DocumentStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	var doc domain.Document
	if err := getJSON(ctx, s.store, BucketDocuments, id+"/"+metadataFile, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// List retrieves documents sorted by created_at descending, optionally
// restricted to one control.
func (s *DocumentStore) List(ctx context.Context, controlID string) ([]*domain.Document, error) {
	all, err := loadAll[domain.Document](ctx, s.store, s.logger, BucketDocuments, "", isMetadataPath)
	if err != nil {
		return nil, err
	}

	docs := make([]*domain.Document, 0, len(all))
	for _, d := range all {
		if d.ID == "" {
			s.logger.Warn("skipping document without id")
			continue
		}
		if controlID != "" && d.ControlID != controlID {
			continue
		}
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

// Delete removes the metadata and parsed content of a document
func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if _, err := s.store.DeletePrefix(ctx, BucketDocuments, id+"/"); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// SaveContent stores the parsed text of a document
func (s *DocumentStore) SaveContent(ctx context.Context, content *domain.DocumentContent) error {
	return putJSON(ctx, s.store, BucketDocuments, content.DocumentID+"/"+contentFile, content)
}

// GetContent retrieves the parsed text of a document
func (s *DocumentStore) GetContent(ctx context.Context, documentID string) (*domain.DocumentContent, error) {
	var content domain.DocumentContent
	if err := getJSON(ctx, s.store, BucketDocuments, documentID+"/"+contentFile, &content); err != nil {
		return nil, err
	}
	return &content, nil
}
