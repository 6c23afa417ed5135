package driven

import (
	"context"

	"github.com/custodia-labs/tally-core/internal/core/domain"
)

// ControlStore handles control persistence
type ControlStore interface {
	// Save creates or updates a control
	Save(ctx context.Context, control *domain.Control) error

	// Get retrieves a control by ID
	Get(ctx context.Context, id string) (*domain.Control, error)

	// List retrieves all controls sorted by created_at descending.
	// Inactive controls are included only when includeInactive is set.
	List(ctx context.Context, includeInactive bool) ([]*domain.Control, error)

	// Delete removes a control and everything stored under it.
	// Returns domain.ErrNotFound if the control does not exist.
	Delete(ctx context.Context, id string) error
}

// DocumentStore handles document metadata and parsed content persistence
type DocumentStore interface {
	// Save creates or updates document metadata
	Save(ctx context.Context, doc *domain.Document) error

	// Get retrieves a document by ID
	Get(ctx context.Context, id string) (*domain.Document, error)

	// List retrieves documents sorted by created_at descending.
	// An empty controlID returns every document.
	List(ctx context.Context, controlID string) ([]*domain.Document, error)

	// Delete removes the metadata and parsed content of a document
	Delete(ctx context.Context, id string) error

	// SaveContent stores the parsed text of a document
	SaveContent(ctx context.Context, content *domain.DocumentContent) error

	// GetContent retrieves the parsed text of a document
	GetContent(ctx context.Context, documentID string) (*domain.DocumentContent, error)
}

// BlobStore holds the uploaded file binaries
type BlobStore interface {
	// PutFile stores a file under its storage filename
	PutFile(ctx context.Context, filename string, data []byte, contentType string) error

	// OpenFile streams a stored file
	OpenFile(ctx context.Context, filename string) (*FileReader, error)

	// DeleteFile removes a stored file
	DeleteFile(ctx context.Context, filename string) error

	// SignedURL returns a temporary download URL, or "" when the backing
	// store cannot sign URLs
	SignedURL(ctx context.Context, filename string) (string, error)
}

// ResponseStore handles AI response persistence.
// At most one response exists per (document, control) pair.
type ResponseStore interface {
	// Save upserts a response by its composite key. When a response already
	// exists for the pair its id and created_at are kept.
	Save(ctx context.Context, resp *domain.AIResponse) error

	// Get retrieves the response for a pair
	Get(ctx context.Context, key domain.ResponseKey) (*domain.AIResponse, error)

	// GetByID retrieves a response by its own ID
	GetByID(ctx context.Context, id string) (*domain.AIResponse, error)

	// List retrieves every readable response. Corrupt records are skipped.
	List(ctx context.Context) ([]*domain.AIResponse, error)

	// DeleteByDocument removes every response for a document
	DeleteByDocument(ctx context.Context, documentID string) (int, error)

	// DeleteByControl removes every response for a control
	DeleteByControl(ctx context.Context, controlID string) (int, error)
}
