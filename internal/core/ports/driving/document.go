package driving

import (
	"context"
	"io"

	"github.com/custodia-labs/tally-core/internal/core/domain"
)

// UploadRequest is one file submitted for upload
type UploadRequest struct {
	Filename    string
	ContentType string
	Data        []byte
	ControlID   string

	// ReadErr is set when the file could not be read from the request.
	// The upload is reported as failed without touching storage.
	ReadErr error
}

// FileDownload streams a stored document blob
type FileDownload struct {
	Document    *domain.Document
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// DocumentService manages uploaded documents and their extracted text
type DocumentService interface {
	// Upload validates and stores one file, then starts extraction in the background
	Upload(ctx context.Context, req UploadRequest) (*domain.Document, error)

	// UploadBatch uploads each file independently. It never fails as a whole.
	UploadBatch(ctx context.Context, reqs []UploadRequest) (*domain.BatchUploadResult, error)

	// Get retrieves a document by ID
	Get(ctx context.Context, id string) (*domain.Document, error)

	// List retrieves documents newest first, optionally only those tagged with controlID
	List(ctx context.Context, controlID string) ([]*domain.Document, error)

	// Delete removes a document, its file, its parsed content and its AI responses
	Delete(ctx context.Context, id string) error

	// GetContent retrieves the extracted text of a document
	GetContent(ctx context.Context, id string) (*domain.DocumentContent, error)

	// OpenFile opens the stored blob. The caller closes Body.
	OpenFile(ctx context.Context, id string) (*FileDownload, error)

	// Extract runs text extraction for a pending or failed document, or one
	// whose previous run was interrupted
	Extract(ctx context.Context, id string) (*domain.Document, error)

	// ScheduleStalled queues extraction again for documents stuck pending
	// or processing. Returns the number queued.
	ScheduleStalled(ctx context.Context) (int, error)
}
