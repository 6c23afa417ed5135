package objectstore

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.BlobStore = (*FileStore)(nil)

// DefaultURLExpiry is how long signed download URLs stay valid
const DefaultURLExpiry = time.Hour

// FileStore keeps uploaded binaries at files/{filename}
type FileStore struct {
	store  driven.ObjectStore
	expiry time.Duration
}

// NewFileStore creates a new FileStore
func NewFileStore(store driven.ObjectStore, urlExpiry time.Duration) *FileStore {
	if urlExpiry <= 0 {
		urlExpiry = DefaultURLExpiry
	}
	return &FileStore{store: store, expiry: urlExpiry}
}

// PutFile stores a file under its storage filename
func (s *FileStore) PutFile(ctx context.Context, filename string, data []byte, contentType string) error {
	if err := s.store.Put(ctx, BucketFiles, filename, data, contentType); err != nil {
		return fmt.Errorf("put file: %w", err)
	}
	return nil
}

// OpenFile streams a stored file
func (s *FileStore) OpenFile(ctx context.Context, filename string) (*driven.FileReader, error) {
	rc, info, err := s.store.Open(ctx, BucketFiles, filename)
	if err != nil {
		return nil, err
	}
	return &driven.FileReader{ReadCloser: rc, ContentType: info.ContentType, Size: info.Size}, nil
}

// DeleteFile removes a stored file
func (s *FileStore) DeleteFile(ctx context.Context, filename string) error {
	return s.store.Delete(ctx, BucketFiles, filename)
}

// SignedURL returns a presigned download URL when the object store supports it
func (s *FileStore) SignedURL(ctx context.Context, filename string) (string, error) {
	signer, ok := s.store.(driven.URLSigner)
	if !ok {
		return "", nil
	}
	return signer.PresignedURL(ctx, BucketFiles, filename, s.expiry)
}
