package driven

import (
	"context"
	"io"
	"time"
)

// Object is a stored blob with its metadata
type Object struct {
	Bucket      string
	Path        string
	Data        []byte
	ContentType string
	Size        int64
	UpdatedAt   time.Time
}

// ObjectInfo describes a stored object without its content
type ObjectInfo struct {
	Bucket      string
	Path        string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
}

// ObjectStore is a flat key/value blob store addressed by (bucket, path).
// It has no query, index or join capability. Implementations: MinIO/S3, PostgreSQL.
type ObjectStore interface {
	// Put creates or replaces the object at bucket/path
	Put(ctx context.Context, bucket, path string, data []byte, contentType string) error

	// Get reads a whole object. Returns domain.ErrNotFound if absent.
	Get(ctx context.Context, bucket, path string) (*Object, error)

	// Open streams an object. The caller must close the reader.
	// Returns domain.ErrNotFound if absent.
	Open(ctx context.Context, bucket, path string) (io.ReadCloser, *ObjectInfo, error)

	// List returns every object whose path starts with prefix.
	// Order is unspecified.
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)

	// Delete removes one object. Deleting a missing object is not an error.
	Delete(ctx context.Context, bucket, path string) error

	// DeletePrefix removes every object under prefix and returns how many were removed
	DeletePrefix(ctx context.Context, bucket, prefix string) (int, error)

	// Ping checks if the store is reachable
	Ping(ctx context.Context) error
}

// URLSigner issues temporary download URLs for stored objects.
// Object stores that cannot sign URLs simply don't implement it.
type URLSigner interface {
	PresignedURL(ctx context.Context, bucket, path string, expiry time.Duration) (string, error)
}
