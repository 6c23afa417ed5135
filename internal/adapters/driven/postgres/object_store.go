package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ObjectStore = (*ObjectStore)(nil)

// ObjectStore implements driven.ObjectStore on a single PostgreSQL table
// keyed by (bucket, path). It is meant for small deployments that already
// run PostgreSQL and do not want a separate S3 server.
type ObjectStore struct {
	db *DB
}

// NewObjectStore creates a new PostgreSQL-backed object store
func NewObjectStore(db *DB) *ObjectStore {
	return &ObjectStore{db: db}
}

// Put creates or replaces an object
func (s *ObjectStore) Put(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	query := `
		INSERT INTO objects (bucket, path, data, content_type, size, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (bucket, path) DO UPDATE SET
			data = EXCLUDED.data,
			content_type = EXCLUDED.content_type,
			size = EXCLUDED.size,
			updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query, bucket, path, data, contentType, len(data))
	if err != nil {
		return fmt.Errorf("upsert object: %w", err)
	}
	return nil
}

// Get reads a whole object
func (s *ObjectStore) Get(ctx context.Context, bucket, path string) (*driven.Object, error) {
	query := `
		SELECT data, content_type, size, updated_at
		FROM objects
		WHERE bucket = $1 AND path = $2
	`
	obj := &driven.Object{Bucket: bucket, Path: path}
	err := s.db.QueryRowContext(ctx, query, bucket, path).Scan(&obj.Data, &obj.ContentType, &obj.Size, &obj.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query object: %w", err)
	}
	return obj, nil
}

// Open reads the object into memory and returns a reader over it
func (s *ObjectStore) Open(ctx context.Context, bucket, path string) (io.ReadCloser, *driven.ObjectInfo, error) {
	obj, err := s.Get(ctx, bucket, path)
	if err != nil {
		return nil, nil, err
	}
	return io.NopCloser(bytes.NewReader(obj.Data)), &driven.ObjectInfo{
		Bucket:      bucket,
		Path:        path,
		Size:        obj.Size,
		ContentType: obj.ContentType,
		UpdatedAt:   obj.UpdatedAt,
	}, nil
}

// List returns every object under bucket/prefix
func (s *ObjectStore) List(ctx context.Context, bucket, prefix string) ([]driven.ObjectInfo, error) {
	query := `
		SELECT path, size, content_type, updated_at
		FROM objects
		WHERE bucket = $1 AND starts_with(path, $2)
	`
	rows, err := s.db.QueryContext(ctx, query, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("query objects: %w", err)
	}
	defer rows.Close()

	var infos []driven.ObjectInfo
	for rows.Next() {
		info := driven.ObjectInfo{Bucket: bucket}
		if err := rows.Scan(&info.Path, &info.Size, &info.ContentType, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objects: %w", err)
	}
	return infos, nil
}

// Delete removes one object
func (s *ObjectStore) Delete(ctx context.Context, bucket, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE bucket = $1 AND path = $2`, bucket, path)
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// DeletePrefix removes every object under bucket/prefix
func (s *ObjectStore) DeletePrefix(ctx context.Context, bucket, prefix string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM objects WHERE bucket = $1 AND starts_with(path, $2)`, bucket, prefix)
	if err != nil {
		return 0, fmt.Errorf("delete objects: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(n), nil
}

// Ping checks if the database is reachable
func (s *ObjectStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
