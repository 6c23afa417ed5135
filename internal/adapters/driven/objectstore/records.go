// Package objectstore implements the control, document, response and file
// repositories on top of a flat ObjectStore.
package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

// Bucket names
const (
	BucketControls  = "controls"
	BucketDocuments = "documents"
	BucketFiles     = "files"
	BucketResponses = "ai_responses"
)

const (
	metadataFile = "metadata.json"
	contentFile  = "content.json"
	jsonType     = "application/json"

	// loadConcurrency bounds parallel reads when a listing is materialized
	loadConcurrency = 8
)

// Config holds repository configuration
type Config struct {
	Logger *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func putJSON(ctx context.Context, store driven.ObjectStore, bucket, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", bucket, path, err)
	}
	if err := store.Put(ctx, bucket, path, data, jsonType); err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, path, err)
	}
	return nil
}

// validator is implemented by records that carry stored-record invariants
type validator interface {
	Validate() error
}

// getJSON decodes bucket/path into v. A record that does not decode, or
// decodes but fails its own Validate, is an ErrStorageInconsistency.
func getJSON(ctx context.Context, store driven.ObjectStore, bucket, path string, v any) error {
	obj, err := store.Get(ctx, bucket, path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("get %s/%s: %w", bucket, path, err)
	}
	if err := json.Unmarshal(obj.Data, v); err != nil {
		return fmt.Errorf("%w: decode %s/%s: %v", domain.ErrStorageInconsistency, bucket, path, err)
	}
	if rec, ok := v.(validator); ok {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("%w: invalid record %s/%s: %v", domain.ErrStorageInconsistency, bucket, path, err)
		}
	}
	return nil
}

// loadAll lists bucket/prefix and decodes every object accepted by match.
// Records that cannot be read, decoded or validated are skipped and logged.
// Only a failure of the listing itself is returned.
func loadAll[T any](ctx context.Context, store driven.ObjectStore, logger *slog.Logger, bucket, prefix string, match func(path string) bool) ([]*T, error) {
	infos, err := store.List(ctx, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}

	paths := make([]string, 0, len(infos))
	for _, info := range infos {
		if match == nil || match(info.Path) {
			paths = append(paths, info.Path)
		}
	}

	results := make([]*T, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, path := range paths {
		g.Go(func() error {
			var rec T
			if err := getJSON(gctx, store, bucket, path, &rec); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Deleted between list and get, or corrupt
				if !errors.Is(err, domain.ErrNotFound) {
					logger.Warn("skipping unreadable record", "bucket", bucket, "path", path, "error", err)
					storageInconsistencies.WithLabelValues(bucket).Inc()
				}
				return nil
			}
			results[i] = &rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*T, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func isMetadataPath(path string) bool {
	return strings.HasSuffix(path, "/"+metadataFile)
}
