// Package minio implements ObjectStore on any S3-compatible server through
// minio-go. Logical buckets are mapped to key prefixes inside one physical
// bucket so that deployments only need to provision a single bucket.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

// Verify interface compliance
var (
	_ driven.ObjectStore = (*ObjectStore)(nil)
	_ driven.URLSigner   = (*ObjectStore)(nil)
)

// Config holds MinIO connection configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// ObjectStore implements driven.ObjectStore over a MinIO/S3 bucket
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore connects to the server and makes sure the bucket exists
func NewObjectStore(ctx context.Context, cfg Config) (*ObjectStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "tally"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	s := &ObjectStore{client: client, bucket: cfg.Bucket}
	if err := s.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ObjectStore) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func objectKey(bucket, path string) string {
	return bucket + "/" + strings.TrimPrefix(path, "/")
}

// Put creates or replaces an object
func (s *ObjectStore) Put(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(bucket, path), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Get reads a whole object
func (s *ObjectStore) Get(ctx context.Context, bucket, path string) (*driven.Object, error) {
	rc, info, err := s.Open(ctx, bucket, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return &driven.Object{
		Bucket:      bucket,
		Path:        path,
		Data:        data,
		ContentType: info.ContentType,
		Size:        info.Size,
		UpdatedAt:   info.UpdatedAt,
	}, nil
}

// Open streams an object
func (s *ObjectStore) Open(ctx context.Context, bucket, path string) (io.ReadCloser, *driven.ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(bucket, path), minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, mapError(err)
	}
	// GetObject is lazy; Stat surfaces a missing key
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, nil, mapError(err)
	}
	return obj, &driven.ObjectInfo{
		Bucket:      bucket,
		Path:        path,
		Size:        stat.Size,
		ContentType: stat.ContentType,
		UpdatedAt:   stat.LastModified,
	}, nil
}

// List returns every object under bucket/prefix
func (s *ObjectStore) List(ctx context.Context, bucket, prefix string) ([]driven.ObjectInfo, error) {
	root := bucket + "/"
	var infos []driven.ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    root + prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		infos = append(infos, driven.ObjectInfo{
			Bucket:      bucket,
			Path:        strings.TrimPrefix(obj.Key, root),
			Size:        obj.Size,
			ContentType: obj.ContentType,
			UpdatedAt:   obj.LastModified,
		})
	}
	return infos, nil
}

// Delete removes one object
func (s *ObjectStore) Delete(ctx context.Context, bucket, path string) error {
	err := s.client.RemoveObject(ctx, s.bucket, objectKey(bucket, path), minio.RemoveObjectOptions{})
	if err != nil {
		if errors.Is(mapError(err), domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// DeletePrefix removes every object under bucket/prefix
func (s *ObjectStore) DeletePrefix(ctx context.Context, bucket, prefix string) (int, error) {
	infos, err := s.List(ctx, bucket, prefix)
	if err != nil {
		return 0, err
	}
	if len(infos) == 0 {
		return 0, nil
	}

	objects := make(chan minio.ObjectInfo, len(infos))
	for _, info := range infos {
		objects <- minio.ObjectInfo{Key: objectKey(bucket, info.Path)}
	}
	close(objects)

	failed := 0
	var firstErr error
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		failed++
		if firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", rerr.ObjectName, rerr.Err)
		}
	}
	return len(infos) - failed, firstErr
}

// Ping checks that the bucket is reachable
func (s *ObjectStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// PresignedURL returns a temporary GET URL for an object
func (s *ObjectStore) PresignedURL(ctx context.Context, bucket, path string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey(bucket, path), expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return u.String(), nil
}

func mapError(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	return err
}
