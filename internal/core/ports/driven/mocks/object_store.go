package mocks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

// MockObjectStore is an in-memory ObjectStore for testing.
// Errors can be injected per operation through the *Err fields.
type MockObjectStore struct {
	mu      sync.RWMutex
	objects map[string]*driven.Object

	PutErr    error
	GetErr    error
	ListErr   error
	DeleteErr error
	PingErr   error

	// SignURLs makes the mock implement URL signing
	SignURLs bool
}

// NewMockObjectStore creates a new MockObjectStore
func NewMockObjectStore() *MockObjectStore {
	return &MockObjectStore{
		objects: make(map[string]*driven.Object),
	}
}

func objectKey(bucket, path string) string {
	return bucket + "/" + path
}

func (m *MockObjectStore) Put(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(bucket, path)] = &driven.Object{
		Bucket:      bucket,
		Path:        path,
		Data:        append([]byte(nil), data...),
		ContentType: contentType,
		Size:        int64(len(data)),
		UpdatedAt:   time.Now(),
	}
	return nil
}

func (m *MockObjectStore) Get(ctx context.Context, bucket, path string) (*driven.Object, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[objectKey(bucket, path)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *obj
	cp.Data = append([]byte(nil), obj.Data...)
	return &cp, nil
}

func (m *MockObjectStore) Open(ctx context.Context, bucket, path string) (io.ReadCloser, *driven.ObjectInfo, error) {
	obj, err := m.Get(ctx, bucket, path)
	if err != nil {
		return nil, nil, err
	}
	info := &driven.ObjectInfo{
		Bucket:      obj.Bucket,
		Path:        obj.Path,
		Size:        obj.Size,
		ContentType: obj.ContentType,
		UpdatedAt:   obj.UpdatedAt,
	}
	return io.NopCloser(bytes.NewReader(obj.Data)), info, nil
}

func (m *MockObjectStore) List(ctx context.Context, bucket, prefix string) ([]driven.ObjectInfo, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var infos []driven.ObjectInfo
	for _, obj := range m.objects {
		if obj.Bucket != bucket || !strings.HasPrefix(obj.Path, prefix) {
			continue
		}
		infos = append(infos, driven.ObjectInfo{
			Bucket:      obj.Bucket,
			Path:        obj.Path,
			Size:        obj.Size,
			ContentType: obj.ContentType,
			UpdatedAt:   obj.UpdatedAt,
		})
	}
	return infos, nil
}

func (m *MockObjectStore) Delete(ctx context.Context, bucket, path string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectKey(bucket, path))
	return nil
}

func (m *MockObjectStore) DeletePrefix(ctx context.Context, bucket, prefix string) (int, error) {
	if m.DeleteErr != nil {
		return 0, m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, obj := range m.objects {
		if obj.Bucket == bucket && strings.HasPrefix(obj.Path, prefix) {
			delete(m.objects, key)
			n++
		}
	}
	return n, nil
}

func (m *MockObjectStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// PresignedURL returns a fake signed URL when SignURLs is set
func (m *MockObjectStore) PresignedURL(ctx context.Context, bucket, path string, expiry time.Duration) (string, error) {
	if !m.SignURLs {
		return "", fmt.Errorf("url signing disabled")
	}
	return fmt.Sprintf("https://objects.test/%s/%s?expires=%d", bucket, path, int(expiry.Seconds())), nil
}

// PutRaw stores raw bytes without going through a repository (for corrupt-record tests)
func (m *MockObjectStore) PutRaw(bucket, path string, data []byte) {
	_ = m.Put(context.Background(), bucket, path, data, "application/json")
}

// Count returns how many objects a bucket holds
func (m *MockObjectStore) Count(bucket string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, obj := range m.objects {
		if obj.Bucket == bucket {
			n++
		}
	}
	return n
}

// Has reports whether an object exists
func (m *MockObjectStore) Has(bucket, path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[objectKey(bucket, path)]
	return ok
}
