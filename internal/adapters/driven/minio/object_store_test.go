package minio

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/custodia-labs/tally-core/internal/core/domain"
)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		bucket, path, want string
	}{
		{"controls", "abc/metadata.json", "controls/abc/metadata.json"},
		{"files", "/x.pdf", "files/x.pdf"},
		{"ai_responses", "d1/c1.json", "ai_responses/d1/c1.json"},
	}
	for _, tt := range tests {
		if got := objectKey(tt.bucket, tt.path); got != tt.want {
			t.Errorf("objectKey(%q, %q) = %q, want %q", tt.bucket, tt.path, got, tt.want)
		}
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey"}, true},
		{"404", minio.ErrorResponse{StatusCode: http.StatusNotFound}, true},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(mapError(tt.err), domain.ErrNotFound)
			if got != tt.notFound {
				t.Errorf("expected notFound=%v, got %v", tt.notFound, got)
			}
		})
	}
}

func TestNewObjectStore_RequiresEndpoint(t *testing.T) {
	if _, err := NewObjectStore(context.Background(), Config{}); err == nil {
		t.Error("expected error for empty endpoint")
	}
}
