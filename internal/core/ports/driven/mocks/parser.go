package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

// MockDocumentParser is a mock implementation of DocumentParser for testing
type MockDocumentParser struct {
	mu   sync.Mutex
	urls []string

	Text    string
	Err     error
	PingErr error
}

// NewMockDocumentParser creates a parser that returns text for every URL
func NewMockDocumentParser(text string) *MockDocumentParser {
	return &MockDocumentParser{Text: text}
}

func (m *MockDocumentParser) Parse(ctx context.Context, documentURL string) (*driven.ParsedDocument, error) {
	m.mu.Lock()
	m.urls = append(m.urls, documentURL)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	return &driven.ParsedDocument{
		Text: m.Text,
		Raw:  map[string]any{"content": m.Text},
	}, nil
}

func (m *MockDocumentParser) Ping(ctx context.Context) error {
	return m.PingErr
}

// URLs returns every URL passed to Parse
func (m *MockDocumentParser) URLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.urls...)
}
