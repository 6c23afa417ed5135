package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

// MockLLMService is a mock implementation of LLMService for testing.
// It replies with Reply unless CompleteFn is set.
type MockLLMService struct {
	mu    sync.Mutex
	calls int

	Reply      string
	Err        error
	PingErr    error
	CompleteFn func(systemPrompt, userPrompt string) (*driven.Completion, error)
	closed     bool
}

// NewMockLLMService creates a new MockLLMService
func NewMockLLMService(reply string) *MockLLMService {
	return &MockLLMService{Reply: reply}
}

func (m *MockLLMService) Complete(ctx context.Context, systemPrompt, userPrompt string) (*driven.Completion, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.CompleteFn != nil {
		return m.CompleteFn(systemPrompt, userPrompt)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &driven.Completion{
		Text:             m.Reply,
		PromptTokens:     100,
		CompletionTokens: 20,
		TotalTokens:      120,
		FinishReason:     "stop",
		Model:            m.Model(),
	}, nil
}

func (m *MockLLMService) Model() string {
	return "mock-llm-model"
}

func (m *MockLLMService) Ping(ctx context.Context) error {
	return m.PingErr
}

func (m *MockLLMService) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns how many completions were requested
func (m *MockLLMService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called
func (m *MockLLMService) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
