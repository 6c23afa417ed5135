package runtime

import (
	"context"
	"sync"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

// Services holds the collaborator clients that can be swapped at runtime.
// The language model and the document parser are both optional.
// Thread-safe for concurrent access.
type Services struct {
	mu sync.RWMutex

	config *domain.RuntimeConfig

	llmService     driven.LLMService
	documentParser driven.DocumentParser
}

// NewServices creates a new Services registry
func NewServices(config *domain.RuntimeConfig) *Services {
	return &Services{
		config: config,
	}
}

// Config returns the runtime configuration
func (s *Services) Config() *domain.RuntimeConfig {
	return s.config
}

// LLMService returns the current LLM service (may be nil)
func (s *Services) LLMService() driven.LLMService {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.llmService
}

// DocumentParser returns the current document parser (may be nil)
func (s *Services) DocumentParser() driven.DocumentParser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.documentParser
}

// SetLLMService replaces the LLM service, closing the old one.
func (s *Services) SetLLMService(svc driven.LLMService) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.llmService != nil {
		_ = s.llmService.Close()
	}

	s.llmService = svc
	s.config.SetLLMAvailable(svc != nil)
}

// SetDocumentParser replaces the document parser
func (s *Services) SetDocumentParser(p driven.DocumentParser) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documentParser = p
	s.config.SetParserAvailable(p != nil)
}

// Close shuts down all services
func (s *Services) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.llmService != nil {
		_ = s.llmService.Close()
		s.llmService = nil
	}
	s.documentParser = nil

	s.config.SetLLMAvailable(false)
	s.config.SetParserAvailable(false)

	return nil
}

// ValidateAndSetLLM validates connectivity before setting LLM service
func (s *Services) ValidateAndSetLLM(ctx context.Context, svc driven.LLMService) error {
	if svc == nil {
		s.SetLLMService(nil)
		return nil
	}

	if err := svc.Ping(ctx); err != nil {
		_ = svc.Close()
		return err
	}

	s.SetLLMService(svc)
	return nil
}

// ValidateAndSetParser validates the parser before setting it
func (s *Services) ValidateAndSetParser(ctx context.Context, p driven.DocumentParser) error {
	if p == nil {
		s.SetDocumentParser(nil)
		return nil
	}

	if err := p.Ping(ctx); err != nil {
		return err
	}

	s.SetDocumentParser(p)
	return nil
}
