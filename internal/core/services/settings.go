package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
	"github.com/custodia-labs/tally-core/internal/core/ports/driving"
	"github.com/custodia-labs/tally-core/internal/runtime"
)

// Ensure settingsService implements SettingsService
var _ driving.SettingsService = (*settingsService)(nil)

// settingsService hot-reloads the collaborator clients. Settings live in
// memory only; the environment is the source of truth at boot.
type settingsService struct {
	aiFactory driven.AIServiceFactory
	services  *runtime.Services
	logger    *slog.Logger

	mu     sync.RWMutex
	llm    domain.LLMSettings
	parser domain.ParserSettings
}

// NewSettingsService creates a new SettingsService seeded with the boot settings
func NewSettingsService(
	aiFactory driven.AIServiceFactory,
	services *runtime.Services,
	llm domain.LLMSettings,
	parser domain.ParserSettings,
	logger *slog.Logger,
) driving.SettingsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &settingsService{
		aiFactory: aiFactory,
		services:  services,
		logger:    logger,
		llm:       llm,
		parser:    parser,
	}
}

// GetAIStatus returns which collaborators are currently available
func (s *settingsService) GetAIStatus(ctx context.Context) (*driving.AISettingsStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := &driving.AISettingsStatus{}
	if llm := s.services.LLMService(); llm != nil {
		status.LLM = driving.AIServiceStatus{
			Available: true,
			Provider:  string(s.llm.Provider),
			Model:     llm.Model(),
		}
	}
	if s.services.DocumentParser() != nil {
		status.Parser = driving.AIServiceStatus{
			Available: true,
			Provider:  string(s.parser.Provider),
		}
	}
	return status, nil
}

// UpdateAISettings validates, builds and swaps in new clients
func (s *settingsService) UpdateAISettings(ctx context.Context, req driving.UpdateAISettingsRequest) (*driving.AISettingsStatus, error) {
	if req.LLM == nil && req.Parser == nil {
		return nil, domain.NewValidationError("", "llm or parser settings are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	status := &driving.AISettingsStatus{}

	if req.LLM != nil {
		settings := domain.DefaultLLMSettings(req.LLM.APIKey)
		if req.LLM.Provider != "" {
			settings.Provider = req.LLM.Provider
		}
		if req.LLM.Model != "" {
			settings.Model = req.LLM.Model
		}
		if req.LLM.MaxTokens > 0 {
			settings.MaxTokens = req.LLM.MaxTokens
		}
		if req.LLM.Temperature != nil {
			settings.Temperature = *req.LLM.Temperature
		}
		settings.BaseURL = req.LLM.BaseURL
		if !settings.Provider.IsValid() {
			return nil, domain.NewValidationError("llm.provider", "unknown provider %q", settings.Provider)
		}

		status.LLM = s.reloadLLM(ctx, settings)
	}

	if req.Parser != nil {
		settings := domain.ParserSettings{
			Provider: req.Parser.Provider,
			APIKey:   req.Parser.APIKey,
			BaseURL:  req.Parser.BaseURL,
		}
		if settings.Provider == "" {
			settings.Provider = domain.ParserProviderReducto
		}
		if !settings.Provider.IsValid() {
			return nil, domain.NewValidationError("parser.provider", "unknown provider %q", settings.Provider)
		}

		status.Parser = s.reloadParser(ctx, settings)
	}

	return status, nil
}

func (s *settingsService) reloadLLM(ctx context.Context, settings domain.LLMSettings) driving.AIServiceStatus {
	status := driving.AIServiceStatus{Provider: string(settings.Provider), Model: settings.Model}

	if !settings.IsConfigured() {
		s.services.SetLLMService(nil)
		s.llm = settings
		s.logger.Info("language model disabled")
		return status
	}

	svc, err := s.aiFactory.CreateLLMService(&settings)
	if err == nil {
		err = s.services.ValidateAndSetLLM(ctx, svc)
	}
	if err != nil {
		status.Error = err.Error()
		s.logger.Warn("language model settings rejected", "provider", settings.Provider, "error", err)
		return status
	}

	s.llm = settings
	status.Available = true
	s.logger.Info("language model reloaded", "provider", settings.Provider, "model", settings.Model)
	return status
}

func (s *settingsService) reloadParser(ctx context.Context, settings domain.ParserSettings) driving.AIServiceStatus {
	status := driving.AIServiceStatus{Provider: string(settings.Provider)}

	if !settings.IsConfigured() {
		s.services.SetDocumentParser(nil)
		s.parser = settings
		s.logger.Info("document parser disabled")
		return status
	}

	parser, err := s.aiFactory.CreateDocumentParser(&settings)
	if err == nil {
		err = s.services.ValidateAndSetParser(ctx, parser)
	}
	if err != nil {
		status.Error = err.Error()
		s.logger.Warn("parser settings rejected", "provider", settings.Provider, "error", err)
		return status
	}

	s.parser = settings
	status.Available = true
	s.logger.Info("document parser reloaded", "provider", settings.Provider)
	return status
}

// TestConnection pings every configured collaborator
func (s *settingsService) TestConnection(ctx context.Context) error {
	var errs []error
	if llm := s.services.LLMService(); llm != nil {
		if err := llm.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("language model: %w", err))
		}
	}
	if parser := s.services.DocumentParser(); parser != nil {
		if err := parser.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("document parser: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrServiceUnavailable, errors.Join(errs...))
	}
	return nil
}
