package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
	"github.com/custodia-labs/tally-core/internal/core/ports/driving"
	"github.com/custodia-labs/tally-core/internal/runtime"
)

// Ensure analysisService implements AnalysisService
var _ driving.AnalysisService = (*analysisService)(nil)

const systemPrompt = `You are an AI assistant specialized in analyzing documents for compliance and control requirements.
Your task is to evaluate the provided document content against the specified control criteria.
Provide clear, concise responses with specific references to relevant sections of the document.
If you cannot find relevant information, clearly state that the document does not address the control requirements.`

const userPromptTemplate = `Please analyze the following document content for compliance with the specified control requirements:

Control Requirements:
%s

Document Content:
%s

Please provide:
1. An assessment of whether the document satisfies the control requirements
2. Specific references to relevant sections of the document
3. Any gaps or areas where the document does not fully address the requirements`

const (
	// DefaultAnalysisConcurrency bounds parallel language-model calls
	DefaultAnalysisConcurrency = 5
	// DefaultCellLockTTL is renewed at half-life while the cell is evaluated
	DefaultCellLockTTL = 2 * time.Minute
)

// AnalysisServiceConfig holds the collaborators of the analysis service
type AnalysisServiceConfig struct {
	ControlStore  driven.ControlStore
	DocumentStore driven.DocumentStore
	ResponseStore driven.ResponseStore
	Services      *runtime.Services
	Dispatcher    *Dispatcher

	// Lock guards cells across instances. Optional.
	Lock    driven.DistributedLock
	LockTTL time.Duration

	Concurrency int

	// ContentCacheSize of 0 disables the extracted-text cache
	ContentCacheSize int
	ContentCacheTTL  time.Duration

	Logger *slog.Logger
}

// analysisService implements the AnalysisService interface
type analysisService struct {
	controlStore  driven.ControlStore
	documentStore driven.DocumentStore
	responseStore driven.ResponseStore
	services      *runtime.Services
	dispatcher    *Dispatcher
	lock          driven.DistributedLock
	lockTTL       time.Duration
	concurrency   int
	cache         *contentCache
	logger        *slog.Logger
	now           func() time.Time
}

// NewAnalysisService creates a new AnalysisService
func NewAnalysisService(cfg AnalysisServiceConfig) driving.AnalysisService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultAnalysisConcurrency
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = DefaultCellLockTTL
	}
	cacheTTL := cfg.ContentCacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &analysisService{
		controlStore:  cfg.ControlStore,
		documentStore: cfg.DocumentStore,
		responseStore: cfg.ResponseStore,
		services:      cfg.Services,
		dispatcher:    cfg.Dispatcher,
		lock:          cfg.Lock,
		lockTTL:       lockTTL,
		concurrency:   concurrency,
		cache:         newContentCache(cfg.ContentCacheSize, cacheTTL),
		logger:        logger,
		now:           time.Now,
	}
}

func (s *analysisService) llm() (driven.LLMService, error) {
	llm := s.services.LLMService()
	if llm == nil {
		return nil, fmt.Errorf("%w: language model not configured", domain.ErrServiceUnavailable)
	}
	return llm, nil
}

// Analyze evaluates raw content against a prompt without storing anything
func (s *analysisService) Analyze(ctx context.Context, req domain.AnalyzeRequest) (*domain.AnalysisResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	llm, err := s.llm()
	if err != nil {
		return nil, err
	}
	return s.analyze(ctx, llm, req.DocumentContent, req.ControlPrompt), nil
}

// AnalyzeBatch runs every request with bounded concurrency. Invalid
// requests produce failed results instead of failing the batch.
func (s *analysisService) AnalyzeBatch(ctx context.Context, reqs []domain.AnalyzeRequest) ([]*domain.AnalysisResult, error) {
	if len(reqs) == 0 {
		return nil, domain.NewValidationError("requests", "at least one request is required")
	}
	llm, err := s.llm()
	if err != nil {
		return nil, err
	}

	results := make([]*domain.AnalysisResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			if err := req.Validate(); err != nil {
				results[i] = failedResult(err.Error())
				return nil
			}
			results[i] = s.analyze(gctx, llm, req.DocumentContent, req.ControlPrompt)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// analyze calls the language model once. It never returns an error; failures
// come back as a failed result.
func (s *analysisService) analyze(ctx context.Context, llm driven.LLMService, content, prompt string) *domain.AnalysisResult {
	start := s.now()
	completion, err := llm.Complete(ctx, systemPrompt, fmt.Sprintf(userPromptTemplate, prompt, content))
	elapsed := s.now().Sub(start)
	llmRequestDuration.Observe(elapsed.Seconds())

	if err != nil {
		llmRequestsTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
		s.logger.Warn("language model request failed", "error", err, "duration", elapsed)
		return failedResult(fmt.Sprintf("language model error: %v", err))
	}

	llmRequestsTotal.WithLabelValues(string(domain.StatusCompleted)).Inc()
	llmTokensTotal.Add(float64(completion.TotalTokens))

	return &domain.AnalysisResult{
		Status:          domain.StatusCompleted,
		ResponseText:    completion.Text,
		ConfidenceScore: domain.ConfidenceScore(completion.Text),
		Citations:       []domain.Citation{},
		Metadata: map[string]any{
			"model":             completion.Model,
			"prompt_tokens":     completion.PromptTokens,
			"completion_tokens": completion.CompletionTokens,
			"finish_reason":     completion.FinishReason,
		},
		TokensUsed:       completion.TotalTokens,
		ProcessingTimeMS: elapsed.Milliseconds(),
		Model:            completion.Model,
	}
}

func failedResult(message string) *domain.AnalysisResult {
	return &domain.AnalysisResult{
		Status:          domain.StatusFailed,
		ConfidenceScore: 0,
		Citations:       []domain.Citation{},
		Metadata:        map[string]any{},
		ErrorMessage:    message,
	}
}

func cellLockName(key domain.ResponseKey) string {
	return "response:" + key.ControlID + ":" + key.DocumentID
}

// EvaluateCell runs the state machine for one pair:
// pending|failed -> processing, completed (force) -> regenerating,
// then completed or failed. A cell left processing or regenerating by an
// interrupted run is first moved to failed and then restarted.
func (s *analysisService) EvaluateCell(ctx context.Context, key domain.ResponseKey, force bool) (*domain.AIResponse, error) {
	if key.IsZero() {
		return nil, domain.NewValidationError("", "document_id and control_id are required")
	}
	llm, err := s.llm()
	if err != nil {
		return nil, err
	}

	control, err := s.controlStore.Get(ctx, key.ControlID)
	if err != nil {
		return nil, err
	}
	doc, err := s.documentStore.Get(ctx, key.DocumentID)
	if err != nil {
		return nil, err
	}
	if !doc.IsReadyForProcessing() {
		s.cache.remove(doc.ID)
		return nil, domain.NewValidationError("document_id", "document %s has no extracted text yet", doc.ID)
	}

	if s.lock != nil {
		name := cellLockName(key)
		held, err := acquireLease(ctx, s.lock, name, s.lockTTL, s.logger)
		if err != nil {
			return nil, fmt.Errorf("acquire cell lock: %w", err)
		}
		if held == nil {
			return nil, fmt.Errorf("%w: cell %s is being evaluated", domain.ErrConflict, name)
		}
		defer held.Release(ctx)
	}

	resp, err := s.responseStore.Get(ctx, key)
	switch {
	case isNotFound(err), errors.Is(err, domain.ErrStorageInconsistency):
		// Missing, or a broken record the next save replaces
		resp = domain.NewAIResponse(key, s.now())
	case err != nil:
		return nil, err
	}

	if resp.Status.IsActive() {
		if !s.interrupted(resp) {
			return nil, fmt.Errorf("%w: cell is already being evaluated", domain.ErrConflict)
		}
		if err := s.failInterrupted(ctx, resp); err != nil {
			return nil, err
		}
	}

	var next domain.ProcessingStatus
	switch resp.Status {
	case domain.StatusPending, domain.StatusFailed:
		next = domain.StatusProcessing
	case domain.StatusCompleted:
		if !force {
			return resp, nil
		}
		next = domain.StatusRegenerating
	default:
		return nil, fmt.Errorf("%w: cell status %q", domain.ErrStorageInconsistency, resp.Status)
	}
	if err := resp.TransitionTo(next, s.now()); err != nil {
		return nil, err
	}
	resp.ErrorMessage = ""
	if err := s.responseStore.Save(ctx, resp); err != nil {
		return nil, err
	}

	var result *domain.AnalysisResult
	text, err := s.documentText(ctx, doc.ID)
	if err != nil {
		result = failedResult(fmt.Sprintf("load document text: %v", err))
	} else {
		result = s.analyze(ctx, llm, text, control.Prompt)
	}

	if err := s.applyResult(resp, result); err != nil {
		return nil, err
	}
	// The outcome is stored even when the caller has gone away
	if err := s.responseStore.Save(context.WithoutCancel(ctx), resp); err != nil {
		return nil, err
	}

	cellEvaluationsTotal.WithLabelValues(string(resp.Status)).Inc()
	s.logger.Info("cell evaluated",
		"document_id", key.DocumentID,
		"control_id", key.ControlID,
		"status", resp.Status,
		"tokens", resp.TokensUsed,
	)
	return resp, nil
}

// interrupted reports whether an active cell was left behind by a run that
// no longer exists. With a lock the caller holds the cell lease, so no other
// run can be live. Without one, a cell untouched for a lock TTL is abandoned.
func (s *analysisService) interrupted(resp *domain.AIResponse) bool {
	if s.lock != nil {
		return true
	}
	return s.stale(resp)
}

func (s *analysisService) stale(resp *domain.AIResponse) bool {
	return s.now().Sub(resp.UpdatedAt) >= s.lockTTL
}

func (s *analysisService) failInterrupted(ctx context.Context, resp *domain.AIResponse) error {
	s.logger.Warn("recovering interrupted cell evaluation",
		"document_id", resp.DocumentID,
		"control_id", resp.ControlID,
		"status", resp.Status,
		"updated_at", resp.UpdatedAt,
	)
	from := resp.Status
	if err := resp.TransitionTo(domain.StatusFailed, s.now()); err != nil {
		return err
	}
	resp.ErrorMessage = fmt.Sprintf("evaluation interrupted while %s", from)
	return s.responseStore.Save(ctx, resp)
}

func (s *analysisService) applyResult(resp *domain.AIResponse, result *domain.AnalysisResult) error {
	if err := domain.ValidateCitations(result.Citations); err != nil {
		result = failedResult(err.Error())
	}
	if err := resp.TransitionTo(result.Status, s.now()); err != nil {
		return err
	}

	confidence := result.ConfidenceScore
	resp.ResponseText = result.ResponseText
	resp.ConfidenceScore = &confidence
	resp.Citations = result.Citations
	resp.Metadata = result.Metadata
	resp.TokensUsed = result.TokensUsed
	resp.ProcessingTimeMS = result.ProcessingTimeMS
	resp.Model = result.Model
	resp.ErrorMessage = result.ErrorMessage
	return nil
}

func (s *analysisService) documentText(ctx context.Context, documentID string) (string, error) {
	if text, ok := s.cache.get(documentID); ok {
		return text, nil
	}
	content, err := s.documentStore.GetContent(ctx, documentID)
	if err != nil {
		return "", err
	}
	s.cache.add(documentID, content.Text)
	return content.Text, nil
}

func (s *analysisService) dispatch(ctx context.Context, keys []domain.ResponseKey, force bool) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	if s.dispatcher == nil {
		return 0, fmt.Errorf("%w: background processing not configured", domain.ErrServiceUnavailable)
	}
	tasks := make([]*domain.Task, 0, len(keys))
	for _, key := range keys {
		tasks = append(tasks, domain.NewEvaluateCellTask(key, force))
	}
	if err := s.dispatcher.Dispatch(ctx, tasks...); err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// ScheduleDocument queues the document against every active control
func (s *analysisService) ScheduleDocument(ctx context.Context, documentID string) (int, error) {
	doc, err := s.documentStore.Get(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if !doc.IsReadyForProcessing() {
		return 0, domain.NewValidationError("document_id", "document %s has no extracted text yet", doc.ID)
	}
	controls, err := s.controlStore.List(ctx, false)
	if err != nil {
		return 0, err
	}
	keys := make([]domain.ResponseKey, 0, len(controls))
	for _, c := range controls {
		keys = append(keys, domain.ResponseKey{DocumentID: doc.ID, ControlID: c.ID})
	}
	return s.dispatch(ctx, keys, false)
}

// SchedulePending queues every extracted cell that has no response, a failed
// one, or an active one that has not moved for a lock TTL
func (s *analysisService) SchedulePending(ctx context.Context) (int, error) {
	controls, err := s.controlStore.List(ctx, false)
	if err != nil {
		return 0, err
	}
	documents, err := s.documentStore.List(ctx, "")
	if err != nil {
		return 0, err
	}
	responses, err := s.responseStore.List(ctx)
	if err != nil {
		return 0, err
	}

	byKey := make(map[domain.ResponseKey]*domain.AIResponse, len(responses))
	for _, r := range responses {
		byKey[r.Key()] = r
	}

	var keys []domain.ResponseKey
	for _, doc := range documents {
		if !doc.IsReadyForProcessing() {
			continue
		}
		for _, c := range controls {
			key := domain.ResponseKey{DocumentID: doc.ID, ControlID: c.ID}
			if s.outstanding(byKey[key]) {
				keys = append(keys, key)
			}
		}
	}
	return s.dispatch(ctx, keys, false)
}

func (s *analysisService) outstanding(resp *domain.AIResponse) bool {
	if resp == nil {
		return true
	}
	switch resp.Status {
	case domain.StatusPending, domain.StatusFailed:
		return true
	case domain.StatusProcessing, domain.StatusRegenerating:
		return s.stale(resp)
	}
	return false
}

// Regenerate queues forced evaluations for exactly one scope
func (s *analysisService) Regenerate(ctx context.Context, req domain.RegenerateRequest) (*domain.RegenerateResult, error) {
	scope, err := req.Scope()
	if err != nil {
		return nil, err
	}
	if _, err := s.llm(); err != nil {
		return nil, err
	}

	var keys []domain.ResponseKey
	switch scope {
	case domain.RegenerateScopeControl:
		if _, err := s.controlStore.Get(ctx, req.ControlID); err != nil {
			return nil, err
		}
		documents, err := s.documentStore.List(ctx, "")
		if err != nil {
			return nil, err
		}
		for _, doc := range documents {
			if doc.IsReadyForProcessing() {
				keys = append(keys, domain.ResponseKey{DocumentID: doc.ID, ControlID: req.ControlID})
			}
		}

	case domain.RegenerateScopeDocument:
		doc, err := s.documentStore.Get(ctx, req.DocumentID)
		if err != nil {
			return nil, err
		}
		if !doc.IsReadyForProcessing() {
			return nil, domain.NewValidationError("document_id", "document %s has no extracted text yet", doc.ID)
		}
		controls, err := s.controlStore.List(ctx, false)
		if err != nil {
			return nil, err
		}
		for _, c := range controls {
			keys = append(keys, domain.ResponseKey{DocumentID: doc.ID, ControlID: c.ID})
		}

	case domain.RegenerateScopeResponse:
		resp, err := s.responseStore.GetByID(ctx, req.AIResponseID)
		if err != nil {
			return nil, err
		}
		keys = append(keys, resp.Key())
	}

	n, err := s.dispatch(ctx, keys, true)
	if err != nil {
		return nil, err
	}
	s.logger.Info("regeneration scheduled", "scope", scope, "count", n)
	return &domain.RegenerateResult{Scope: scope, Scheduled: n}, nil
}

// GetResponse retrieves a stored response by ID
func (s *analysisService) GetResponse(ctx context.Context, id string) (*domain.AIResponse, error) {
	return s.responseStore.GetByID(ctx, id)
}

// ListResponses returns matching responses, most recently updated first
func (s *analysisService) ListResponses(ctx context.Context, filter driving.ResponseFilter) ([]*domain.AIResponse, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, domain.NewValidationError("status", "unknown status %q", filter.Status)
	}

	responses, err := s.responseStore.List(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*domain.AIResponse, 0, len(responses))
	for _, r := range responses {
		if filter.DocumentID != "" && r.DocumentID != filter.DocumentID {
			continue
		}
		if filter.ControlID != "" && r.ControlID != filter.ControlID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		matched = append(matched, r)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	return matched, nil
}
