package http

import (
	"net/http"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driving"
)

// analyzeBatchRequest wraps several stateless analyses
type analyzeBatchRequest struct {
	Requests []domain.AnalyzeRequest `json:"requests"`
}

// analyzeBatchResponse holds results in request order
type analyzeBatchResponse struct {
	Results []*domain.AnalysisResult `json:"results"`
}

// evaluateRequest selects one grid cell
type evaluateRequest struct {
	DocumentID string `json:"document_id"`
	ControlID  string `json:"control_id"`
	Force      bool   `json:"force"`
}

// scheduledResponse reports how many evaluations were queued
type scheduledResponse struct {
	Scheduled int `json:"scheduled"`
}

// handleAnalyze godoc
// @Summary      Analyze content
// @Description  Evaluates raw content against a prompt. Nothing is stored. Model failures come back as a failed result.
// @Tags         AI
// @Accept       json
// @Produce      json
// @Param        request  body      domain.AnalyzeRequest  true  "Content and prompt"
// @Success      200      {object}  domain.AnalysisResult
// @Failure      400      {object}  ErrorResponse  "Missing content or prompt"
// @Failure      503      {object}  ErrorResponse  "Language model not configured"
// @Router       /ai/analyze [post]
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req domain.AnalyzeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.analysisService.Analyze(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleAnalyzeBatch godoc
// @Summary      Analyze content in batch
// @Description  Runs several analyses with bounded concurrency. Invalid items fail individually.
// @Tags         AI
// @Accept       json
// @Produce      json
// @Param        request  body      analyzeBatchRequest  true  "Analyses"
// @Success      200      {object}  analyzeBatchResponse
// @Failure      400      {object}  ErrorResponse  "No requests"
// @Router       /ai/analyze/batch [post]
func (s *Server) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	var req analyzeBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	results, err := s.analysisService.AnalyzeBatch(r.Context(), req.Requests)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, analyzeBatchResponse{Results: results})
}

// handleEvaluateCell godoc
// @Summary      Evaluate cell
// @Description  Generates and stores the response for one document/control pair. Completed cells are returned unchanged unless force is set.
// @Tags         AI
// @Accept       json
// @Produce      json
// @Param        request  body      evaluateRequest  true  "Cell"
// @Success      200      {object}  domain.AIResponse
// @Failure      400      {object}  ErrorResponse  "Document not extracted"
// @Failure      409      {object}  ErrorResponse  "Cell is being evaluated"
// @Router       /ai/evaluate [post]
func (s *Server) handleEvaluateCell(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	key := domain.ResponseKey{DocumentID: req.DocumentID, ControlID: req.ControlID}
	resp, err := s.analysisService.EvaluateCell(r.Context(), key, req.Force)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleEvaluatePending godoc
// @Summary      Evaluate pending cells
// @Description  Queues every extracted cell without a response or with a failed one
// @Tags         AI
// @Produce      json
// @Success      202  {object}  scheduledResponse
// @Failure      503  {object}  ErrorResponse  "Background processing not configured"
// @Router       /ai/evaluate/pending [post]
func (s *Server) handleEvaluatePending(w http.ResponseWriter, r *http.Request) {
	n, err := s.analysisService.SchedulePending(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, scheduledResponse{Scheduled: n})
}

// handleRegenerate godoc
// @Summary      Regenerate responses
// @Description  Queues forced evaluations for exactly one of control_id, document_id or ai_response_id
// @Tags         AI
// @Accept       json
// @Produce      json
// @Param        request  body      domain.RegenerateRequest  true  "Scope"
// @Success      202      {object}  domain.RegenerateResult
// @Failure      400      {object}  ErrorResponse  "Zero or several scopes given"
// @Failure      404      {object}  ErrorResponse  "Scope target not found"
// @Router       /ai/regenerate [post]
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req domain.RegenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.analysisService.Regenerate(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

// handleListResponses godoc
// @Summary      List AI responses
// @Description  Lists stored responses, most recently updated first
// @Tags         AI
// @Produce      json
// @Param        document_id  query     string  false  "Filter by document"
// @Param        control_id   query     string  false  "Filter by control"
// @Param        status       query     string  false  "Filter by status"
// @Success      200          {array}   domain.AIResponse
// @Failure      400          {object}  ErrorResponse  "Unknown status"
// @Router       /ai/responses [get]
func (s *Server) handleListResponses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	responses, err := s.analysisService.ListResponses(r.Context(), driving.ResponseFilter{
		DocumentID: q.Get("document_id"),
		ControlID:  q.Get("control_id"),
		Status:     domain.ProcessingStatus(q.Get("status")),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, responses)
}

// handleGetResponse godoc
// @Summary      Get AI response
// @Tags         AI
// @Produce      json
// @Param        id   path      string  true  "Response ID"
// @Success      200  {object}  domain.AIResponse
// @Failure      404  {object}  ErrorResponse  "Response not found"
// @Router       /ai/responses/{id} [get]
func (s *Server) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	resp, err := s.analysisService.GetResponse(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
