package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
	"github.com/custodia-labs/tally-core/internal/core/ports/driving"
)

// Error codes returned in ErrorResponse.ErrorCode
const (
	codeValidation        = "VALIDATION_ERROR"
	codeFileTooLarge      = "FILE_TOO_LARGE"
	codeUnsupportedMedia  = "UNSUPPORTED_MEDIA_TYPE"
	codeNotFound          = "NOT_FOUND"
	codeInvalidTransition = "INVALID_TRANSITION"
	codeConflict          = "CONFLICT"
	codeUnavailable       = "SERVICE_UNAVAILABLE"
	codeInternal          = "INTERNAL_ERROR"
)

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	ErrorCode string            `json:"error_code" example:"VALIDATION_ERROR"`
	Detail    string            `json:"detail" example:"title: title is required"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// ComponentHealth is the health of one dependency
type ComponentHealth struct {
	Status string `json:"status" example:"healthy"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse reports the server and its dependencies
// @Description Health status with per-component detail
type HealthResponse struct {
	Status     string                     `json:"status" example:"healthy"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
	Queue      *driven.QueueStats         `json:"queue,omitempty"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health of the API and its dependencies. Always 200 while the process can respond.
// @Tags         Health
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Components: map[string]ComponentHealth{
			"server": {Status: "healthy"},
		},
	}

	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(r.Context()); err != nil {
			resp.Components[name] = ComponentHealth{Status: "unhealthy", Error: err.Error()}
			resp.Status = "degraded"
			return
		}
		resp.Components[name] = ComponentHealth{Status: "healthy"}
	}
	check("storage", s.storage)
	check("redis", s.redisClient)
	if s.taskQueue != nil {
		check("queue", s.taskQueue)
		if stats, err := s.taskQueue.Stats(r.Context()); err == nil {
			resp.Queue = stats
		} else {
			s.logger.Warn("failed to read queue stats", "error", err)
		}
	}

	if s.settingsService != nil {
		if status, err := s.settingsService.GetAIStatus(r.Context()); err == nil {
			resp.Components["llm"] = availability(status.LLM)
			resp.Components["parser"] = availability(status.Parser)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func availability(status driving.AIServiceStatus) ComponentHealth {
	if status.Available {
		return ComponentHealth{Status: "healthy"}
	}
	return ComponentHealth{Status: "unconfigured", Error: status.Error}
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Returns 200 once the object store is reachable
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Failure      503  {object}  ErrorResponse  "Object store unreachable"
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.storage != nil {
		if err := s.storage.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, codeUnavailable, "object store unreachable: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// AI settings endpoints

// handleGetAIStatus godoc
// @Summary      Get AI status
// @Description  Reports whether the language model and the document parser are configured
// @Tags         AI Settings
// @Produce      json
// @Success      200  {object}  driving.AISettingsStatus
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Router       /settings/ai/status [get]
func (s *Server) handleGetAIStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.settingsService.GetAIStatus(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// handleUpdateAISettings godoc
// @Summary      Update AI settings
// @Description  Replaces the language-model and/or parser client without a restart. Rejected clients keep the previous one.
// @Tags         AI Settings
// @Accept       json
// @Produce      json
// @Param        request  body      driving.UpdateAISettingsRequest  true  "AI settings to update"
// @Success      200      {object}  driving.AISettingsStatus
// @Failure      400      {object}  ErrorResponse  "Invalid configuration or unsupported provider"
// @Router       /settings/ai [put]
func (s *Server) handleUpdateAISettings(w http.ResponseWriter, r *http.Request) {
	var req driving.UpdateAISettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	status, err := s.settingsService.UpdateAISettings(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// handleTestAIConnection godoc
// @Summary      Test AI connection
// @Description  Pings the configured language model and document parser
// @Tags         AI Settings
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Failure      503  {object}  ErrorResponse  "AI service unavailable"
// @Router       /settings/ai/test [post]
func (s *Server) handleTestAIConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.settingsService.TestConnection(r.Context()); err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, ErrorResponse{
		ErrorCode: code,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

// writeDomainError maps a service error onto a status code and error body
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var validation *domain.ValidationError
	var maxBytes *http.MaxBytesError

	switch {
	case errors.As(err, &validation):
		status, code := http.StatusBadRequest, codeValidation
		switch validation.Code {
		case domain.ValidationCodeFileTooLarge:
			status, code = http.StatusRequestEntityTooLarge, codeFileTooLarge
		case domain.ValidationCodeUnsupportedMedia:
			status, code = http.StatusUnsupportedMediaType, codeUnsupportedMedia
		}
		resp := ErrorResponse{ErrorCode: code, Detail: validation.Error(), Timestamp: time.Now().UTC()}
		if validation.Field != "" {
			resp.Fields = map[string]string{validation.Field: validation.Message}
		}
		writeJSON(w, status, resp)
	case errors.As(err, &maxBytes):
		writeError(w, http.StatusRequestEntityTooLarge, codeFileTooLarge, "request body exceeds maximum allowed size")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, codeInvalidTransition, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, err.Error())
	default:
		if s.logger != nil {
			s.logger.Error("request failed", "error", err)
		}
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}

// decodeJSON decodes the request body into v, writing a 400 on failure
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return false
	}
	return true
}
