package http

import (
	"net/http"
	"strconv"

	"github.com/custodia-labs/tally-core/internal/core/domain"
)

// Control endpoints

// handleListControls godoc
// @Summary      List controls
// @Description  Lists controls newest first. Pass q to search active controls instead.
// @Tags         Controls
// @Produce      json
// @Param        include_inactive  query     bool    false  "Include deactivated controls"
// @Param        q                 query     string  false  "Search title, description and prompt"
// @Success      200               {array}   domain.Control
// @Failure      500               {object}  ErrorResponse  "Internal server error"
// @Router       /controls [get]
func (s *Server) handleListControls(w http.ResponseWriter, r *http.Request) {
	if q := r.URL.Query().Get("q"); q != "" {
		s.searchControls(w, r, q)
		return
	}

	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive"))
	controls, err := s.controlService.List(r.Context(), includeInactive)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, controls)
}

// handleSearchControls godoc
// @Summary      Search controls
// @Description  Case-insensitive substring search over active controls
// @Tags         Controls
// @Produce      json
// @Param        q    query     string  true  "Search text"
// @Success      200  {array}   domain.Control
// @Failure      400  {object}  ErrorResponse  "Missing query"
// @Router       /controls/search [get]
func (s *Server) handleSearchControls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "query parameter q is required")
		return
	}
	s.searchControls(w, r, q)
}

func (s *Server) searchControls(w http.ResponseWriter, r *http.Request, q string) {
	controls, err := s.controlService.Search(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, controls)
}

// handleCreateControl godoc
// @Summary      Create control
// @Description  Creates an active control. The prompt gets a trailing '?' unless it already ends a sentence.
// @Tags         Controls
// @Accept       json
// @Produce      json
// @Param        request  body      domain.CreateControlRequest  true  "Control"
// @Success      201      {object}  domain.Control
// @Failure      400      {object}  ErrorResponse  "Invalid control"
// @Router       /controls [post]
func (s *Server) handleCreateControl(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateControlRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	control, err := s.controlService.Create(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, control)
}

// handleGetControl godoc
// @Summary      Get control
// @Tags         Controls
// @Produce      json
// @Param        id   path      string  true  "Control ID"
// @Success      200  {object}  domain.Control
// @Failure      404  {object}  ErrorResponse  "Control not found"
// @Router       /controls/{id} [get]
func (s *Server) handleGetControl(w http.ResponseWriter, r *http.Request) {
	control, err := s.controlService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, control)
}

// handleUpdateControl godoc
// @Summary      Update control
// @Description  Merges the provided fields. At least one field is required.
// @Tags         Controls
// @Accept       json
// @Produce      json
// @Param        id       path      string                       true  "Control ID"
// @Param        request  body      domain.UpdateControlRequest  true  "Fields to change"
// @Success      200      {object}  domain.Control
// @Failure      400      {object}  ErrorResponse  "Invalid update"
// @Failure      404      {object}  ErrorResponse  "Control not found"
// @Router       /controls/{id} [put]
func (s *Server) handleUpdateControl(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateControlRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	control, err := s.controlService.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, control)
}

// handleDeleteControl godoc
// @Summary      Delete control
// @Description  Deletes the control and every AI response for it. Documents are kept.
// @Tags         Controls
// @Param        id   path  string  true  "Control ID"
// @Success      204
// @Failure      404  {object}  ErrorResponse  "Control not found"
// @Router       /controls/{id} [delete]
func (s *Server) handleDeleteControl(w http.ResponseWriter, r *http.Request) {
	if err := s.controlService.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDuplicateControl godoc
// @Summary      Duplicate control
// @Tags         Controls
// @Produce      json
// @Param        id   path      string  true  "Control ID"
// @Success      201  {object}  domain.Control
// @Failure      404  {object}  ErrorResponse  "Control not found"
// @Router       /controls/{id}/duplicate [post]
func (s *Server) handleDuplicateControl(w http.ResponseWriter, r *http.Request) {
	control, err := s.controlService.Duplicate(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, control)
}

// handleSetControlActive serves the activate and deactivate endpoints
func (s *Server) handleSetControlActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		control, err := s.controlService.SetActive(r.Context(), r.PathValue("id"), active)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, control)
	}
}
