package http

import "net/http"

// handleTabularView godoc
// @Summary      Grid view
// @Description  Joins active controls, documents and AI responses into rows, columns and completion statistics
// @Tags         Tabular
// @Produce      json
// @Success      200  {object}  domain.TabularView
// @Failure      500  {object}  ErrorResponse  "Controls or documents could not be read"
// @Router       /tabular/view [get]
func (s *Server) handleTabularView(w http.ResponseWriter, r *http.Request) {
	view, err := s.tabularService.BuildView(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// handleProcessingStatus godoc
// @Summary      Processing status
// @Description  Counts stored AI responses per status
// @Tags         Tabular
// @Produce      json
// @Success      200  {object}  domain.ProcessingSummary
// @Router       /tabular/status [get]
func (s *Server) handleProcessingStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := s.tabularService.ProcessingSummary(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
