package http

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/custodia-labs/tally-core/internal/core/ports/driving"
)

// multipartOverhead covers form framing and small fields on top of the file bytes
const multipartOverhead = 1 << 20

// maxBatchFiles bounds a single batch upload
const maxBatchFiles = 20

// Document endpoints

// handleUploadDocument godoc
// @Summary      Upload document
// @Description  Stores one file and starts text extraction in the background
// @Tags         Documents
// @Accept       multipart/form-data
// @Produce      json
// @Param        file        formData  file    true   "Document"
// @Param        control_id  formData  string  false  "Control the document was uploaded for"
// @Success      201         {object}  domain.Document
// @Failure      400         {object}  ErrorResponse  "Invalid upload"
// @Failure      413         {object}  ErrorResponse  "File too large"
// @Failure      415         {object}  ErrorResponse  "Unsupported file type"
// @Router       /documents/upload [post]
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeMultipartError(w, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, codeValidation, "form field file is required")
		return
	}

	req, err := readUpload(headers[0], r.FormValue("control_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	doc, err := s.docService.Upload(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

// handleUploadBatch godoc
// @Summary      Upload documents
// @Description  Uploads each file independently. Failures are listed per file and never fail the batch.
// @Tags         Documents
// @Accept       multipart/form-data
// @Produce      json
// @Param        files       formData  file    true   "Documents"
// @Param        control_id  formData  string  false  "Control the documents were uploaded for"
// @Success      200         {object}  domain.BatchUploadResult
// @Failure      400         {object}  ErrorResponse  "No files"
// @Router       /documents/upload/batch [post]
func (s *Server) handleUploadBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchFiles*(s.maxUploadSize+multipartOverhead))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeMultipartError(w, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, codeValidation, "form field files is required")
		return
	}
	if len(headers) > maxBatchFiles {
		writeError(w, http.StatusBadRequest, codeValidation, fmt.Sprintf("at most %d files per batch", maxBatchFiles))
		return
	}

	result, err := s.docService.UploadBatch(r.Context(), readUploads(headers, r.FormValue("control_id")))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeMultipartError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		s.writeDomainError(w, err)
		return
	}
	writeError(w, http.StatusBadRequest, codeValidation, "invalid multipart form: "+err.Error())
}

// readUploads reads every part. A part that cannot be read still yields a
// request, carrying ReadErr, so it is reported with the per-file failures.
func readUploads(headers []*multipart.FileHeader, controlID string) []driving.UploadRequest {
	reqs := make([]driving.UploadRequest, 0, len(headers))
	for _, h := range headers {
		req, err := readUpload(h, controlID)
		if err != nil {
			req = driving.UploadRequest{Filename: h.Filename, ControlID: controlID, ReadErr: err}
		}
		reqs = append(reqs, req)
	}
	return reqs
}

// readUpload reads one multipart file into an upload request. The part's
// content type wins; the extension is the fallback.
func readUpload(h *multipart.FileHeader, controlID string) (driving.UploadRequest, error) {
	f, err := h.Open()
	if err != nil {
		return driving.UploadRequest{}, fmt.Errorf("open %s: %w", h.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return driving.UploadRequest{}, fmt.Errorf("read %s: %w", h.Filename, err)
	}

	contentType := h.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(h.Filename)); byExt != "" {
			contentType = byExt
		}
	}

	return driving.UploadRequest{
		Filename:    h.Filename,
		ContentType: contentType,
		Data:        data,
		ControlID:   controlID,
	}, nil
}

// handleListDocuments godoc
// @Summary      List documents
// @Description  Lists documents newest first
// @Tags         Documents
// @Produce      json
// @Param        control_id  query     string  false  "Only documents uploaded for this control"
// @Success      200         {array}   domain.Document
// @Router       /documents [get]
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.docService.List(r.Context(), r.URL.Query().Get("control_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, docs)
}

// handleGetDocument godoc
// @Summary      Get document
// @Tags         Documents
// @Produce      json
// @Param        id   path      string  true  "Document ID"
// @Success      200  {object}  domain.Document
// @Failure      404  {object}  ErrorResponse  "Document not found"
// @Router       /documents/{id} [get]
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.docService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// handleDeleteDocument godoc
// @Summary      Delete document
// @Description  Deletes the document, its file, its extracted text and its AI responses
// @Tags         Documents
// @Param        id   path  string  true  "Document ID"
// @Success      204
// @Failure      404  {object}  ErrorResponse  "Document not found"
// @Router       /documents/{id} [delete]
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.docService.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetDocumentContent godoc
// @Summary      Get extracted text
// @Tags         Documents
// @Produce      json
// @Param        id   path      string  true  "Document ID"
// @Success      200  {object}  domain.DocumentContent
// @Failure      404  {object}  ErrorResponse  "Document or content not found"
// @Router       /documents/{id}/content [get]
func (s *Server) handleGetDocumentContent(w http.ResponseWriter, r *http.Request) {
	content, err := s.docService.GetContent(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, content)
}

// handleGetDocumentFile godoc
// @Summary      Download document
// @Description  Streams the stored file. This is the file_url when the store cannot sign URLs.
// @Tags         Documents
// @Produce      octet-stream
// @Param        id   path  string  true  "Document ID"
// @Success      200
// @Failure      404  {object}  ErrorResponse  "Document not found"
// @Router       /documents/{id}/file [get]
func (s *Server) handleGetDocumentFile(w http.ResponseWriter, r *http.Request) {
	file, err := s.docService.OpenFile(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	defer file.Body.Close()

	w.Header().Set("Content-Type", file.ContentType)
	if file.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{
		"filename": file.Document.OriginalFilename,
	}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, file.Body); err != nil {
		s.logger.Warn("file stream interrupted", "document_id", file.Document.ID, "error", err)
	}
}

// handleExtractDocument godoc
// @Summary      Extract document text
// @Description  Runs text extraction now for a pending or failed document. Parser failures are recorded on the document.
// @Tags         Documents
// @Produce      json
// @Param        id   path      string  true  "Document ID"
// @Success      200  {object}  domain.Document
// @Failure      409  {object}  ErrorResponse  "Extraction already running"
// @Failure      503  {object}  ErrorResponse  "Parser not configured"
// @Router       /documents/{id}/extract [post]
func (s *Server) handleExtractDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.docService.Extract(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// handleEvaluateDocument godoc
// @Summary      Evaluate document
// @Description  Queues the document against every active control
// @Tags         Documents
// @Produce      json
// @Param        id   path      string  true  "Document ID"
// @Success      202  {object}  scheduledResponse
// @Failure      400  {object}  ErrorResponse  "Document not extracted"
// @Router       /documents/{id}/evaluate [post]
func (s *Server) handleEvaluateDocument(w http.ResponseWriter, r *http.Request) {
	n, err := s.analysisService.ScheduleDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, scheduledResponse{Scheduled: n})
}
