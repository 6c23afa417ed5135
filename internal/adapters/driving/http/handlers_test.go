package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/custodia-labs/tally-core/internal/adapters/driven/objectstore"
	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/tally-core/internal/core/ports/driving"
	"github.com/custodia-labs/tally-core/internal/core/services"
	"github.com/custodia-labs/tally-core/internal/runtime"
)

// nopFactory never builds clients; settings tests only disable them
type nopFactory struct{}

func (nopFactory) CreateLLMService(*domain.LLMSettings) (driven.LLMService, error) {
	return nil, errors.New("not supported in tests")
}

func (nopFactory) CreateDocumentParser(*domain.ParserSettings) (driven.DocumentParser, error) {
	return nil, errors.New("not supported in tests")
}

// testServer wires real services over in-memory collaborators
type testServer struct {
	server    *Server
	handler   http.Handler
	objects   *mocks.MockObjectStore
	queue     *mocks.MockTaskQueue
	llm       *mocks.MockLLMService
	runtime   *runtime.Services
	controls  *objectstore.ControlStore
	documents *objectstore.DocumentStore
	responses *objectstore.ResponseStore
}

func newTestServer(t *testing.T, maxUpload int64) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	objects := mocks.NewMockObjectStore()
	cfg := objectstore.Config{Logger: logger}
	controls := objectstore.NewControlStore(objects, cfg)
	documents := objectstore.NewDocumentStore(objects, cfg)
	responses := objectstore.NewResponseStore(objects, cfg)
	files := objectstore.NewFileStore(objects, time.Hour)

	queue := mocks.NewMockTaskQueue()
	llm := mocks.NewMockLLMService("The policy clearly states quarterly reviews.")
	rt := runtime.NewServices(domain.NewRuntimeConfig("memory"))
	rt.SetLLMService(llm)
	rt.SetDocumentParser(mocks.NewMockDocumentParser("Quarterly access reviews."))

	dispatcher := services.NewDispatcher(services.DispatcherConfig{Queue: queue, Logger: logger})

	limits := domain.DefaultUploadLimits()
	if maxUpload > 0 {
		limits.MaxFileSize = maxUpload
	}

	srvCfg := DefaultConfig()
	srvCfg.Version = "test"
	srvCfg.Logger = logger
	srvCfg.MaxUploadSize = limits.MaxFileSize

	server := NewServer(srvCfg,
		services.NewControlService(controls, responses, logger),
		services.NewDocumentService(services.DocumentServiceConfig{
			DocumentStore: documents,
			ControlStore:  controls,
			ResponseStore: responses,
			BlobStore:     files,
			Services:      rt,
			Dispatcher:    dispatcher,
			Limits:        limits,
			PublicBaseURL: "http://tally.test",
			Logger:        logger,
		}),
		services.NewTabularService(controls, documents, responses, logger),
		services.NewAnalysisService(services.AnalysisServiceConfig{
			ControlStore:  controls,
			DocumentStore: documents,
			ResponseStore: responses,
			Services:      rt,
			Dispatcher:    dispatcher,
			Logger:        logger,
		}),
		services.NewSettingsService(nopFactory{}, rt,
			domain.DefaultLLMSettings("sk-test"),
			domain.ParserSettings{Provider: domain.ParserProviderReducto, APIKey: "r-test"},
			logger),
		queue,
		objects,
		nil,
	)

	return &testServer{
		server:    server,
		handler:   server.Handler(),
		objects:   objects,
		queue:     queue,
		llm:       llm,
		runtime:   rt,
		controls:  controls,
		documents: documents,
		responses: responses,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v (body %q)", err, rr.Body.String())
	}
	return v
}

func (ts *testServer) createControl(t *testing.T, title, prompt string) map[string]any {
	t.Helper()
	rr := ts.do(t, "POST", "/api/v1/controls", domain.CreateControlRequest{Title: title, Prompt: prompt})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create control: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	return decode[map[string]any](t, rr)
}

// seedExtracted stores an extracted document directly
func (ts *testServer) seedExtracted(t *testing.T, name string) *domain.Document {
	t.Helper()
	now := time.Now().UTC()
	doc := &domain.Document{
		ID:               domain.NewUUID(),
		Filename:         domain.StorageFilename(name),
		OriginalFilename: name,
		FileType:         "application/pdf",
		FileSize:         10,
		ExtractionStatus: domain.ExtractionCompleted,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	ctx := context.Background()
	if err := ts.documents.Save(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if err := ts.documents.SaveContent(ctx, &domain.DocumentContent{DocumentID: doc.ID, Text: "text of " + name}); err != nil {
		t.Fatal(err)
	}
	return doc
}

type multipartFile struct {
	field       string
	name        string
	contentType string
	data        []byte
}

func multipartRequest(t *testing.T, path string, files []multipartFile, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.name))
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(f.data); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealthHandler(t *testing.T) {
	ts := newTestServer(t, 0)

	rr := ts.do(t, "GET", "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	response := decode[HealthResponse](t, rr)
	if response.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %s", response.Status)
	}
	for _, name := range []string{"server", "storage", "queue", "llm", "parser"} {
		if response.Components[name].Status != "healthy" {
			t.Errorf("expected %s to be healthy, got %+v", name, response.Components[name])
		}
	}
	if response.Queue == nil {
		t.Error("expected queue stats")
	}
}

func TestHealthHandler_Degraded(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.objects.PingErr = errors.New("minio unreachable")
	ts.runtime.SetDocumentParser(nil)

	rr := ts.do(t, "GET", "/health", nil)

	// Always returns 200 - service is up and can respond
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	response := decode[HealthResponse](t, rr)
	if response.Status != "degraded" {
		t.Errorf("expected status 'degraded', got %s", response.Status)
	}
	if response.Components["storage"].Status != "unhealthy" {
		t.Errorf("expected storage component to be unhealthy")
	}
	if response.Components["parser"].Status != "unconfigured" {
		t.Errorf("expected parser to be unconfigured, got %s", response.Components["parser"].Status)
	}
}

func TestReadyHandler(t *testing.T) {
	ts := newTestServer(t, 0)

	if rr := ts.do(t, "GET", "/ready", nil); rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	ts.objects.PingErr = errors.New("down")
	rr := ts.do(t, "GET", "/ready", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
	if body := decode[ErrorResponse](t, rr); body.ErrorCode != "SERVICE_UNAVAILABLE" {
		t.Errorf("expected SERVICE_UNAVAILABLE, got %s", body.ErrorCode)
	}
}

func TestVersionHandler(t *testing.T) {
	ts := newTestServer(t, 0)

	rr := ts.do(t, "GET", "/version", nil)
	response := decode[map[string]string](t, rr)
	if response["version"] != "test" {
		t.Errorf("expected version 'test', got %s", response["version"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.do(t, "GET", "/api/v1/controls", nil)

	rr := ts.do(t, "GET", "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `tally_http_requests_total{method="GET",route="GET /api/v1/controls",status="200"}`) {
		t.Error("expected request counter labelled by route pattern")
	}
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()

	writeJSON(rr, http.StatusCreated, map[string]string{"foo": "bar"})

	if rr.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rr.Code)
	}
	if rr.Header().Get("Content-Type") != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", rr.Header().Get("Content-Type"))
	}
}

func TestWriteDomainError(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantField  string
	}{
		{"validation", domain.NewValidationError("title", "title is required"), 400, "VALIDATION_ERROR", "title"},
		{"too large", &domain.ValidationError{Field: "file_size", Message: "too big", Code: domain.ValidationCodeFileTooLarge}, 413, "FILE_TOO_LARGE", "file_size"},
		{"media", &domain.ValidationError{Field: "file_type", Message: "nope", Code: domain.ValidationCodeUnsupportedMedia}, 415, "UNSUPPORTED_MEDIA_TYPE", "file_type"},
		{"not found", fmt.Errorf("control x: %w", domain.ErrNotFound), 404, "NOT_FOUND", ""},
		{"transition", &domain.TransitionError{From: domain.StatusCompleted, To: domain.StatusProcessing}, 409, "INVALID_TRANSITION", ""},
		{"conflict", fmt.Errorf("%w: locked", domain.ErrConflict), 409, "CONFLICT", ""},
		{"unavailable", domain.ErrServiceUnavailable, 503, "SERVICE_UNAVAILABLE", ""},
		{"body too large", &http.MaxBytesError{Limit: 10}, 413, "FILE_TOO_LARGE", ""},
		{"other", errors.New("disk on fire"), 500, "INTERNAL_ERROR", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			s.writeDomainError(rr, tt.err)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			body := decode[ErrorResponse](t, rr)
			if body.ErrorCode != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, body.ErrorCode)
			}
			if body.Timestamp.IsZero() {
				t.Error("expected timestamp")
			}
			if tt.wantField != "" {
				if _, ok := body.Fields[tt.wantField]; !ok {
					t.Errorf("expected field %s in %v", tt.wantField, body.Fields)
				}
			}
			if tt.name == "other" && strings.Contains(body.Detail, "disk") {
				t.Error("internal errors must not leak details")
			}
		})
	}
}

func TestControlEndpoints(t *testing.T) {
	ts := newTestServer(t, 0)

	created := ts.createControl(t, "Access Reviews", "Are access reviews performed quarterly")
	id := created["id"].(string)
	if created["prompt"] != "Are access reviews performed quarterly?" {
		t.Errorf("expected normalized prompt, got %v", created["prompt"])
	}
	if created["status_display"] != "Active" || created["is_question_format"] != true {
		t.Errorf("expected derived fields, got %v", created)
	}

	rr := ts.do(t, "GET", "/api/v1/controls/"+id, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}

	title := "Quarterly Access Reviews"
	rr = ts.do(t, "PUT", "/api/v1/controls/"+id, domain.UpdateControlRequest{Title: &title})
	if rr.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decode[domain.Control](t, rr); got.Title != title {
		t.Errorf("expected updated title, got %s", got.Title)
	}

	rr = ts.do(t, "PATCH", "/api/v1/controls/"+id, domain.UpdateControlRequest{})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty update: expected 400, got %d", rr.Code)
	}

	rr = ts.do(t, "POST", "/api/v1/controls/"+id+"/duplicate", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("duplicate: expected 201, got %d", rr.Code)
	}
	if dup := decode[domain.Control](t, rr); dup.Title != title+" (Copy)" {
		t.Errorf("expected copy title, got %s", dup.Title)
	}

	rr = ts.do(t, "POST", "/api/v1/controls/"+id+"/deactivate", nil)
	if got := decode[domain.Control](t, rr); got.IsActive {
		t.Error("expected control to be inactive")
	}

	list := decode[[]domain.Control](t, ts.do(t, "GET", "/api/v1/controls", nil))
	if len(list) != 1 {
		t.Errorf("expected 1 active control, got %d", len(list))
	}
	list = decode[[]domain.Control](t, ts.do(t, "GET", "/api/v1/controls?include_inactive=true", nil))
	if len(list) != 2 {
		t.Errorf("expected 2 controls, got %d", len(list))
	}

	found := decode[[]domain.Control](t, ts.do(t, "GET", "/api/v1/controls/search?q=COPY", nil))
	if len(found) != 1 {
		t.Errorf("expected 1 search hit, got %d", len(found))
	}
	if rr := ts.do(t, "GET", "/api/v1/controls/search", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("search without q: expected 400, got %d", rr.Code)
	}

	rr = ts.do(t, "DELETE", "/api/v1/controls/"+id, nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rr.Code)
	}
	rr = ts.do(t, "GET", "/api/v1/controls/"+id, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("get deleted: expected 404, got %d", rr.Code)
	}
	if body := decode[ErrorResponse](t, rr); body.ErrorCode != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %s", body.ErrorCode)
	}
}

func TestCreateControl_Invalid(t *testing.T) {
	ts := newTestServer(t, 0)

	rr := ts.do(t, "POST", "/api/v1/controls", domain.CreateControlRequest{Title: "Same", Prompt: "same"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	body := decode[ErrorResponse](t, rr)
	if body.ErrorCode != "VALIDATION_ERROR" || body.Fields["prompt"] == "" {
		t.Errorf("expected prompt validation error, got %+v", body)
	}

	req := httptest.NewRequest("POST", "/api/v1/controls", strings.NewReader("{not json"))
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid json: expected 400, got %d", rr.Code)
	}
}

func TestUploadDocument(t *testing.T) {
	ts := newTestServer(t, 0)
	control := ts.createControl(t, "Encryption", "Is data encrypted at rest?")

	req := multipartRequest(t, "/api/v1/documents/upload",
		[]multipartFile{{field: "file", name: "Policy.PDF", contentType: "application/pdf", data: []byte("%PDF-1.4")}},
		map[string]string{"control_id": control["id"].(string)})
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	doc := decode[map[string]any](t, rr)
	if doc["original_filename"] != "Policy.PDF" || doc["file_extension"] != "pdf" {
		t.Errorf("unexpected document %v", doc)
	}
	if doc["extraction_status"] != "pending" {
		t.Errorf("expected pending extraction, got %v", doc["extraction_status"])
	}
	if !strings.HasPrefix(doc["file_url"].(string), "http://tally.test/api/v1/documents/") {
		t.Errorf("expected public file url, got %v", doc["file_url"])
	}

	pending := ts.queue.Pending()
	if len(pending) != 1 || pending[0].Type != domain.TaskTypeExtractDocument {
		t.Errorf("expected one extraction task, got %v", pending)
	}

	// The file URL streams the blob back
	rr = ts.do(t, "GET", "/api/v1/documents/"+doc["id"].(string)+"/file", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("file: expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "%PDF-1.4" {
		t.Errorf("unexpected file body %q", rr.Body.String())
	}
	if rr.Header().Get("Content-Type") != "application/pdf" {
		t.Errorf("unexpected content type %s", rr.Header().Get("Content-Type"))
	}
}

func TestUploadDocument_Rejected(t *testing.T) {
	tests := []struct {
		name       string
		file       multipartFile
		maxUpload  int64
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unsupported type",
			file:       multipartFile{field: "file", name: "x.exe", contentType: "application/x-msdownload", data: []byte("MZ")},
			wantStatus: http.StatusUnsupportedMediaType,
			wantCode:   "UNSUPPORTED_MEDIA_TYPE",
		},
		{
			name:       "over the service limit",
			file:       multipartFile{field: "file", name: "big.txt", contentType: "text/plain", data: bytes.Repeat([]byte("a"), 2048)},
			maxUpload:  1024,
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "FILE_TOO_LARGE",
		},
		{
			name:       "empty file",
			file:       multipartFile{field: "file", name: "empty.txt", contentType: "text/plain"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "wrong field",
			file:       multipartFile{field: "document", name: "a.txt", contentType: "text/plain", data: []byte("a")},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.maxUpload)
			rr := httptest.NewRecorder()
			ts.handler.ServeHTTP(rr, multipartRequest(t, "/api/v1/documents/upload", []multipartFile{tt.file}, nil))

			if rr.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			if body := decode[ErrorResponse](t, rr); body.ErrorCode != tt.wantCode {
				t.Errorf("expected %s, got %s", tt.wantCode, body.ErrorCode)
			}
			if n := ts.objects.Count("documents"); n != 0 {
				t.Errorf("expected no stored documents, got %d objects", n)
			}
		})
	}
}

func TestUploadBatch_PartialFailure(t *testing.T) {
	ts := newTestServer(t, 1024)

	req := multipartRequest(t, "/api/v1/documents/upload/batch", []multipartFile{
		{field: "files", name: "a.pdf", contentType: "application/pdf", data: []byte("a")},
		{field: "files", name: "b.txt", contentType: "text/plain", data: bytes.Repeat([]byte("b"), 4096)},
		{field: "files", name: "c.pdf", data: []byte("%PDF")},
	}, nil)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	result := decode[domain.BatchUploadResult](t, rr)
	if result.TotalUploaded != 2 || result.TotalFailed != 1 {
		t.Fatalf("expected 2 uploaded and 1 failed, got %+v", result)
	}
	if result.Failed[0].Filename != "b.txt" {
		t.Errorf("expected b.txt to fail, got %s", result.Failed[0].Filename)
	}
	if result.Uploaded[1].FileType != "application/pdf" {
		t.Errorf("expected type from extension, got %s", result.Uploaded[1].FileType)
	}
}

func TestReadUploads_UnreadablePartIsKept(t *testing.T) {
	req := multipartRequest(t, "/api/v1/documents/upload/batch", []multipartFile{
		{field: "files", name: "a.pdf", contentType: "application/pdf", data: []byte("a")},
	}, nil)
	if err := req.ParseMultipartForm(1 << 20); err != nil {
		t.Fatalf("parse form: %v", err)
	}
	// No content and no temp file behind it, so Open fails
	torn := &multipart.FileHeader{Filename: "torn.pdf"}
	headers := []*multipart.FileHeader{torn, req.MultipartForm.File["files"][0]}

	reqs := readUploads(headers, "")
	if len(reqs) != 2 {
		t.Fatalf("expected one request per part, got %d", len(reqs))
	}
	if reqs[0].Filename != "torn.pdf" || reqs[0].ReadErr == nil {
		t.Errorf("expected torn.pdf to carry its read error, got %+v", reqs[0])
	}
	if reqs[1].ReadErr != nil || string(reqs[1].Data) != "a" {
		t.Errorf("expected a.pdf to be read, got %+v", reqs[1])
	}

	ts := newTestServer(t, 1024)
	result, err := ts.server.docService.UploadBatch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("batch upload: %v", err)
	}
	if result.TotalUploaded != 1 || result.TotalFailed != 1 || result.Failed[0].Filename != "torn.pdf" {
		t.Errorf("expected a.pdf uploaded and torn.pdf failed, got %+v", result)
	}
}

func TestDocumentEndpoints(t *testing.T) {
	ts := newTestServer(t, 0)
	doc := ts.seedExtracted(t, "policy.pdf")

	list := decode[[]domain.Document](t, ts.do(t, "GET", "/api/v1/documents", nil))
	if len(list) != 1 || list[0].ID != doc.ID {
		t.Fatalf("expected the seeded document, got %v", list)
	}

	content := decode[domain.DocumentContent](t, ts.do(t, "GET", "/api/v1/documents/"+doc.ID+"/content", nil))
	if content.Text != "text of policy.pdf" {
		t.Errorf("unexpected content %q", content.Text)
	}

	rr := ts.do(t, "POST", "/api/v1/documents/"+doc.ID+"/extract", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("extract of completed document: expected 200, got %d", rr.Code)
	}

	ts.createControl(t, "MFA", "Is MFA enforced?")
	rr = ts.do(t, "POST", "/api/v1/documents/"+doc.ID+"/evaluate", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("evaluate: expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decode[scheduledResponse](t, rr); got.Scheduled != 1 {
		t.Errorf("expected 1 scheduled, got %d", got.Scheduled)
	}

	rr = ts.do(t, "DELETE", "/api/v1/documents/"+doc.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rr.Code)
	}
	if rr := ts.do(t, "GET", "/api/v1/documents/"+doc.ID, nil); rr.Code != http.StatusNotFound {
		t.Errorf("get deleted: expected 404, got %d", rr.Code)
	}
}

func TestTabularEndpoints(t *testing.T) {
	ts := newTestServer(t, 0)

	view := decode[map[string]any](t, ts.do(t, "GET", "/api/v1/tabular/view", nil))
	if view["overall_completion_percentage"] != 100.0 {
		t.Errorf("expected empty grid at 100.0, got %v", view["overall_completion_percentage"])
	}

	c := ts.createControl(t, "Backups", "Are backups tested?")
	doc := ts.seedExtracted(t, "dr.pdf")
	key := domain.ResponseKey{DocumentID: doc.ID, ControlID: c["id"].(string)}
	resp := domain.NewAIResponse(key, time.Now())
	resp.Status = domain.StatusProcessing
	if err := ts.responses.Save(context.Background(), resp); err != nil {
		t.Fatal(err)
	}

	got := decode[domain.TabularView](t, ts.do(t, "GET", "/api/v1/tabular/view", nil))
	if got.TotalCells != 1 || got.ProcessingCount != 1 {
		t.Errorf("expected 1 processing cell, got %+v", got)
	}
	if len(got.Rows) != 1 || got.Rows[0].Cells[0].Status != domain.StatusProcessing {
		t.Errorf("unexpected rows %+v", got.Rows)
	}

	summary := decode[domain.ProcessingSummary](t, ts.do(t, "GET", "/api/v1/tabular/status", nil))
	if summary.CurrentlyProcessing != 1 || summary.StatusBreakdown[domain.StatusProcessing] != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestAnalysisEndpoints(t *testing.T) {
	ts := newTestServer(t, 0)

	rr := ts.do(t, "POST", "/api/v1/ai/analyze", domain.AnalyzeRequest{DocumentContent: "We rotate keys.", ControlPrompt: "Are keys rotated?"})
	if rr.Code != http.StatusOK {
		t.Fatalf("analyze: expected 200, got %d", rr.Code)
	}
	if result := decode[domain.AnalysisResult](t, rr); result.Status != domain.StatusCompleted || result.ConfidenceScore != 0.55 {
		t.Errorf("unexpected result %+v", result)
	}

	rr = ts.do(t, "POST", "/api/v1/ai/analyze/batch", analyzeBatchRequest{Requests: []domain.AnalyzeRequest{
		{DocumentContent: "a", ControlPrompt: "b"},
		{DocumentContent: "", ControlPrompt: "b"},
	}})
	batch := decode[analyzeBatchResponse](t, rr)
	if len(batch.Results) != 2 || batch.Results[1].Status != domain.StatusFailed {
		t.Errorf("unexpected batch %+v", batch)
	}

	c := ts.createControl(t, "Keys", "Are keys rotated?")
	doc := ts.seedExtracted(t, "crypto.pdf")

	rr = ts.do(t, "POST", "/api/v1/ai/evaluate", evaluateRequest{DocumentID: doc.ID, ControlID: c["id"].(string)})
	if rr.Code != http.StatusOK {
		t.Fatalf("evaluate: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	stored := decode[map[string]any](t, rr)
	if stored["status"] != "completed" || stored["is_processing_complete"] != true {
		t.Errorf("unexpected response %v", stored)
	}

	responses := decode[[]domain.AIResponse](t, ts.do(t, "GET", "/api/v1/ai/responses?status=completed", nil))
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}
	if rr := ts.do(t, "GET", "/api/v1/ai/responses/"+responses[0].ID, nil); rr.Code != http.StatusOK {
		t.Errorf("get response: expected 200, got %d", rr.Code)
	}
	if rr := ts.do(t, "GET", "/api/v1/ai/responses?status=bogus", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("bad status filter: expected 400, got %d", rr.Code)
	}

	rr = ts.do(t, "POST", "/api/v1/ai/regenerate", domain.RegenerateRequest{AIResponseID: responses[0].ID})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("regenerate: expected 202, got %d", rr.Code)
	}
	if got := decode[domain.RegenerateResult](t, rr); got.Scope != domain.RegenerateScopeResponse || got.Scheduled != 1 {
		t.Errorf("unexpected regenerate result %+v", got)
	}

	rr = ts.do(t, "POST", "/api/v1/ai/regenerate", domain.RegenerateRequest{ControlID: "a", DocumentID: "b"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("two scopes: expected 400, got %d", rr.Code)
	}

	ts.seedExtracted(t, "second.pdf")
	rr = ts.do(t, "POST", "/api/v1/ai/evaluate/pending", nil)
	if got := decode[scheduledResponse](t, rr); rr.Code != http.StatusAccepted || got.Scheduled != 1 {
		t.Errorf("pending: expected 1 scheduled, got %d (%d)", got.Scheduled, rr.Code)
	}
}

func TestAnalysisEndpoints_NoLanguageModel(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.runtime.SetLLMService(nil)

	rr := ts.do(t, "POST", "/api/v1/ai/analyze", domain.AnalyzeRequest{DocumentContent: "a", ControlPrompt: "b"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	ts := newTestServer(t, 0)

	status := decode[driving.AISettingsStatus](t, ts.do(t, "GET", "/api/v1/settings/ai/status", nil))
	if !status.LLM.Available || status.LLM.Model != "mock-llm-model" {
		t.Errorf("unexpected status %+v", status)
	}

	if rr := ts.do(t, "POST", "/api/v1/settings/ai/test", nil); rr.Code != http.StatusOK {
		t.Errorf("test connection: expected 200, got %d", rr.Code)
	}
	ts.llm.PingErr = errors.New("401")
	if rr := ts.do(t, "POST", "/api/v1/settings/ai/test", nil); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("failing ping: expected 503, got %d", rr.Code)
	}

	rr := ts.do(t, "PUT", "/api/v1/settings/ai", driving.UpdateAISettingsRequest{LLM: &driving.LLMSettingsInput{}})
	if rr.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", rr.Code)
	}
	if ts.runtime.LLMService() != nil {
		t.Error("expected language model to be disabled")
	}

	rr = ts.do(t, "PUT", "/api/v1/settings/ai", driving.UpdateAISettingsRequest{})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty update: expected 400, got %d", rr.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, 0)
	if rr := ts.do(t, "GET", "/api/v1/nope", nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}
