package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
	"github.com/custodia-labs/tally-core/internal/core/ports/driving"
	"github.com/custodia-labs/tally-core/internal/runtime"
)

// Ensure documentService implements DocumentService
var _ driving.DocumentService = (*documentService)(nil)

// DefaultExtractionLockTTL is renewed at half-life while a document is parsed
const DefaultExtractionLockTTL = 10 * time.Minute

// DocumentServiceConfig holds the collaborators and limits of the document service
type DocumentServiceConfig struct {
	DocumentStore driven.DocumentStore
	ControlStore  driven.ControlStore
	ResponseStore driven.ResponseStore
	BlobStore     driven.BlobStore
	Normalisers   driven.NormaliserRegistry // Optional
	Services      *runtime.Services
	Dispatcher    *Dispatcher
	Limits        domain.UploadLimits

	// PublicBaseURL is used to build file URLs when the blob store cannot sign them
	PublicBaseURL string

	// UploadConcurrency bounds batch uploads
	UploadConcurrency int

	// AutoEvaluate schedules cell evaluations once extraction completes
	AutoEvaluate bool

	// Lock guards extraction of a document across instances. Optional.
	// Without it, a document processing for longer than LockTTL is
	// treated as abandoned.
	Lock    driven.DistributedLock
	LockTTL time.Duration

	Logger *slog.Logger
}

// documentService implements the DocumentService interface
type documentService struct {
	documentStore     driven.DocumentStore
	controlStore      driven.ControlStore
	responseStore     driven.ResponseStore
	blobStore         driven.BlobStore
	normalisers       driven.NormaliserRegistry
	services          *runtime.Services
	dispatcher        *Dispatcher
	limits            domain.UploadLimits
	publicBaseURL     string
	uploadConcurrency int
	autoEvaluate      bool
	lock              driven.DistributedLock
	lockTTL           time.Duration
	logger            *slog.Logger
	now               func() time.Time
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(cfg DocumentServiceConfig) driving.DocumentService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limits := cfg.Limits
	if limits.MaxFileSize <= 0 {
		limits.MaxFileSize = domain.DefaultMaxFileSize
	}
	if len(limits.AllowedFileTypes) == 0 {
		limits.AllowedFileTypes = domain.DefaultAllowedFileTypes
	}
	concurrency := cfg.UploadConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = DefaultExtractionLockTTL
	}
	return &documentService{
		documentStore:     cfg.DocumentStore,
		controlStore:      cfg.ControlStore,
		responseStore:     cfg.ResponseStore,
		blobStore:         cfg.BlobStore,
		normalisers:       cfg.Normalisers,
		services:          cfg.Services,
		dispatcher:        cfg.Dispatcher,
		limits:            limits,
		publicBaseURL:     strings.TrimRight(cfg.PublicBaseURL, "/"),
		uploadConcurrency: concurrency,
		autoEvaluate:      cfg.AutoEvaluate,
		lock:              cfg.Lock,
		lockTTL:           lockTTL,
		logger:            logger,
		now:               time.Now,
	}
}

// Upload validates and stores one file, then schedules extraction.
// Upload success never depends on extraction.
func (s *documentService) Upload(ctx context.Context, req driving.UploadRequest) (*domain.Document, error) {
	if req.ReadErr != nil {
		return nil, domain.NewValidationError("file", "%v", req.ReadErr)
	}
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		return nil, domain.NewValidationError("filename", "filename is required")
	}

	fileType := domain.NormalizeMIME(req.ContentType)
	if err := s.limits.Validate(fileType, int64(len(req.Data))); err != nil {
		return nil, err
	}

	if req.ControlID != "" {
		if _, err := s.controlStore.Get(ctx, req.ControlID); err != nil {
			if isNotFound(err) {
				return nil, domain.NewValidationError("control_id", "control %s does not exist", req.ControlID)
			}
			return nil, err
		}
	}

	storageName := domain.StorageFilename(filename)
	if err := s.blobStore.PutFile(ctx, storageName, req.Data, fileType); err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}

	now := s.now()
	doc := &domain.Document{
		ID:               domain.NewUUID(),
		Filename:         storageName,
		OriginalFilename: filename,
		FileType:         fileType,
		FileSize:         int64(len(req.Data)),
		ControlID:        req.ControlID,
		ExtractionStatus: domain.ExtractionPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	doc.FileURL = s.fileURL(ctx, doc)

	if err := s.documentStore.Save(ctx, doc); err != nil {
		if delErr := s.blobStore.DeleteFile(ctx, storageName); delErr != nil {
			s.logger.Warn("failed to remove orphaned file", "filename", storageName, "error", delErr)
		}
		return nil, fmt.Errorf("save document: %w", err)
	}

	s.logger.Info("document uploaded",
		"document_id", doc.ID,
		"filename", filename,
		"size", doc.FileSize,
	)

	s.scheduleExtraction(ctx, doc.ID)
	return doc, nil
}

// extractionAbandoned reports whether a processing document has no live run.
// Holding the extraction lease proves it; without a lock only age does.
func (s *documentService) extractionAbandoned(doc *domain.Document) bool {
	return s.lock != nil || s.now().Sub(doc.UpdatedAt) >= s.lockTTL
}

// ScheduleStalled queues extraction again for documents that have sat
// pending or processing for longer than the extraction lease
func (s *documentService) ScheduleStalled(ctx context.Context) (int, error) {
	if s.dispatcher == nil {
		return 0, nil
	}
	if !s.dispatcher.Queued() && !s.services.Config().CanExtract() {
		return 0, nil
	}
	docs, err := s.documentStore.List(ctx, "")
	if err != nil {
		return 0, err
	}

	var tasks []*domain.Task
	for _, doc := range docs {
		switch doc.ExtractionStatus {
		case domain.ExtractionPending, domain.ExtractionProcessing:
			if s.now().Sub(doc.UpdatedAt) >= s.lockTTL {
				tasks = append(tasks, domain.NewExtractDocumentTask(doc.ID))
			}
		}
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	if err := s.dispatcher.Dispatch(ctx, tasks...); err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// scheduleExtraction hands the document to the dispatcher. Failures are logged.
func (s *documentService) scheduleExtraction(ctx context.Context, documentID string) {
	if s.dispatcher == nil {
		return
	}
	if !s.dispatcher.Queued() && !s.services.Config().CanExtract() {
		s.logger.Warn("document parser not configured, extraction left pending", "document_id", documentID)
		return
	}
	if err := s.dispatcher.Dispatch(ctx, domain.NewExtractDocumentTask(documentID)); err != nil {
		s.logger.Error("failed to schedule extraction", "document_id", documentID, "error", err)
	}
}

// UploadBatch uploads every file independently with bounded concurrency.
// Results keep the input order.
func (s *documentService) UploadBatch(ctx context.Context, reqs []driving.UploadRequest) (*domain.BatchUploadResult, error) {
	if len(reqs) == 0 {
		return nil, domain.NewValidationError("files", "at least one file is required")
	}

	docs := make([]*domain.Document, len(reqs))
	errs := make([]error, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.uploadConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			docs[i], errs[i] = s.Upload(gctx, req)
			return nil
		})
	}
	_ = g.Wait()

	result := &domain.BatchUploadResult{
		Uploaded: make([]*domain.Document, 0, len(reqs)),
		Failed:   make([]domain.UploadFailure, 0),
	}
	for i, req := range reqs {
		if errs[i] != nil {
			result.Failed = append(result.Failed, domain.UploadFailure{
				Filename: req.Filename,
				Error:    errs[i].Error(),
			})
			continue
		}
		result.Uploaded = append(result.Uploaded, docs[i])
	}
	result.TotalUploaded = len(result.Uploaded)
	result.TotalFailed = len(result.Failed)

	s.logger.Info("batch upload finished",
		"uploaded", result.TotalUploaded,
		"failed", result.TotalFailed,
	)
	return result, nil
}

// Get retrieves a document by ID
func (s *documentService) Get(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := s.documentStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.FileURL = s.fileURL(ctx, doc)
	return doc, nil
}

// List retrieves documents newest first
func (s *documentService) List(ctx context.Context, controlID string) ([]*domain.Document, error) {
	return s.documentStore.List(ctx, controlID)
}

// Delete removes metadata and content first, then the blob and responses.
// Later steps are best effort once the document is gone.
func (s *documentService) Delete(ctx context.Context, id string) error {
	doc, err := s.documentStore.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.documentStore.Delete(ctx, id); err != nil {
		return err
	}

	if err := s.blobStore.DeleteFile(ctx, doc.Filename); err != nil && !isNotFound(err) {
		s.logger.Error("failed to delete document file", "document_id", id, "filename", doc.Filename, "error", err)
	}

	removed, err := s.responseStore.DeleteByDocument(ctx, id)
	if err != nil {
		s.logger.Error("failed to delete responses for document", "document_id", id, "error", err)
	}

	s.logger.Info("document deleted", "document_id", id, "responses_deleted", removed)
	return nil
}

// GetContent retrieves the extracted text of a document
func (s *documentService) GetContent(ctx context.Context, id string) (*domain.DocumentContent, error) {
	doc, err := s.documentStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doc.IsReadyForProcessing() {
		return nil, fmt.Errorf("%w: content of document %s is not extracted", domain.ErrNotFound, id)
	}
	return s.documentStore.GetContent(ctx, id)
}

// OpenFile opens the stored blob of a document
func (s *documentService) OpenFile(ctx context.Context, id string) (*driving.FileDownload, error) {
	doc, err := s.documentStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	file, err := s.blobStore.OpenFile(ctx, doc.Filename)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: file for document %s: %v", domain.ErrStorageInconsistency, id, err)
		}
		return nil, err
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = doc.FileType
	}
	return &driving.FileDownload{
		Document:    doc,
		Body:        file.ReadCloser,
		ContentType: contentType,
		Size:        file.Size,
	}, nil
}

func extractionLockName(documentID string) string {
	return "extract:" + documentID
}

// Extract runs text extraction: pending|failed -> processing -> completed|failed.
// A document left processing by an interrupted run is extracted again.
// Parser failures are recorded on the document and not returned.
func (s *documentService) Extract(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := s.documentStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.ExtractionStatus == domain.ExtractionCompleted {
		return doc, nil
	}

	parser := s.services.DocumentParser()
	if parser == nil {
		return nil, fmt.Errorf("%w: document parser not configured", domain.ErrServiceUnavailable)
	}

	if s.lock != nil {
		name := extractionLockName(id)
		held, err := acquireLease(ctx, s.lock, name, s.lockTTL, s.logger)
		if err != nil {
			return nil, fmt.Errorf("acquire extraction lock: %w", err)
		}
		if held == nil {
			return nil, fmt.Errorf("%w: extraction of document %s already running", domain.ErrConflict, id)
		}
		defer held.Release(ctx)

		// Another run may have finished between the read and the lease
		if doc, err = s.documentStore.Get(ctx, id); err != nil {
			return nil, err
		}
		if doc.ExtractionStatus == domain.ExtractionCompleted {
			return doc, nil
		}
	}

	if !doc.ExtractionStatus.CanStartExtraction() {
		if doc.ExtractionStatus != domain.ExtractionProcessing || !s.extractionAbandoned(doc) {
			return nil, fmt.Errorf("%w: extraction of document %s already running", domain.ErrConflict, id)
		}
		s.logger.Warn("restarting interrupted extraction", "document_id", id, "updated_at", doc.UpdatedAt)
	}

	doc.ExtractionStatus = domain.ExtractionProcessing
	doc.ExtractionError = ""
	doc.UpdatedAt = s.now()
	if err := s.documentStore.Save(ctx, doc); err != nil {
		return nil, err
	}

	// Refresh so the parser never sees an expired signed URL
	doc.FileURL = s.fileURL(ctx, doc)

	start := s.now()
	parsed, err := parser.Parse(ctx, doc.FileURL)
	var text string
	if err == nil {
		text = s.normalise(parsed.Text, doc.FileType)
		if strings.TrimSpace(text) == "" {
			err = errors.New("parser returned no text")
		}
	}
	if err != nil {
		extractionsTotal.WithLabelValues(string(domain.ExtractionFailed)).Inc()
		s.logger.Warn("document extraction failed", "document_id", id, "error", err)
		return s.finishExtraction(ctx, doc, domain.ExtractionFailed, err.Error())
	}

	content := &domain.DocumentContent{
		DocumentID:  doc.ID,
		Text:        text,
		Raw:         parsed.Raw,
		ExtractedAt: s.now(),
	}
	if err := s.documentStore.SaveContent(ctx, content); err != nil {
		extractionsTotal.WithLabelValues(string(domain.ExtractionFailed)).Inc()
		return s.finishExtraction(ctx, doc, domain.ExtractionFailed, "store extracted text: "+err.Error())
	}

	extractionsTotal.WithLabelValues(string(domain.ExtractionCompleted)).Inc()
	s.logger.Info("document extracted",
		"document_id", id,
		"chars", len(text),
		"duration", s.now().Sub(start),
	)

	doc, err = s.finishExtraction(ctx, doc, domain.ExtractionCompleted, "")
	if err != nil {
		return nil, err
	}

	if s.autoEvaluate && s.dispatcher != nil {
		n, err := scheduleDocumentEvaluations(ctx, s.dispatcher, s.controlStore, doc.ID)
		if err != nil {
			s.logger.Error("failed to schedule evaluations", "document_id", id, "error", err)
		} else {
			s.logger.Info("evaluations scheduled", "document_id", id, "count", n)
		}
	}
	return doc, nil
}

// normalise cleans parsed text with the normaliser registered for the file type
func (s *documentService) normalise(text, fileType string) string {
	if s.normalisers == nil {
		return text
	}
	if n := s.normalisers.Get(fileType); n != nil {
		return n.Normalise(text, fileType)
	}
	return text
}

func (s *documentService) finishExtraction(ctx context.Context, doc *domain.Document, status domain.ExtractionStatus, message string) (*domain.Document, error) {
	doc.ExtractionStatus = status
	doc.ExtractionError = message
	doc.UpdatedAt = s.now()
	if err := s.documentStore.Save(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// fileURL returns a signed URL when the blob store supports one, otherwise
// the API download route.
func (s *documentService) fileURL(ctx context.Context, doc *domain.Document) string {
	url, err := s.blobStore.SignedURL(ctx, doc.Filename)
	if err != nil {
		s.logger.Warn("failed to sign file URL", "document_id", doc.ID, "error", err)
	}
	if url != "" {
		return url
	}
	return s.publicBaseURL + "/api/v1/documents/" + doc.ID + "/file"
}
