package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/tally-core/internal/adapters/driven/objectstore"
	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/tally-core/internal/runtime"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

// testEnv wires the services over real repositories backed by an in-memory object store
type testEnv struct {
	objects   *mocks.MockObjectStore
	controls  *objectstore.ControlStore
	documents *objectstore.DocumentStore
	responses *objectstore.ResponseStore
	files     *objectstore.FileStore
	queue     *mocks.MockTaskQueue
	lock      *mocks.MockDistributedLock
	llm       *mocks.MockLLMService
	parser    *mocks.MockDocumentParser
	runtime   *runtime.Services
	logger    *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	objects := mocks.NewMockObjectStore()
	cfg := objectstore.Config{Logger: logger}

	env := &testEnv{
		objects:   objects,
		controls:  objectstore.NewControlStore(objects, cfg),
		documents: objectstore.NewDocumentStore(objects, cfg),
		responses: objectstore.NewResponseStore(objects, cfg),
		files:     objectstore.NewFileStore(objects, time.Hour),
		queue:     mocks.NewMockTaskQueue(),
		lock:      mocks.NewMockDistributedLock(),
		llm:       mocks.NewMockLLMService("The policy clearly states that access is reviewed quarterly."),
		parser:    mocks.NewMockDocumentParser("Access reviews are performed every quarter."),
		runtime:   runtime.NewServices(domain.NewRuntimeConfig("memory")),
		logger:    logger,
	}
	env.runtime.SetLLMService(env.llm)
	env.runtime.SetDocumentParser(env.parser)
	return env
}

func (e *testEnv) queuedDispatcher() *Dispatcher {
	return NewDispatcher(DispatcherConfig{Queue: e.queue, Logger: e.logger})
}

func (e *testEnv) controlService() *controlService {
	return NewControlService(e.controls, e.responses, e.logger).(*controlService)
}

func (e *testEnv) documentService(d *Dispatcher) *documentService {
	return NewDocumentService(DocumentServiceConfig{
		DocumentStore: e.documents,
		ControlStore:  e.controls,
		ResponseStore: e.responses,
		BlobStore:     e.files,
		Services:      e.runtime,
		Dispatcher:    d,
		PublicBaseURL: "http://tally.test",
		Lock:          e.lock,
		Logger:        e.logger,
	}).(*documentService)
}

func (e *testEnv) analysisService(d *Dispatcher) *analysisService {
	return NewAnalysisService(AnalysisServiceConfig{
		ControlStore:     e.controls,
		DocumentStore:    e.documents,
		ResponseStore:    e.responses,
		Services:         e.runtime,
		Dispatcher:       d,
		Lock:             e.lock,
		ContentCacheSize: 16,
		Logger:           e.logger,
	}).(*analysisService)
}

func (e *testEnv) tabularService() *tabularService {
	return NewTabularService(e.controls, e.documents, e.responses, e.logger).(*tabularService)
}

// seedControl stores an active control created at the given offset from a fixed base time
func (e *testEnv) seedControl(t *testing.T, title string, offset time.Duration) *domain.Control {
	t.Helper()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c, err := domain.NewControl(domain.CreateControlRequest{
		Title:  title,
		Prompt: "Does the document address " + title,
	}, base.Add(offset))
	require.NoError(t, err)
	require.NoError(t, e.controls.Save(context.Background(), c))
	return c
}

// seedDocument stores an extracted document with content
func (e *testEnv) seedDocument(t *testing.T, name string, offset time.Duration) *domain.Document {
	t.Helper()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := &domain.Document{
		ID:               domain.NewUUID(),
		Filename:         domain.StorageFilename(name),
		OriginalFilename: name,
		FileType:         "application/pdf",
		FileSize:         1024,
		ExtractionStatus: domain.ExtractionCompleted,
		CreatedAt:        base.Add(offset),
		UpdatedAt:        base.Add(offset),
	}
	ctx := context.Background()
	require.NoError(t, e.documents.Save(ctx, doc))
	require.NoError(t, e.documents.SaveContent(ctx, &domain.DocumentContent{
		DocumentID:  doc.ID,
		Text:        "Text of " + name,
		ExtractedAt: base,
	}))
	return doc
}

// seedResponse stores a response for a pair with the given status
func (e *testEnv) seedResponse(t *testing.T, doc *domain.Document, control *domain.Control, status domain.ProcessingStatus) *domain.AIResponse {
	t.Helper()
	resp := domain.NewAIResponse(domain.ResponseKey{DocumentID: doc.ID, ControlID: control.ID}, time.Now())
	resp.Status = status
	if status == domain.StatusCompleted {
		resp.ResponseText = "done"
	}
	require.NoError(t, e.responses.Save(context.Background(), resp))
	return resp
}
