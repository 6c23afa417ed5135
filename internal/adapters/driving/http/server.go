package http

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
	"github.com/custodia-labs/tally-core/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger

	// maxUploadSize bounds a single file; request bodies get some slack for multipart framing
	maxUploadSize int64

	// Services
	controlService  driving.ControlService
	docService      driving.DocumentService
	tabularService  driving.TabularService
	analysisService driving.AnalysisService
	settingsService driving.SettingsService

	// Infrastructure
	taskQueue   driven.TaskQueue // optional
	storage     Pinger           // object store health check
	redisClient Pinger           // Redis health check (optional)
}

// Config holds server configuration
type Config struct {
	Host          string
	Port          int
	Version       string
	MaxUploadSize int64
	CORSOrigins   []string
	Logger        *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:          "0.0.0.0",
		Port:          8000,
		Version:       "dev",
		MaxUploadSize: domain.DefaultMaxFileSize,
		CORSOrigins:   []string{"*"},
	}
}

// NewServer creates a new HTTP server
func NewServer(
	cfg Config,
	controlService driving.ControlService,
	docService driving.DocumentService,
	tabularService driving.TabularService,
	analysisService driving.AnalysisService,
	settingsService driving.SettingsService,
	taskQueue driven.TaskQueue, // can be nil
	storage Pinger,
	redisClient Pinger, // can be nil
) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := cfg.MaxUploadSize
	if maxUpload <= 0 {
		maxUpload = domain.DefaultMaxFileSize
	}

	s := &Server{
		router:          http.NewServeMux(),
		version:         cfg.Version,
		logger:          logger,
		maxUploadSize:   maxUpload,
		controlService:  controlService,
		docService:      docService,
		tabularService:  tabularService,
		analysisService: analysisService,
		settingsService: settingsService,
		taskQueue:       taskQueue,
		storage:         storage,
		redisClient:     redisClient,
	}

	s.setupRoutes()

	var handler http.Handler = s.router
	handler = NewCORSMiddleware(cfg.CORSOrigins).Handler(handler)
	handler = NewMetricsMiddleware().Handler(handler)
	handler = NewLoggingMiddleware(logger).Handler(handler)
	handler = NewRecoveryMiddleware(logger).Handler(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 180 * time.Second, // synchronous evaluations wait on the language model
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health endpoints
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)
	s.router.Handle("GET /metrics", promhttp.Handler())

	// Controls
	s.router.HandleFunc("GET /api/v1/controls", s.handleListControls)
	s.router.HandleFunc("POST /api/v1/controls", s.handleCreateControl)
	s.router.HandleFunc("GET /api/v1/controls/search", s.handleSearchControls)
	s.router.HandleFunc("GET /api/v1/controls/{id}", s.handleGetControl)
	s.router.HandleFunc("PUT /api/v1/controls/{id}", s.handleUpdateControl)
	s.router.HandleFunc("PATCH /api/v1/controls/{id}", s.handleUpdateControl)
	s.router.HandleFunc("DELETE /api/v1/controls/{id}", s.handleDeleteControl)
	s.router.HandleFunc("POST /api/v1/controls/{id}/duplicate", s.handleDuplicateControl)
	s.router.HandleFunc("POST /api/v1/controls/{id}/activate", s.handleSetControlActive(true))
	s.router.HandleFunc("POST /api/v1/controls/{id}/deactivate", s.handleSetControlActive(false))

	// Documents
	s.router.HandleFunc("GET /api/v1/documents", s.handleListDocuments)
	s.router.HandleFunc("POST /api/v1/documents/upload", s.handleUploadDocument)
	s.router.HandleFunc("POST /api/v1/documents/upload/batch", s.handleUploadBatch)
	s.router.HandleFunc("GET /api/v1/documents/{id}", s.handleGetDocument)
	s.router.HandleFunc("DELETE /api/v1/documents/{id}", s.handleDeleteDocument)
	s.router.HandleFunc("GET /api/v1/documents/{id}/content", s.handleGetDocumentContent)
	s.router.HandleFunc("GET /api/v1/documents/{id}/file", s.handleGetDocumentFile)
	s.router.HandleFunc("POST /api/v1/documents/{id}/extract", s.handleExtractDocument)
	s.router.HandleFunc("POST /api/v1/documents/{id}/evaluate", s.handleEvaluateDocument)

	// Grid
	s.router.HandleFunc("GET /api/v1/tabular/view", s.handleTabularView)
	s.router.HandleFunc("GET /api/v1/tabular/status", s.handleProcessingStatus)

	// AI
	s.router.HandleFunc("POST /api/v1/ai/analyze", s.handleAnalyze)
	s.router.HandleFunc("POST /api/v1/ai/analyze/batch", s.handleAnalyzeBatch)
	s.router.HandleFunc("POST /api/v1/ai/evaluate", s.handleEvaluateCell)
	s.router.HandleFunc("POST /api/v1/ai/evaluate/pending", s.handleEvaluatePending)
	s.router.HandleFunc("POST /api/v1/ai/regenerate", s.handleRegenerate)
	s.router.HandleFunc("GET /api/v1/ai/responses", s.handleListResponses)
	s.router.HandleFunc("GET /api/v1/ai/responses/{id}", s.handleGetResponse)

	// AI settings
	s.router.HandleFunc("GET /api/v1/settings/ai/status", s.handleGetAIStatus)
	s.router.HandleFunc("PUT /api/v1/settings/ai", s.handleUpdateAISettings)
	s.router.HandleFunc("POST /api/v1/settings/ai/test", s.handleTestAIConnection)
}

// Start starts the HTTP server with graceful shutdown
func (s *Server) Start() error {
	// Channel to listen for OS signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
