package main

// @title           Tally Core API
// @version         1.0
// @description     Compliance grid API. Evaluates uploaded documents against compliance controls with a language model.

// @host      localhost:8000
// @BasePath  /api/v1
// @schemes   http https

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/tally-core/internal/adapters/driven/ai"
	"github.com/custodia-labs/tally-core/internal/adapters/driven/minio"
	"github.com/custodia-labs/tally-core/internal/adapters/driven/objectstore"
	"github.com/custodia-labs/tally-core/internal/adapters/driven/postgres"
	postgresqueue "github.com/custodia-labs/tally-core/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/custodia-labs/tally-core/internal/adapters/driven/queue/redis"
	redisadapter "github.com/custodia-labs/tally-core/internal/adapters/driven/redis"
	"github.com/custodia-labs/tally-core/internal/adapters/driving/http"
	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
	"github.com/custodia-labs/tally-core/internal/core/services"
	"github.com/custodia-labs/tally-core/internal/normalisers"
	"github.com/custodia-labs/tally-core/internal/runtime"
	"github.com/custodia-labs/tally-core/internal/worker"
)

var version = "dev"

func main() {
	// Get run mode from environment (RUN_MODE) or command line arg
	mode := getEnv("RUN_MODE", "all")
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}
	switch mode {
	case "api", "worker", "all":
	default:
		log.Fatalf("Unknown mode: %s (use: api, worker, or all)", mode)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(getEnv("LOG_LEVEL", "info"))}))
	slog.SetDefault(logger)

	log.Printf("tally-core %s starting in %s mode", version, mode)

	// Configuration from environment
	port := getEnvInt("PORT", 8000)
	storageBackend := getEnv("STORAGE_BACKEND", "minio")
	databaseURL := getEnv("DATABASE_URL", "")
	redisURL := getEnv("REDIS_URL", "")

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutdown signal received, stopping...")
		cancel()
	}()

	// ===== Initialize PostgreSQL (storage backend or queue fallback) =====
	var db *postgres.DB
	if storageBackend == "postgres" || databaseURL != "" {
		if databaseURL == "" {
			log.Fatal("DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
		log.Println("Connecting to PostgreSQL...")
		var err error
		db, err = postgres.Connect(ctx, postgres.Config{
			URL:             databaseURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300)) * time.Second,
			ConnMaxIdleTime: time.Duration(getEnvInt("DB_CONN_MAX_IDLE_SEC", 60)) * time.Second,
		})
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		// Initialize schema (idempotent)
		if err := db.InitSchema(ctx); err != nil {
			log.Fatalf("Failed to initialize schema: %v", err)
		}
		log.Println("PostgreSQL connected and schema initialized")
	}

	// ===== Initialize Redis (optional) =====
	var redisClient *redis.Client
	if redisURL != "" {
		log.Println("Connecting to Redis...")
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		log.Println("Redis connected")
	}

	// ===== Object store =====
	var store driven.ObjectStore
	switch storageBackend {
	case "minio":
		minioStore, err := minio.NewObjectStore(ctx, minio.Config{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    getEnv("MINIO_BUCKET", "tally"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			Region:    getEnv("MINIO_REGION", ""),
		})
		if err != nil {
			log.Fatalf("Failed to initialize MinIO: %v", err)
		}
		store = minioStore
		log.Println("Using MinIO object store")
	case "postgres":
		store = postgres.NewObjectStore(db)
		log.Println("Using PostgreSQL object store")
	default:
		log.Fatalf("Unknown storage backend: %s (use: minio or postgres)", storageBackend)
	}

	repoConfig := objectstore.Config{Logger: logger}
	controlStore := objectstore.NewControlStore(store, repoConfig)
	documentStore := objectstore.NewDocumentStore(store, repoConfig)
	responseStore := objectstore.NewResponseStore(store, repoConfig)
	fileStore := objectstore.NewFileStore(store, time.Duration(getEnvInt("FILE_URL_EXPIRY_SEC", 3600))*time.Second)

	// ===== Task Queue (Redis if available, then PostgreSQL, otherwise in-process) =====
	var taskQueue driven.TaskQueue
	switch {
	case redisClient != nil:
		queue, err := redisqueue.NewQueue(redisClient, redisqueue.Config{
			ConsumerName: fmt.Sprintf("worker-%d", os.Getpid()),
			Logger:       logger,
		})
		if err != nil {
			log.Fatalf("Failed to create task queue: %v", err)
		}
		taskQueue = queue
		log.Println("Using Redis task queue")
	case db != nil:
		taskQueue = postgresqueue.NewQueue(db.DB)
		log.Println("Using PostgreSQL task queue")
	default:
		log.Println("No task queue configured, running tasks in-process")
	}

	// ===== Distributed Lock (Redis if available, otherwise PostgreSQL advisory locks) =====
	var distributedLock driven.DistributedLock
	var redisPinger http.Pinger
	switch {
	case redisClient != nil:
		redisLock := redisadapter.NewLock(redisClient)
		distributedLock = redisLock
		redisPinger = redisLock
		log.Println("Using Redis distributed lock")
	case db != nil:
		distributedLock = postgres.NewAdvisoryLock(db)
		log.Println("Using PostgreSQL advisory lock")
	}

	// ===== Language model and parser =====
	runtimeConfig := domain.NewRuntimeConfig(storageBackend)
	runtimeServices := runtime.NewServices(runtimeConfig)
	defer runtimeServices.Close()

	aiFactory := ai.NewFactory()
	llmSettings := domain.DefaultLLMSettings(getEnv("OPENAI_API_KEY", ""))
	llmSettings.Model = getEnv("OPENAI_MODEL", llmSettings.Model)
	llmSettings.BaseURL = getEnv("OPENAI_BASE_URL", "")
	llmSettings.MaxTokens = getEnvInt("OPENAI_MAX_TOKENS", llmSettings.MaxTokens)
	parserSettings := domain.ParserSettings{
		Provider: domain.ParserProviderReducto,
		APIKey:   getEnv("REDUCTO_API_KEY", ""),
		BaseURL:  getEnv("REDUCTO_BASE_URL", ""),
	}

	if llm, err := aiFactory.CreateLLMService(&llmSettings); err != nil {
		log.Printf("Warning: language model not configured: %v", err)
	} else if llm != nil {
		runtimeServices.SetLLMService(llm)
	}
	if parser, err := aiFactory.CreateDocumentParser(&parserSettings); err != nil {
		log.Printf("Warning: document parser not configured: %v", err)
	} else if parser != nil {
		runtimeServices.SetDocumentParser(parser)
	}

	// ===== Services (core business logic) =====
	dispatcher := services.NewDispatcher(services.DispatcherConfig{
		Queue:       taskQueue,
		Concurrency: getEnvInt("WORKER_CONCURRENCY", 2),
		Logger:      logger,
	})
	defer dispatcher.Wait()

	limits := domain.DefaultUploadLimits()
	limits.MaxFileSize = int64(getEnvInt("MAX_FILE_SIZE", int(limits.MaxFileSize)))
	if types := getEnv("ALLOWED_FILE_TYPES", ""); types != "" {
		limits.AllowedFileTypes = splitList(types)
	}

	controlService := services.NewControlService(controlStore, responseStore, logger)
	documentService := services.NewDocumentService(services.DocumentServiceConfig{
		DocumentStore:     documentStore,
		ControlStore:      controlStore,
		ResponseStore:     responseStore,
		BlobStore:         fileStore,
		Normalisers:       normalisers.DefaultRegistry(),
		Services:          runtimeServices,
		Dispatcher:        dispatcher,
		Limits:            limits,
		PublicBaseURL:     getEnv("PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d", port)),
		UploadConcurrency: getEnvInt("UPLOAD_CONCURRENCY", 4),
		AutoEvaluate:      getEnvBool("AUTO_EVALUATE", true),
		Lock:              distributedLock,
		Logger:            logger,
	})
	tabularService := services.NewTabularService(controlStore, documentStore, responseStore, logger)
	analysisService := services.NewAnalysisService(services.AnalysisServiceConfig{
		ControlStore:     controlStore,
		DocumentStore:    documentStore,
		ResponseStore:    responseStore,
		Services:         runtimeServices,
		Dispatcher:       dispatcher,
		Lock:             distributedLock,
		Concurrency:      getEnvInt("ANALYSIS_CONCURRENCY", services.DefaultAnalysisConcurrency),
		ContentCacheSize: getEnvInt("CONTENT_CACHE_SIZE", 128),
		ContentCacheTTL:  time.Duration(getEnvInt("CONTENT_CACHE_TTL_SEC", 600)) * time.Second,
		Logger:           logger,
	})
	settingsService := services.NewSettingsService(aiFactory, runtimeServices, llmSettings, parserSettings, logger)

	log.Printf("Runtime config: storage=%s, queue=%t, llm=%t, parser=%t",
		runtimeConfig.StorageBackend,
		taskQueue != nil,
		runtimeConfig.LLMAvailable(),
		runtimeConfig.ParserAvailable())

	// Sweep for cells and extractions left behind by restarts or outages (worker mode only)
	var scheduler *services.Scheduler
	if taskQueue != nil && getEnvBool("SCHEDULER_ENABLED", true) {
		scheduler = services.NewScheduler(services.SchedulerConfig{
			Analysis:     analysisService,
			Documents:    documentService,
			Lock:         distributedLock,
			Logger:       logger,
			PollInterval: time.Duration(getEnvInt("SWEEP_INTERVAL_SEC", 600)) * time.Second,
			SweepOnStart: true,
		})
	}

	w := worker.NewWorker(worker.WorkerConfig{
		TaskQueue:      taskQueue,
		Documents:      documentService,
		Analysis:       analysisService,
		Scheduler:      scheduler,
		Logger:         logger,
		Concurrency:    getEnvInt("WORKER_CONCURRENCY", 2),
		DequeueTimeout: getEnvInt("WORKER_DEQUEUE_TIMEOUT", 5),
	})

	// Queued and in-process tasks share one handler
	dispatcher.SetHandler(w.Handle)

	server := http.NewServer(
		http.Config{
			Host:          "0.0.0.0",
			Port:          port,
			Version:       version,
			MaxUploadSize: limits.MaxFileSize,
			CORSOrigins:   splitList(getEnv("CORS_ORIGINS", "*")),
			Logger:        logger,
		},
		controlService,
		documentService,
		tabularService,
		analysisService,
		settingsService,
		taskQueue,
		store,
		redisPinger,
	)

	switch mode {
	case "api":
		// API-only mode: HTTP server, no worker
		runAPI(server, port)
		dispatcher.Wait()

	case "worker":
		// Worker-only mode: Task processing, scheduler, no HTTP server
		if taskQueue == nil {
			log.Fatal("Worker mode requires REDIS_URL or DATABASE_URL for the task queue")
		}
		runWorkerMode(ctx, w)

	case "all":
		// Combined mode: Run both API and Worker
		if taskQueue != nil {
			go runWorkerMode(ctx, w)
		}
		// Run API in foreground (blocks)
		runAPI(server, port)

		// Let in-flight tasks settle before the stores close
		cancel()
		w.Wait()
		dispatcher.Wait()
	}
}

func runAPI(server *http.Server, port int) {
	log.Printf("API server starting on :%d", port)
	if err := server.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// runWorkerMode starts the worker and the pending-cell sweep.
func runWorkerMode(ctx context.Context, w *worker.Worker) {
	log.Println("Starting worker mode...")

	if err := w.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}

	log.Println("Worker started, processing tasks...")
	log.Println("Worker handles:")
	log.Println("  - extract_document: Parse an uploaded document")
	log.Println("  - evaluate_cell: Evaluate one document against one control")

	// Wait for context cancellation
	<-ctx.Done()

	// Graceful shutdown
	log.Println("Stopping worker...")
	w.Stop()
	log.Println("Worker stopped")
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func logLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo
	}
	return level
}
