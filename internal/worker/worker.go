package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
	"github.com/custodia-labs/tally-core/internal/core/ports/driving"
	"github.com/custodia-labs/tally-core/internal/core/services"
)

// Worker processes extraction and evaluation tasks from the task queue.
type Worker struct {
	taskQueue driven.TaskQueue
	documents driving.DocumentService
	analysis  driving.AnalysisService
	scheduler *services.Scheduler
	logger    *slog.Logger

	// Configuration
	concurrency    int
	dequeueTimeout int // seconds

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	TaskQueue      driven.TaskQueue
	Documents      driving.DocumentService
	Analysis       driving.AnalysisService
	Scheduler      *services.Scheduler // Optional pending-cell sweep
	Logger         *slog.Logger
	Concurrency    int // Number of concurrent task processors
	DequeueTimeout int // Seconds to wait for a task before checking again
}

// NewWorker creates a new task worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5
	}

	return &Worker{
		taskQueue:      cfg.TaskQueue,
		documents:      cfg.Documents,
		analysis:       cfg.Analysis,
		scheduler:      cfg.Scheduler,
		logger:         logger,
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
	}
}

// Start begins the worker loop.
// It runs until Stop is called or context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
	)

	// Start the scheduler if provided
	if w.scheduler != nil {
		if err := w.scheduler.Start(ctx); err != nil {
			w.logger.Error("failed to start scheduler", "error", err)
		}
	}

	// Start worker goroutines
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processLoop(ctx, workerID)
		}(i)
	}

	// Wait for all workers to finish
	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	// Stop the scheduler
	if w.scheduler != nil {
		w.scheduler.Stop()
	}

	// Wait for workers to finish
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until every worker goroutine has returned. It returns at
// once if the worker was never started.
func (w *Worker) Wait() {
	w.mu.RLock()
	done := w.doneCh
	w.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// processLoop is the main processing loop for a worker goroutine.
func (w *Worker) processLoop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Info("worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker context cancelled")
			return
		case <-w.stopCh:
			logger.Info("worker stop signal received")
			return
		default:
		}

		// Dequeue a task with timeout
		task, err := w.taskQueue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue task", "error", err)
			time.Sleep(time.Second) // Back off on error
			continue
		}

		if task == nil {
			// No task available, continue
			continue
		}

		// Process the task
		w.processTask(ctx, task, logger)
	}
}

// processTask runs one dequeued task and settles it with the queue.
// Failures are nacked for a retry; permanent ones are acked and dropped.
func (w *Worker) processTask(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	logger = logger.With("task_id", task.ID, "task_type", task.Type, "attempt", task.Attempts)
	logger.Info("processing task")

	start := time.Now()
	err := w.Handle(ctx, task)
	duration := time.Since(start)
	taskDuration.WithLabelValues(string(task.Type)).Observe(duration.Seconds())

	var permanent *permanentError
	switch {
	case err == nil:
		logger.Info("task completed", "duration", duration)
		tasksTotal.WithLabelValues(string(task.Type), "completed").Inc()
	case errors.As(err, &permanent):
		logger.Warn("dropping task", "duration", duration, "error", err)
		tasksTotal.WithLabelValues(string(task.Type), "dropped").Inc()
	default:
		logger.Error("task failed", "duration", duration, "error", err)
		tasksTotal.WithLabelValues(string(task.Type), "nacked").Inc()
		if nackErr := w.taskQueue.Nack(ctx, task.ID, err.Error()); nackErr != nil {
			logger.Error("failed to nack task", "nack_error", nackErr)
		}
		return
	}

	if ackErr := w.taskQueue.Ack(ctx, task.ID); ackErr != nil {
		logger.Error("failed to ack task", "ack_error", ackErr)
	}
}

// permanentError marks a task that cannot succeed on retry: its payload is
// malformed or the document or control it names is gone.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

// Handle runs one task to completion. It is also installed as the
// in-process handler of the dispatcher when no queue is configured.
func (w *Worker) Handle(ctx context.Context, task *domain.Task) error {
	switch task.Type {
	case domain.TaskTypeExtractDocument:
		return w.handleExtractDocument(ctx, task)
	case domain.TaskTypeEvaluateCell:
		return w.handleEvaluateCell(ctx, task)
	default:
		return permanent(fmt.Errorf("unknown task type: %s", task.Type))
	}
}

func (w *Worker) handleExtractDocument(ctx context.Context, task *domain.Task) error {
	documentID := task.DocumentID()
	if documentID == "" {
		return permanent(errors.New("document_id not found in task payload"))
	}

	doc, err := w.documents.Extract(ctx, documentID)
	switch {
	case errors.Is(err, domain.ErrConflict):
		w.logger.Info("document already being extracted, skipping", "document_id", documentID)
		return nil
	case errors.Is(err, domain.ErrNotFound):
		return permanent(err)
	case err != nil:
		return err
	}
	if doc.ExtractionStatus == domain.ExtractionFailed {
		return fmt.Errorf("extraction failed: %s", doc.ExtractionError)
	}
	return nil
}

func (w *Worker) handleEvaluateCell(ctx context.Context, task *domain.Task) error {
	key := task.ResponseKey()
	if key.IsZero() {
		return permanent(errors.New("document_id and control_id not found in task payload"))
	}

	resp, err := w.analysis.EvaluateCell(ctx, key, task.Force())
	switch {
	case errors.Is(err, domain.ErrConflict):
		// Another worker owns the cell
		w.logger.Info("cell already being evaluated, skipping",
			"document_id", key.DocumentID,
			"control_id", key.ControlID,
		)
		return nil
	case errors.Is(err, domain.ErrNotFound):
		return permanent(err)
	case err != nil:
		return err
	}
	if resp.Status == domain.StatusFailed {
		return fmt.Errorf("evaluation failed: %s", resp.ErrorMessage)
	}
	return nil
}
