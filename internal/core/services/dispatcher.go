package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

// TaskHandler runs one background task
type TaskHandler func(ctx context.Context, task *domain.Task) error

// DispatcherConfig configures a Dispatcher
type DispatcherConfig struct {
	// Queue receives tasks when set. Without a queue tasks run in-process.
	Queue driven.TaskQueue
	// Concurrency bounds in-process tasks
	Concurrency int
	// Timeout bounds each in-process task
	Timeout time.Duration
	Logger  *slog.Logger
}

// Dispatcher hands extraction and evaluation tasks to the queue, or runs
// them on detached goroutines when no queue is configured. Callers never
// wait for the work itself.
type Dispatcher struct {
	queue   driven.TaskQueue
	timeout time.Duration
	logger  *slog.Logger
	sem     chan struct{}

	mu      sync.RWMutex
	handler TaskHandler
	wg      sync.WaitGroup
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Dispatcher{
		queue:   cfg.Queue,
		timeout: timeout,
		logger:  logger,
		sem:     make(chan struct{}, concurrency),
	}
}

// SetHandler installs the in-process handler
func (d *Dispatcher) SetHandler(h TaskHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

// Queued reports whether tasks go to a queue
func (d *Dispatcher) Queued() bool {
	return d.queue != nil
}

// Dispatch schedules tasks. With a queue the only error is an enqueue failure.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks ...*domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	if d.queue != nil {
		var err error
		if len(tasks) == 1 {
			err = d.queue.Enqueue(ctx, tasks[0])
		} else {
			err = d.queue.EnqueueBatch(ctx, tasks)
		}
		if err != nil {
			return fmt.Errorf("enqueue tasks: %w", err)
		}
		return nil
	}

	d.mu.RLock()
	handler := d.handler
	d.mu.RUnlock()
	if handler == nil {
		return fmt.Errorf("%w: no task handler installed", domain.ErrServiceUnavailable)
	}

	for _, task := range tasks {
		d.wg.Add(1)
		go d.run(handler, task)
	}
	return nil
}

func (d *Dispatcher) run(handler TaskHandler, task *domain.Task) {
	defer d.wg.Done()

	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	// Detached from the request that scheduled it
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	task.MarkProcessing()
	if err := handler(ctx, task); err != nil {
		task.MarkFailed(err.Error())
		d.logger.Error("background task failed",
			"task_id", task.ID,
			"task_type", task.Type,
			"error", err,
		)
		return
	}
	task.MarkCompleted()
}

// Wait blocks until every in-process task has finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// scheduleDocumentEvaluations dispatches one evaluation per active control
func scheduleDocumentEvaluations(ctx context.Context, d *Dispatcher, controls driven.ControlStore, documentID string) (int, error) {
	active, err := controls.List(ctx, false)
	if err != nil {
		return 0, err
	}

	tasks := make([]*domain.Task, 0, len(active))
	for _, c := range active {
		tasks = append(tasks, domain.NewEvaluateCellTask(domain.ResponseKey{DocumentID: documentID, ControlID: c.ID}, false))
	}
	if err := d.Dispatch(ctx, tasks...); err != nil {
		return 0, err
	}
	return len(tasks), nil
}
