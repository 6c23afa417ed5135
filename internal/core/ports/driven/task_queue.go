package driven

import (
	"context"

	"github.com/custodia-labs/tally-core/internal/core/domain"
)

// TaskQueue carries extraction and cell-evaluation tasks from the API to
// the workers. Redis Streams is the preferred backend, PostgreSQL the
// fallback.
type TaskQueue interface {
	// Enqueue publishes a task. A backend may drop a non-forced evaluation
	// for a cell that already has one queued.
	Enqueue(ctx context.Context, task *domain.Task) error

	// EnqueueBatch publishes several tasks, as Enqueue does for each.
	EnqueueBatch(ctx context.Context, tasks []*domain.Task) error

	// DequeueWithTimeout hands the next task to this worker, marked
	// processing. Extraction tasks come before evaluations.
	// Returns nil, nil when nothing arrives within timeout seconds.
	DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error)

	// Ack marks a task completed.
	Ack(ctx context.Context, taskID string) error

	// Nack schedules a retry with backoff, or marks the task failed once
	// its attempts are used up.
	Nack(ctx context.Context, taskID string, reason string) error

	// GetTask returns a task by ID, or nil if unknown.
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	Stats(ctx context.Context) (*QueueStats, error)
	Ping(ctx context.Context) error
	Close() error
}

// QueueStats counts tasks by state
type QueueStats struct {
	// PendingCount includes tasks waiting on a retry backoff
	PendingCount    int64 `json:"pending_count"`
	ProcessingCount int64 `json:"processing_count"`
	CompletedCount  int64 `json:"completed_count"`

	// FailedCount is the number of tasks that failed after all retries
	FailedCount int64 `json:"failed_count"`
}
