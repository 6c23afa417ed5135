package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
	"github.com/redis/go-redis/v9"
)

const (
	// Extraction and evaluation run on separate streams so that a backlog of
	// cell evaluations never delays a freshly uploaded document.
	extractStream  = "tally:tasks:extract"
	evaluateStream = "tally:tasks:evaluate"
	taskGroup      = "tally:workers"
	scheduledTasks = "tally:scheduled"

	taskKeyPrefix = "tally:task:"
	cellKeyPrefix = "tally:cell:"

	completedCounter = "tally:stats:completed"
	failedCounter    = "tally:stats:failed"

	// taskTTL bounds how long task records outlive their processing
	taskTTL = 24 * time.Hour

	consumerPrefix = "worker-"

	// claimTimeout is how long a delivered task may stay unacked before
	// another worker takes it over
	claimTimeout = 5 * time.Minute
)

var streams = []string{extractStream, evaluateStream}

// Verify interface compliance
var _ driven.TaskQueue = (*Queue)(nil)

// Queue implements TaskQueue using Redis Streams with one consumer group
// shared by every worker.
//
// Non-forced evaluation tasks are deduplicated per cell: while one is queued
// or running for a (document, control) pair, further ones are dropped. The
// pending-cell sweep relies on this to avoid stacking duplicates.
type Queue struct {
	client       *redis.Client
	consumerName string
	logger       *slog.Logger
}

// Config holds queue configuration
type Config struct {
	// ConsumerName should be unique per worker instance (e.g., hostname + PID).
	ConsumerName string
	Logger       *slog.Logger
}

// delivery records where a dequeued task's stream message lives
type delivery struct {
	Stream    string `json:"stream"`
	MessageID string `json:"message_id"`
}

// NewQueue creates a new Redis-backed task queue.
func NewQueue(client *redis.Client, cfg Config) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = fmt.Sprintf("%s%d", consumerPrefix, time.Now().UnixNano())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	q := &Queue{
		client:       client,
		consumerName: cfg.ConsumerName,
		logger:       cfg.Logger,
	}

	ctx := context.Background()
	for _, stream := range streams {
		err := q.client.XGroupCreateMkStream(ctx, stream, taskGroup, "0").Err()
		if err != nil && !isGroupExistsError(err) {
			return nil, fmt.Errorf("failed to create consumer group on %s: %w", stream, err)
		}
	}

	return q, nil
}

// Enqueue adds a task to the queue for processing.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return errors.New("task is required")
	}
	return q.EnqueueBatch(ctx, []*domain.Task{task})
}

// EnqueueBatch adds multiple tasks in one pipeline. Duplicate cell
// evaluations are skipped.
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	now := time.Now()
	pipe := q.client.Pipeline()
	staged := 0
	for _, task := range tasks {
		if task == nil {
			continue
		}
		if key, ok := dedupKey(task); ok {
			claimed, err := q.client.SetNX(ctx, key, task.ID, taskTTL).Result()
			if err != nil {
				return fmt.Errorf("failed to reserve cell for task %s: %w", task.ID, err)
			}
			if !claimed {
				q.logger.Debug("evaluation already queued, skipping",
					"document_id", task.DocumentID(),
					"control_id", task.ResponseKey().ControlID,
				)
				continue
			}
		}
		if err := q.stage(ctx, pipe, task, now); err != nil {
			return err
		}
		staged++
	}
	if staged == 0 {
		return nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue %d tasks: %w", staged, err)
	}
	return nil
}

// stage writes the task record and either publishes it or parks it in the
// scheduled set until it is due.
func (q *Queue) stage(ctx context.Context, pipe redis.Pipeliner, task *domain.Task, now time.Time) error {
	if err := q.save(ctx, pipe, task); err != nil {
		return err
	}
	if task.ScheduledFor.After(now) {
		pipe.ZAdd(ctx, scheduledTasks, redis.Z{
			Score:  float64(task.ScheduledFor.Unix()),
			Member: task.ID,
		})
		return nil
	}
	publish(ctx, pipe, task)
	return nil
}

func (q *Queue) save(ctx context.Context, cmd redis.Cmdable, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}
	cmd.Set(ctx, taskKeyPrefix+task.ID, data, taskTTL)
	return nil
}

// DequeueWithTimeout retrieves the next task. Extraction tasks are taken
// first without blocking; only then does it wait up to timeout seconds for
// an evaluation. A timeout of zero or less waits one second.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	if err := q.promoteScheduledTasks(ctx); err != nil {
		q.logger.Warn("failed to promote scheduled tasks", "error", err)
	}

	if task, err := q.claimAbandonedTask(ctx); err == nil && task != nil {
		return task, nil
	}

	task, err := q.read(ctx, extractStream, -1)
	if err != nil || task != nil {
		return task, err
	}

	block := time.Duration(timeout) * time.Second
	if timeout <= 0 {
		block = time.Second
	}
	return q.read(ctx, evaluateStream, block)
}

// read takes one new message from stream. A negative block returns at once.
func (q *Queue) read(ctx context.Context, stream string, block time.Duration) (*domain.Task, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    taskGroup,
		Consumer: q.consumerName,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from %s: %w", stream, err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, nil
	}
	return q.deliver(ctx, stream, res[0].Messages[0])
}

// deliver loads the task behind a stream message and marks it processing.
// Messages without a readable task are dropped.
func (q *Queue) deliver(ctx context.Context, stream string, msg redis.XMessage) (*domain.Task, error) {
	taskID, ok := msg.Values["task_id"].(string)
	if !ok {
		q.drop(ctx, stream, msg.ID)
		return nil, nil
	}

	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task data: %w", err)
	}
	if task == nil {
		q.drop(ctx, stream, msg.ID)
		return nil, nil
	}

	task.MarkProcessing()
	ref, _ := json.Marshal(delivery{Stream: stream, MessageID: msg.ID})

	pipe := q.client.Pipeline()
	if err := q.save(ctx, pipe, task); err != nil {
		return nil, err
	}
	pipe.Set(ctx, taskKeyPrefix+task.ID+":msg", ref, taskTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to mark task %s processing: %w", task.ID, err)
	}
	return task, nil
}

func (q *Queue) drop(ctx context.Context, stream, msgID string) {
	q.client.XAck(ctx, stream, taskGroup, msgID)
	q.client.XDel(ctx, stream, msgID)
}

// Ack acknowledges successful completion of a task.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	d, err := q.delivery(ctx, taskID)
	if err != nil {
		return err
	}
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	pipe := q.client.Pipeline()
	if d != nil {
		pipe.XAck(ctx, d.Stream, taskGroup, d.MessageID)
		pipe.XDel(ctx, d.Stream, d.MessageID)
	}
	if task != nil {
		task.MarkCompleted()
		if err := q.save(ctx, pipe, task); err != nil {
			return err
		}
		releaseCell(ctx, pipe, task)
	}
	pipe.Incr(ctx, completedCounter)
	pipe.Del(ctx, taskKeyPrefix+taskID+":msg")

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack task: %w", err)
	}
	return nil
}

// Nack indicates task processing failed. The task is retried with backoff
// until its attempts run out, then marked failed.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("%w: task %s", domain.ErrNotFound, taskID)
	}
	d, err := q.delivery(ctx, taskID)
	if err != nil {
		return err
	}

	pipe := q.client.Pipeline()
	if d != nil {
		pipe.XAck(ctx, d.Stream, taskGroup, d.MessageID)
		pipe.XDel(ctx, d.Stream, d.MessageID)
	}

	if task.CanRetry() {
		task.Retry(reason)
		pipe.ZAdd(ctx, scheduledTasks, redis.Z{
			Score:  float64(task.ScheduledFor.Unix()),
			Member: task.ID,
		})
	} else {
		task.MarkFailed(reason)
		releaseCell(ctx, pipe, task)
		pipe.Incr(ctx, failedCounter)
		q.logger.Warn("task failed after retries",
			"task_id", task.ID,
			"type", task.Type,
			"attempts", task.Attempts,
			"error", reason,
		)
	}
	if err := q.save(ctx, pipe, task); err != nil {
		return err
	}
	pipe.Del(ctx, taskKeyPrefix+taskID+":msg")

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to nack task: %w", err)
	}
	return nil
}

func (q *Queue) delivery(ctx context.Context, taskID string) (*delivery, error) {
	raw, err := q.client.Get(ctx, taskKeyPrefix+taskID+":msg").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery for task %s: %w", taskID, err)
	}
	var d delivery
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("corrupt delivery for task %s: %w", taskID, err)
	}
	return &d, nil
}

// GetTask retrieves a task by ID. Unknown ids return nil, nil.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	data, err := q.client.Get(ctx, taskKeyPrefix+taskID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var task domain.Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// Stats returns queue statistics. Completed and failed counts are running
// totals kept since the counters were created.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	stats := &driven.QueueStats{}

	for _, stream := range streams {
		length, err := q.client.XLen(ctx, stream).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to get length of %s: %w", stream, err)
		}
		var inFlight int64
		if p, err := q.client.XPending(ctx, stream, taskGroup).Result(); err == nil {
			inFlight = p.Count
		}
		stats.PendingCount += length - inFlight
		stats.ProcessingCount += inFlight
	}

	scheduled, err := q.client.ZCard(ctx, scheduledTasks).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get scheduled count: %w", err)
	}
	stats.PendingCount += scheduled

	if stats.CompletedCount, err = q.counter(ctx, completedCounter); err != nil {
		return nil, err
	}
	if stats.FailedCount, err = q.counter(ctx, failedCounter); err != nil {
		return nil, err
	}
	return stats, nil
}

func (q *Queue) counter(ctx context.Context, key string) (int64, error) {
	n, err := q.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return n, nil
}

// Ping checks if the queue backend is healthy.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close is a no-op; the Redis client is shared with the lock.
func (q *Queue) Close() error {
	return nil
}

// promoteScheduledTasks moves due retries and delayed tasks onto their stream.
func (q *Queue) promoteScheduledTasks(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, scheduledTasks, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", time.Now().Unix()),
	}).Result()
	if err != nil || len(due) == 0 {
		return err
	}

	pipe := q.client.Pipeline()
	for _, taskID := range due {
		// ZRem first: only the worker that removes the entry publishes it
		removed, err := q.client.ZRem(ctx, scheduledTasks, taskID).Result()
		if err != nil || removed == 0 {
			continue
		}
		task, err := q.GetTask(ctx, taskID)
		if err != nil || task == nil {
			continue
		}
		publish(ctx, pipe, task)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// claimAbandonedTask takes over a task another worker left unacked for
// longer than claimTimeout.
func (q *Queue) claimAbandonedTask(ctx context.Context) (*domain.Task, error) {
	for _, stream := range streams {
		pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  taskGroup,
			Start:  "-",
			End:    "+",
			Count:  10,
			Idle:   claimTimeout,
		}).Result()
		if err != nil {
			return nil, err
		}

		for _, p := range pending {
			claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
				Stream:   stream,
				Group:    taskGroup,
				Consumer: q.consumerName,
				MinIdle:  claimTimeout,
				Messages: []string{p.ID},
			}).Result()
			if err != nil || len(claimed) == 0 {
				continue
			}
			task, err := q.deliver(ctx, stream, claimed[0])
			if err != nil || task == nil {
				continue
			}
			q.logger.Info("claimed abandoned task", "task_id", task.ID, "previous_consumer", p.Consumer)
			return task, nil
		}
	}
	return nil, nil
}

func publish(ctx context.Context, pipe redis.Pipeliner, task *domain.Task) {
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: streamFor(task.Type),
		Values: map[string]any{
			"task_id": task.ID,
			"type":    string(task.Type),
		},
	})
}

func streamFor(t domain.TaskType) string {
	if t == domain.TaskTypeExtractDocument {
		return extractStream
	}
	return evaluateStream
}

// dedupKey returns the cell reservation key for non-forced evaluations
func dedupKey(task *domain.Task) (string, bool) {
	if task.Type != domain.TaskTypeEvaluateCell || task.Force() {
		return "", false
	}
	key := task.ResponseKey()
	if key.IsZero() {
		return "", false
	}
	return cellKeyPrefix + key.DocumentID + ":" + key.ControlID, true
}

func releaseCell(ctx context.Context, pipe redis.Pipeliner, task *domain.Task) {
	if key, ok := dedupKey(task); ok {
		pipe.Del(ctx, key)
	}
}

func isGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
