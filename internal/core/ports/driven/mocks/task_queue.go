package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

// MockTaskQueue is an in-memory FIFO TaskQueue for testing
type MockTaskQueue struct {
	mu      sync.Mutex
	pending []*domain.Task
	tasks   map[string]*domain.Task

	EnqueueErr error
}

// NewMockTaskQueue creates a new MockTaskQueue
func NewMockTaskQueue() *MockTaskQueue {
	return &MockTaskQueue{tasks: make(map[string]*domain.Task)}
}

func (m *MockTaskQueue) Enqueue(ctx context.Context, task *domain.Task) error {
	if m.EnqueueErr != nil {
		return m.EnqueueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, task)
	m.tasks[task.ID] = task
	return nil
}

func (m *MockTaskQueue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	for _, task := range tasks {
		if err := m.Enqueue(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockTaskQueue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil, nil
	}
	task := m.pending[0]
	m.pending = m.pending[1:]
	task.MarkProcessing()
	return task, nil
}

func (m *MockTaskQueue) Ack(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	task.MarkCompleted()
	return nil
}

func (m *MockTaskQueue) Nack(ctx context.Context, taskID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	if task.CanRetry() {
		task.Retry(reason)
		m.pending = append(m.pending, task)
		return nil
	}
	task.MarkFailed(reason)
	return nil
}

func (m *MockTaskQueue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, nil
	}
	return task, nil
}

func (m *MockTaskQueue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &driven.QueueStats{}
	for _, task := range m.tasks {
		switch task.Status {
		case domain.TaskStatusPending:
			stats.PendingCount++
		case domain.TaskStatusProcessing:
			stats.ProcessingCount++
		case domain.TaskStatusCompleted:
			stats.CompletedCount++
		case domain.TaskStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (m *MockTaskQueue) Ping(ctx context.Context) error {
	return nil
}

func (m *MockTaskQueue) Close() error {
	return nil
}

// Pending returns the tasks waiting to be dequeued
func (m *MockTaskQueue) Pending() []*domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Task(nil), m.pending...)
}
