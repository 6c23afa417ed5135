package domain

import (
	"time"

	"github.com/google/uuid"
)

// NewUUID creates a random UUID string.
func NewUUID() string {
	return uuid.NewString()
}

// IsUUID reports whether s parses as a UUID
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// TaskType identifies the type of background task
type TaskType string

const (
	// TaskTypeExtractDocument extracts text from an uploaded document
	TaskTypeExtractDocument TaskType = "extract_document"
	// TaskTypeEvaluateCell evaluates one document against one control
	TaskTypeEvaluateCell TaskType = "evaluate_cell"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task represents a background job to be processed by workers
type Task struct {
	ID   string   `json:"id"`
	Type TaskType `json:"type"`

	// Payload contains task-specific data
	// For extract_document: {"document_id": "..."}
	// For evaluate_cell: {"document_id": "...", "control_id": "...", "force": "true"}
	Payload map[string]string `json:"payload"`

	// Priority orders pending tasks, higher first.
	Priority    int        `json:"priority"`
	Status      TaskStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`

	// Error contains the last error message if failed
	Error string `json:"error,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ScheduledFor time.Time  `json:"scheduled_for"`
}

// NewTask creates a new task with default values
func NewTask(taskType TaskType, payload map[string]string) *Task {
	now := time.Now()
	return &Task{
		ID:           NewUUID(),
		Type:         taskType,
		Payload:      payload,
		Status:       TaskStatusPending,
		MaxAttempts:  3,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// NewExtractDocumentTask creates a task to extract a document's text.
// Extraction runs ahead of evaluations since evaluations need the text.
func NewExtractDocumentTask(documentID string) *Task {
	task := NewTask(TaskTypeExtractDocument, map[string]string{
		"document_id": documentID,
	})
	task.Priority = 1
	return task
}

// NewEvaluateCellTask creates a task to evaluate a single grid cell
func NewEvaluateCellTask(key ResponseKey, force bool) *Task {
	payload := map[string]string{
		"document_id": key.DocumentID,
		"control_id":  key.ControlID,
	}
	if force {
		payload["force"] = "true"
	}
	return NewTask(TaskTypeEvaluateCell, payload)
}

// DocumentID extracts the document_id from the payload
func (t *Task) DocumentID() string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload["document_id"]
}

// ResponseKey extracts the (document, control) pair from the payload
func (t *Task) ResponseKey() ResponseKey {
	if t.Payload == nil {
		return ResponseKey{}
	}
	return ResponseKey{DocumentID: t.Payload["document_id"], ControlID: t.Payload["control_id"]}
}

// Force reports whether an evaluation should regenerate a finished response
func (t *Task) Force() bool {
	return t.Payload != nil && t.Payload["force"] == "true"
}

// CanRetry returns true if the task can be retried
func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// MarkProcessing updates the task to processing state
func (t *Task) MarkProcessing() {
	now := time.Now()
	t.Status = TaskStatusProcessing
	t.StartedAt = &now
	t.UpdatedAt = now
	t.Attempts++
}

// MarkCompleted updates the task to completed state
func (t *Task) MarkCompleted() {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.Error = ""
}

// MarkFailed updates the task to failed state
func (t *Task) MarkFailed(err string) {
	t.Status = TaskStatusFailed
	t.UpdatedAt = time.Now()
	t.Error = err
}

// Retry resets the task for retry with exponential backoff
func (t *Task) Retry(err string) {
	now := time.Now()
	t.Status = TaskStatusPending
	t.UpdatedAt = now
	t.Error = err

	// Exponential backoff: 1s, 2s, 4s, 8s, etc.
	backoff := time.Duration(1<<t.Attempts) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	t.ScheduledFor = now.Add(backoff)
}
