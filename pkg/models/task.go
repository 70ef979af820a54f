package models

import "time"

// TaskStatus represents the execution state of a task
type TaskStatus string

const (
	// TaskQueued means the task has been created but not dispatched
	TaskQueued TaskStatus = "queued"

	// TaskExecuting means the task has been dispatched and is awaiting
	// its processor result
	TaskExecuting TaskStatus = "executing"

	// TaskCompleted means the processor reported success
	TaskCompleted TaskStatus = "completed"

	// TaskFailed means the processor reported failure or the scheduler
	// failed the task (missing processor, cycle, failed upstream)
	TaskFailed TaskStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is the persisted execution record for one node within one batch
type Task struct {
	// ID of the task
	ID string `json:"id"`

	// BatchID is the ID of the owning batch
	BatchID string `json:"batch_id"`

	// NodeID is the ID of the node being executed
	NodeID string `json:"node_id"`

	// Status of the task
	Status TaskStatus `json:"status"`

	// StartedAt is when the task was dispatched
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt is when the task reached a terminal state
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error holds the failure message for failed tasks
	Error string `json:"error,omitempty"`

	// CreatedAt is when the task was created
	CreatedAt time.Time `json:"created_at"`
}

// TaskBatch represents one triggered execution over a target node set
type TaskBatch struct {
	// ID of the batch
	ID string `json:"id"`

	// CanvasID is the ID of the canvas the batch executes against
	CanvasID string `json:"canvas_id"`

	// ClaimedBy identifies the scheduler instance currently driving the
	// batch; recovery uses it as a conditional claim marker
	ClaimedBy string `json:"claimed_by,omitempty"`

	// CreatedAt is when the batch was triggered
	CreatedAt time.Time `json:"created_at"`

	// CompletedAt is set exactly once, when every task is terminal.
	// A nil CompletedAt after process restart marks the batch as
	// dangling and eligible for recovery.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsDangling reports whether the batch was left without a completion time
func (b *TaskBatch) IsDangling() bool {
	return b.CompletedAt == nil
}
