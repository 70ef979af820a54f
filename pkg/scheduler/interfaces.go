// Package scheduler turns a canvas node graph plus a target node set into a
// dependency-respecting, partially parallel execution of per-node
// processors, persisting task progress so interrupted batches can be
// recovered after a crash.
package scheduler

import (
	"time"

	"github.com/tcmartin/canvasrunner/pkg/models"
)

// TaskEvent describes one task state transition
type TaskEvent struct {
	// BatchID of the owning batch
	BatchID string `json:"batch_id"`

	// CanvasID of the canvas the batch executes against
	CanvasID string `json:"canvas_id"`

	// NodeID of the node the task executes
	NodeID string `json:"node_id"`

	// Status the task transitioned to
	Status models.TaskStatus `json:"status"`

	// Error holds the failure message for failed transitions
	Error string `json:"error,omitempty"`

	// Timestamp of the transition
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionObserver receives task state transitions as they are persisted.
// Implementations must not block; the scheduler calls them inline.
type ExecutionObserver interface {
	OnTaskUpdate(event TaskEvent)
}

// ObserverFunc adapts a function to the ExecutionObserver interface
type ObserverFunc func(event TaskEvent)

// OnTaskUpdate receives a task state transition
func (f ObserverFunc) OnTaskUpdate(event TaskEvent) {
	f(event)
}

// Failure reasons recorded on tasks the scheduler fails itself
const (
	// ReasonUpstreamFailed marks tasks whose dependency failed or was skipped
	ReasonUpstreamFailed = "upstream dependency failed or skipped"

	// ReasonCycleDetected marks tasks inside or downstream of a dependency cycle
	ReasonCycleDetected = "cycle detected"

	// ReasonCycleDetectedRecovery marks cycle failures found while recovering
	ReasonCycleDetectedRecovery = "cycle detected during recovery"

	// ReasonMissingProcessor marks tasks whose node type has no registered processor
	ReasonMissingProcessor = "no processor registered for node type"
)
