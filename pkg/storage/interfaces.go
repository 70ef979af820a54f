// Package storage provides interfaces for persistent storage.
package storage

import (
	"time"

	"github.com/tcmartin/canvasrunner/pkg/models"
)

// StorageProvider defines the interface for persistence backends
type StorageProvider interface {
	// Initialize sets up the storage backend
	Initialize() error

	// Close cleans up resources
	Close() error

	// GetCanvasStore returns a store for canvases, nodes, edges and handles
	GetCanvasStore() CanvasStore

	// GetTaskStore returns a store for task records
	GetTaskStore() TaskStore

	// GetBatchStore returns a store for task batches
	GetBatchStore() BatchStore
}

// CanvasStore manages canvas graph persistence
type CanvasStore interface {
	// SaveCanvas persists a canvas
	SaveCanvas(canvas models.Canvas) error

	// GetCanvas retrieves a canvas
	GetCanvas(canvasID string) (models.Canvas, error)

	// ListCanvases returns all canvases
	ListCanvases() ([]models.Canvas, error)

	// DeleteCanvas removes a canvas and its nodes, edges and handles
	DeleteCanvas(canvasID string) error

	// SaveNode persists a node
	SaveNode(node models.Node) error

	// GetNode retrieves a node
	GetNode(nodeID string) (models.Node, error)

	// DeleteNode removes a node
	DeleteNode(nodeID string) error

	// UpdateNodeResult stores a node's computed result
	UpdateNodeResult(nodeID string, result map[string]interface{}) error

	// SaveEdge persists an edge
	SaveEdge(edge models.Edge) error

	// SaveHandle persists a handle
	SaveHandle(handle models.Handle) error

	// GetSnapshot loads the full canvas graph for one execution
	GetSnapshot(canvasID string) (*models.CanvasSnapshot, error)
}

// TaskStore manages task record persistence. Task rows are written only by
// the scheduler instance driving the owning batch.
type TaskStore interface {
	// SaveTask persists a task record (insert or update)
	SaveTask(task models.Task) error

	// GetTask retrieves the task for a (batch, node) pair
	GetTask(batchID, nodeID string) (models.Task, error)

	// ListTasks returns all tasks for a batch
	ListTasks(batchID string) ([]models.Task, error)
}

// BatchStore manages task batch persistence
type BatchStore interface {
	// SaveBatch persists a batch
	SaveBatch(batch models.TaskBatch) error

	// GetBatch retrieves a batch
	GetBatch(batchID string) (models.TaskBatch, error)

	// FinalizeBatch sets the batch completion time. Idempotent: a batch
	// that already has a completion time is left untouched.
	FinalizeBatch(batchID string, completedAt time.Time) error

	// ClaimBatch atomically replaces the batch owner, succeeding only if
	// the current owner still matches previousOwner. Concurrent recovery
	// sweeps race on this compare-and-swap; the loser gets false and
	// skips the batch.
	ClaimBatch(batchID, previousOwner, newOwner string) (bool, error)

	// ListDanglingBatches returns all batches with no completion time
	ListDanglingBatches() ([]models.TaskBatch, error)
}
