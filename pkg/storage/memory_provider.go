package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/tcmartin/canvasrunner/pkg/models"
)

// Errors returned by storage backends
var (
	ErrCanvasNotFound = errors.New("canvas not found")
	ErrNodeNotFound   = errors.New("node not found")
	ErrTaskNotFound   = errors.New("task not found")
	ErrBatchNotFound  = errors.New("batch not found")
)

// MemoryProvider implements the StorageProvider interface using in-memory storage
type MemoryProvider struct {
	canvasStore *MemoryCanvasStore
	taskStore   *MemoryTaskStore
	batchStore  *MemoryBatchStore
}

// NewMemoryProvider creates a new in-memory storage provider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		canvasStore: NewMemoryCanvasStore(),
		taskStore:   NewMemoryTaskStore(),
		batchStore:  NewMemoryBatchStore(),
	}
}

// Initialize sets up the storage backend
func (p *MemoryProvider) Initialize() error {
	// Nothing to initialize for in-memory storage
	return nil
}

// Close cleans up resources
func (p *MemoryProvider) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

// GetCanvasStore returns a store for canvases, nodes, edges and handles
func (p *MemoryProvider) GetCanvasStore() CanvasStore {
	return p.canvasStore
}

// GetTaskStore returns a store for task records
func (p *MemoryProvider) GetTaskStore() TaskStore {
	return p.taskStore
}

// GetBatchStore returns a store for task batches
func (p *MemoryProvider) GetBatchStore() BatchStore {
	return p.batchStore
}

// MemoryCanvasStore implements the CanvasStore interface using in-memory storage
type MemoryCanvasStore struct {
	canvases map[string]models.Canvas
	nodes    map[string]models.Node
	edges    map[string]models.Edge
	handles  map[string]models.Handle
	mu       sync.RWMutex
}

// NewMemoryCanvasStore creates a new in-memory canvas store
func NewMemoryCanvasStore() *MemoryCanvasStore {
	return &MemoryCanvasStore{
		canvases: make(map[string]models.Canvas),
		nodes:    make(map[string]models.Node),
		edges:    make(map[string]models.Edge),
		handles:  make(map[string]models.Handle),
	}
}

// SaveCanvas persists a canvas
func (s *MemoryCanvasStore) SaveCanvas(canvas models.Canvas) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.canvases[canvas.ID] = canvas
	return nil
}

// GetCanvas retrieves a canvas
func (s *MemoryCanvasStore) GetCanvas(canvasID string) (models.Canvas, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	canvas, ok := s.canvases[canvasID]
	if !ok {
		return models.Canvas{}, ErrCanvasNotFound
	}

	return canvas, nil
}

// ListCanvases returns all canvases
func (s *MemoryCanvasStore) ListCanvases() ([]models.Canvas, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	canvasList := make([]models.Canvas, 0, len(s.canvases))
	for _, canvas := range s.canvases {
		canvasList = append(canvasList, canvas)
	}

	return canvasList, nil
}

// DeleteCanvas removes a canvas and its nodes, edges and handles
func (s *MemoryCanvasStore) DeleteCanvas(canvasID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.canvases[canvasID]; !ok {
		return ErrCanvasNotFound
	}

	delete(s.canvases, canvasID)
	for id, node := range s.nodes {
		if node.CanvasID == canvasID {
			delete(s.nodes, id)
		}
	}
	for id, edge := range s.edges {
		if edge.CanvasID == canvasID {
			delete(s.edges, id)
		}
	}
	for id, handle := range s.handles {
		if _, ok := s.nodes[handle.NodeID]; !ok {
			delete(s.handles, id)
		}
	}

	return nil
}

// SaveNode persists a node
func (s *MemoryCanvasStore) SaveNode(node models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[node.ID] = node
	return nil
}

// GetNode retrieves a node
func (s *MemoryCanvasStore) GetNode(nodeID string) (models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return models.Node{}, ErrNodeNotFound
	}

	return node, nil
}

// DeleteNode removes a node
func (s *MemoryCanvasStore) DeleteNode(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[nodeID]; !ok {
		return ErrNodeNotFound
	}

	delete(s.nodes, nodeID)
	for id, handle := range s.handles {
		if handle.NodeID == nodeID {
			delete(s.handles, id)
		}
	}

	return nil
}

// UpdateNodeResult stores a node's computed result
func (s *MemoryCanvasStore) UpdateNodeResult(nodeID string, result map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return ErrNodeNotFound
	}

	node.Result = result
	node.UpdatedAt = time.Now()
	s.nodes[nodeID] = node

	return nil
}

// SaveEdge persists an edge
func (s *MemoryCanvasStore) SaveEdge(edge models.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.edges[edge.ID] = edge
	return nil
}

// SaveHandle persists a handle
func (s *MemoryCanvasStore) SaveHandle(handle models.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handles[handle.ID] = handle
	return nil
}

// GetSnapshot loads the full canvas graph for one execution
func (s *MemoryCanvasStore) GetSnapshot(canvasID string) (*models.CanvasSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	canvas, ok := s.canvases[canvasID]
	if !ok {
		return nil, ErrCanvasNotFound
	}

	snapshot := &models.CanvasSnapshot{
		Canvas:  canvas,
		Nodes:   make(map[string]*models.Node),
		Handles: make(map[string]*models.Handle),
	}

	for id, node := range s.nodes {
		if node.CanvasID != canvasID {
			continue
		}
		n := node
		snapshot.Nodes[id] = &n
	}
	for _, edge := range s.edges {
		if edge.CanvasID == canvasID {
			snapshot.Edges = append(snapshot.Edges, edge)
		}
	}
	for id, handle := range s.handles {
		if _, ok := snapshot.Nodes[handle.NodeID]; ok {
			h := handle
			snapshot.Handles[id] = &h
		}
	}

	return snapshot, nil
}

// MemoryTaskStore implements the TaskStore interface using in-memory storage
type MemoryTaskStore struct {
	// tasks maps batch ID to node ID to task
	tasks map[string]map[string]models.Task
	mu    sync.RWMutex
}

// NewMemoryTaskStore creates a new in-memory task store
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[string]map[string]models.Task),
	}
}

// SaveTask persists a task record
func (s *MemoryTaskStore) SaveTask(task models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.BatchID]; !ok {
		s.tasks[task.BatchID] = make(map[string]models.Task)
	}
	s.tasks[task.BatchID][task.NodeID] = task

	return nil
}

// GetTask retrieves the task for a (batch, node) pair
func (s *MemoryTaskStore) GetTask(batchID, nodeID string) (models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batchTasks, ok := s.tasks[batchID]
	if !ok {
		return models.Task{}, ErrTaskNotFound
	}

	task, ok := batchTasks[nodeID]
	if !ok {
		return models.Task{}, ErrTaskNotFound
	}

	return task, nil
}

// ListTasks returns all tasks for a batch
func (s *MemoryTaskStore) ListTasks(batchID string) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batchTasks, ok := s.tasks[batchID]
	if !ok {
		return []models.Task{}, nil
	}

	taskList := make([]models.Task, 0, len(batchTasks))
	for _, task := range batchTasks {
		taskList = append(taskList, task)
	}

	return taskList, nil
}

// MemoryBatchStore implements the BatchStore interface using in-memory storage
type MemoryBatchStore struct {
	batches map[string]models.TaskBatch
	mu      sync.RWMutex
}

// NewMemoryBatchStore creates a new in-memory batch store
func NewMemoryBatchStore() *MemoryBatchStore {
	return &MemoryBatchStore{
		batches: make(map[string]models.TaskBatch),
	}
}

// SaveBatch persists a batch
func (s *MemoryBatchStore) SaveBatch(batch models.TaskBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches[batch.ID] = batch
	return nil
}

// GetBatch retrieves a batch
func (s *MemoryBatchStore) GetBatch(batchID string) (models.TaskBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return models.TaskBatch{}, ErrBatchNotFound
	}

	return batch, nil
}

// FinalizeBatch sets the batch completion time exactly once
func (s *MemoryBatchStore) FinalizeBatch(batchID string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}

	// Completion time is never mutated after being set
	if batch.CompletedAt != nil {
		return nil
	}

	batch.CompletedAt = &completedAt
	s.batches[batchID] = batch

	return nil
}

// ClaimBatch compare-and-swaps the batch owner
func (s *MemoryBatchStore) ClaimBatch(batchID, previousOwner, newOwner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return false, ErrBatchNotFound
	}

	if batch.ClaimedBy != previousOwner {
		return false, nil
	}

	batch.ClaimedBy = newOwner
	s.batches[batchID] = batch

	return true, nil
}

// ListDanglingBatches returns all batches with no completion time
func (s *MemoryBatchStore) ListDanglingBatches() ([]models.TaskBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dangling := make([]models.TaskBatch, 0)
	for _, batch := range s.batches {
		if batch.CompletedAt == nil {
			dangling = append(dangling, batch)
		}
	}

	return dangling, nil
}
