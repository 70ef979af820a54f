package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tcmartin/canvasrunner/pkg/models"
)

// RedisProvider implements the StorageProvider interface using Redis
type RedisProvider struct {
	client      *redis.Client
	canvasStore *RedisCanvasStore
	taskStore   *RedisTaskStore
	batchStore  *RedisBatchStore
}

// RedisProviderConfig contains configuration for the Redis provider
type RedisProviderConfig struct {
	Address  string
	Password string
	DB       int
}

// NewRedisProvider creates a new Redis storage provider
func NewRedisProvider(config RedisProviderConfig) *RedisProvider {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})

	provider := &RedisProvider{
		client: client,
	}

	provider.canvasStore = NewRedisCanvasStore(client)
	provider.taskStore = NewRedisTaskStore(client)
	provider.batchStore = NewRedisBatchStore(client)

	return provider
}

// Initialize sets up the storage backend
func (p *RedisProvider) Initialize() error {
	if err := p.client.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close cleans up resources
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// GetCanvasStore returns a store for canvases, nodes, edges and handles
func (p *RedisProvider) GetCanvasStore() CanvasStore {
	return p.canvasStore
}

// GetTaskStore returns a store for task records
func (p *RedisProvider) GetTaskStore() TaskStore {
	return p.taskStore
}

// GetBatchStore returns a store for task batches
func (p *RedisProvider) GetBatchStore() BatchStore {
	return p.batchStore
}

// Key layout:
//   canvas:{id}          canvas JSON
//   canvases             set of canvas IDs
//   canvas:{id}:nodes    set of node IDs
//   canvas:{id}:edges    hash edge ID -> edge JSON
//   node:{id}            node JSON
//   node:{id}:handles    hash handle ID -> handle JSON
//   batch:{id}           batch JSON
//   batch:{id}:tasks     hash node ID -> task JSON
//   batches:dangling     set of unfinalized batch IDs

func canvasKey(canvasID string) string { return "canvas:" + canvasID }
func nodeKey(nodeID string) string     { return "node:" + nodeID }
func batchKey(batchID string) string   { return "batch:" + batchID }

// RedisCanvasStore implements the CanvasStore interface using Redis
type RedisCanvasStore struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisCanvasStore creates a new Redis canvas store
func NewRedisCanvasStore(client *redis.Client) *RedisCanvasStore {
	return &RedisCanvasStore{
		client: client,
		ctx:    context.Background(),
	}
}

// SaveCanvas persists a canvas
func (s *RedisCanvasStore) SaveCanvas(canvas models.Canvas) error {
	data, err := json.Marshal(canvas)
	if err != nil {
		return fmt.Errorf("failed to marshal canvas: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(s.ctx, canvasKey(canvas.ID), data, 0)
	pipe.SAdd(s.ctx, "canvases", canvas.ID)
	if _, err := pipe.Exec(s.ctx); err != nil {
		return fmt.Errorf("failed to save canvas: %w", err)
	}

	return nil
}

// GetCanvas retrieves a canvas
func (s *RedisCanvasStore) GetCanvas(canvasID string) (models.Canvas, error) {
	data, err := s.client.Get(s.ctx, canvasKey(canvasID)).Bytes()
	if err == redis.Nil {
		return models.Canvas{}, ErrCanvasNotFound
	}
	if err != nil {
		return models.Canvas{}, fmt.Errorf("failed to get canvas: %w", err)
	}

	var canvas models.Canvas
	if err := json.Unmarshal(data, &canvas); err != nil {
		return models.Canvas{}, fmt.Errorf("failed to unmarshal canvas: %w", err)
	}

	return canvas, nil
}

// ListCanvases returns all canvases
func (s *RedisCanvasStore) ListCanvases() ([]models.Canvas, error) {
	canvasIDs, err := s.client.SMembers(s.ctx, "canvases").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list canvases: %w", err)
	}

	canvases := make([]models.Canvas, 0, len(canvasIDs))
	for _, canvasID := range canvasIDs {
		canvas, err := s.GetCanvas(canvasID)
		if err == ErrCanvasNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		canvases = append(canvases, canvas)
	}

	return canvases, nil
}

// DeleteCanvas removes a canvas and its nodes, edges and handles
func (s *RedisCanvasStore) DeleteCanvas(canvasID string) error {
	if _, err := s.GetCanvas(canvasID); err != nil {
		return err
	}

	nodeIDs, err := s.client.SMembers(s.ctx, canvasKey(canvasID)+":nodes").Result()
	if err != nil {
		return fmt.Errorf("failed to list canvas nodes: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, nodeID := range nodeIDs {
		pipe.Del(s.ctx, nodeKey(nodeID), nodeKey(nodeID)+":handles")
	}
	pipe.Del(s.ctx, canvasKey(canvasID), canvasKey(canvasID)+":nodes", canvasKey(canvasID)+":edges")
	pipe.SRem(s.ctx, "canvases", canvasID)
	if _, err := pipe.Exec(s.ctx); err != nil {
		return fmt.Errorf("failed to delete canvas: %w", err)
	}

	return nil
}

// SaveNode persists a node
func (s *RedisCanvasStore) SaveNode(node models.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to marshal node: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(s.ctx, nodeKey(node.ID), data, 0)
	pipe.SAdd(s.ctx, canvasKey(node.CanvasID)+":nodes", node.ID)
	if _, err := pipe.Exec(s.ctx); err != nil {
		return fmt.Errorf("failed to save node: %w", err)
	}

	return nil
}

// GetNode retrieves a node
func (s *RedisCanvasStore) GetNode(nodeID string) (models.Node, error) {
	data, err := s.client.Get(s.ctx, nodeKey(nodeID)).Bytes()
	if err == redis.Nil {
		return models.Node{}, ErrNodeNotFound
	}
	if err != nil {
		return models.Node{}, fmt.Errorf("failed to get node: %w", err)
	}

	var node models.Node
	if err := json.Unmarshal(data, &node); err != nil {
		return models.Node{}, fmt.Errorf("failed to unmarshal node: %w", err)
	}

	return node, nil
}

// DeleteNode removes a node
func (s *RedisCanvasStore) DeleteNode(nodeID string) error {
	node, err := s.GetNode(nodeID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(s.ctx, nodeKey(nodeID), nodeKey(nodeID)+":handles")
	pipe.SRem(s.ctx, canvasKey(node.CanvasID)+":nodes", nodeID)
	if _, err := pipe.Exec(s.ctx); err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}

	return nil
}

// UpdateNodeResult stores a node's computed result
func (s *RedisCanvasStore) UpdateNodeResult(nodeID string, result map[string]interface{}) error {
	node, err := s.GetNode(nodeID)
	if err != nil {
		return err
	}

	node.Result = result
	node.UpdatedAt = time.Now()

	return s.SaveNode(node)
}

// SaveEdge persists an edge
func (s *RedisCanvasStore) SaveEdge(edge models.Edge) error {
	data, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("failed to marshal edge: %w", err)
	}

	if err := s.client.HSet(s.ctx, canvasKey(edge.CanvasID)+":edges", edge.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to save edge: %w", err)
	}

	return nil
}

// SaveHandle persists a handle
func (s *RedisCanvasStore) SaveHandle(handle models.Handle) error {
	data, err := json.Marshal(handle)
	if err != nil {
		return fmt.Errorf("failed to marshal handle: %w", err)
	}

	if err := s.client.HSet(s.ctx, nodeKey(handle.NodeID)+":handles", handle.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to save handle: %w", err)
	}

	return nil
}

// GetSnapshot loads the full canvas graph for one execution
func (s *RedisCanvasStore) GetSnapshot(canvasID string) (*models.CanvasSnapshot, error) {
	canvas, err := s.GetCanvas(canvasID)
	if err != nil {
		return nil, err
	}

	snapshot := &models.CanvasSnapshot{
		Canvas:  canvas,
		Nodes:   make(map[string]*models.Node),
		Edges:   make([]models.Edge, 0),
		Handles: make(map[string]*models.Handle),
	}

	nodeIDs, err := s.client.SMembers(s.ctx, canvasKey(canvasID)+":nodes").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list canvas nodes: %w", err)
	}

	for _, nodeID := range nodeIDs {
		node, err := s.GetNode(nodeID)
		if err == ErrNodeNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		nodeCopy := node
		snapshot.Nodes[node.ID] = &nodeCopy

		handleData, err := s.client.HGetAll(s.ctx, nodeKey(nodeID)+":handles").Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list node handles: %w", err)
		}
		for _, raw := range handleData {
			var handle models.Handle
			if err := json.Unmarshal([]byte(raw), &handle); err != nil {
				return nil, fmt.Errorf("failed to unmarshal handle: %w", err)
			}
			handleCopy := handle
			snapshot.Handles[handle.ID] = &handleCopy
		}
	}

	edgeData, err := s.client.HGetAll(s.ctx, canvasKey(canvasID)+":edges").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list canvas edges: %w", err)
	}
	for _, raw := range edgeData {
		var edge models.Edge
		if err := json.Unmarshal([]byte(raw), &edge); err != nil {
			return nil, fmt.Errorf("failed to unmarshal edge: %w", err)
		}
		snapshot.Edges = append(snapshot.Edges, edge)
	}

	return snapshot, nil
}

// RedisTaskStore implements the TaskStore interface using Redis
type RedisTaskStore struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisTaskStore creates a new Redis task store
func NewRedisTaskStore(client *redis.Client) *RedisTaskStore {
	return &RedisTaskStore{
		client: client,
		ctx:    context.Background(),
	}
}

// SaveTask persists a task record
func (s *RedisTaskStore) SaveTask(task models.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := s.client.HSet(s.ctx, batchKey(task.BatchID)+":tasks", task.NodeID, data).Err(); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	return nil
}

// GetTask retrieves the task for a (batch, node) pair
func (s *RedisTaskStore) GetTask(batchID, nodeID string) (models.Task, error) {
	data, err := s.client.HGet(s.ctx, batchKey(batchID)+":tasks", nodeID).Bytes()
	if err == redis.Nil {
		return models.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to get task: %w", err)
	}

	var task models.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return models.Task{}, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	return task, nil
}

// ListTasks returns all tasks for a batch
func (s *RedisTaskStore) ListTasks(batchID string) ([]models.Task, error) {
	taskData, err := s.client.HGetAll(s.ctx, batchKey(batchID)+":tasks").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks := make([]models.Task, 0, len(taskData))
	for _, raw := range taskData {
		var task models.Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

// RedisBatchStore implements the BatchStore interface using Redis
type RedisBatchStore struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisBatchStore creates a new Redis batch store
func NewRedisBatchStore(client *redis.Client) *RedisBatchStore {
	return &RedisBatchStore{
		client: client,
		ctx:    context.Background(),
	}
}

// SaveBatch persists a batch
func (s *RedisBatchStore) SaveBatch(batch models.TaskBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(s.ctx, batchKey(batch.ID), data, 0)
	if batch.CompletedAt == nil {
		pipe.SAdd(s.ctx, "batches:dangling", batch.ID)
	} else {
		pipe.SRem(s.ctx, "batches:dangling", batch.ID)
	}
	if _, err := pipe.Exec(s.ctx); err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}

	return nil
}

// GetBatch retrieves a batch
func (s *RedisBatchStore) GetBatch(batchID string) (models.TaskBatch, error) {
	data, err := s.client.Get(s.ctx, batchKey(batchID)).Bytes()
	if err == redis.Nil {
		return models.TaskBatch{}, ErrBatchNotFound
	}
	if err != nil {
		return models.TaskBatch{}, fmt.Errorf("failed to get batch: %w", err)
	}

	var batch models.TaskBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return models.TaskBatch{}, fmt.Errorf("failed to unmarshal batch: %w", err)
	}

	return batch, nil
}

// FinalizeBatch sets the batch completion time if not already set
func (s *RedisBatchStore) FinalizeBatch(batchID string, completedAt time.Time) error {
	err := s.client.Watch(s.ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(s.ctx, batchKey(batchID)).Bytes()
		if err == redis.Nil {
			return ErrBatchNotFound
		}
		if err != nil {
			return err
		}

		var batch models.TaskBatch
		if err := json.Unmarshal(data, &batch); err != nil {
			return fmt.Errorf("failed to unmarshal batch: %w", err)
		}

		// Completion time is never mutated after being set
		if batch.CompletedAt != nil {
			return nil
		}

		batch.CompletedAt = &completedAt
		updated, err := json.Marshal(batch)
		if err != nil {
			return fmt.Errorf("failed to marshal batch: %w", err)
		}

		_, err = tx.TxPipelined(s.ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(s.ctx, batchKey(batchID), updated, 0)
			pipe.SRem(s.ctx, "batches:dangling", batchID)
			return nil
		})
		return err
	}, batchKey(batchID))

	if err == ErrBatchNotFound {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to finalize batch: %w", err)
	}

	return nil
}

// ClaimBatch compare-and-swaps the batch owner
func (s *RedisBatchStore) ClaimBatch(batchID, previousOwner, newOwner string) (bool, error) {
	claimed := false

	err := s.client.Watch(s.ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(s.ctx, batchKey(batchID)).Bytes()
		if err == redis.Nil {
			return ErrBatchNotFound
		}
		if err != nil {
			return err
		}

		var batch models.TaskBatch
		if err := json.Unmarshal(data, &batch); err != nil {
			return fmt.Errorf("failed to unmarshal batch: %w", err)
		}

		if batch.ClaimedBy != previousOwner {
			return nil
		}

		batch.ClaimedBy = newOwner
		updated, err := json.Marshal(batch)
		if err != nil {
			return fmt.Errorf("failed to marshal batch: %w", err)
		}

		_, err = tx.TxPipelined(s.ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(s.ctx, batchKey(batchID), updated, 0)
			return nil
		})
		if err == nil {
			claimed = true
		}
		return err
	}, batchKey(batchID))

	if err == ErrBatchNotFound {
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim batch: %w", err)
	}

	return claimed, nil
}

// ListDanglingBatches returns all batches with no completion time
func (s *RedisBatchStore) ListDanglingBatches() ([]models.TaskBatch, error) {
	batchIDs, err := s.client.SMembers(s.ctx, "batches:dangling").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dangling batches: %w", err)
	}

	batches := make([]models.TaskBatch, 0, len(batchIDs))
	for _, batchID := range batchIDs {
		batch, err := s.GetBatch(batchID)
		if err == ErrBatchNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}

	return batches, nil
}
