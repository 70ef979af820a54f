package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tcmartin/canvasrunner/pkg/graph"
	"github.com/tcmartin/canvasrunner/pkg/logging"
	"github.com/tcmartin/canvasrunner/pkg/models"
	"github.com/tcmartin/canvasrunner/pkg/processors"
	"github.com/tcmartin/canvasrunner/pkg/scripting"
	"github.com/tcmartin/canvasrunner/pkg/storage"
	"github.com/tcmartin/canvasrunner/pkg/utils"
)

// DefaultMaxConcurrent caps simultaneous in-flight node dispatches per batch
const DefaultMaxConcurrent = 4

// Scheduler drives batches of node tasks to completion. One scheduler
// instance is the single writer for the task rows of every batch it drives;
// multiple batches may execute concurrently since their task sets are
// disjoint by construction.
type Scheduler struct {
	provider      storage.StorageProvider
	registry      *processors.Registry
	logger        logging.Logger
	ai            *utils.AIClient
	maxConcurrent int
	instanceID    string
	observer      ExecutionObserver

	mu     sync.Mutex
	active map[string]bool
}

// Option configures a scheduler instance
type Option func(*Scheduler)

// WithMaxConcurrent overrides the per-batch dispatch bound
func WithMaxConcurrent(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithAIClient injects the media generation client handed to processors
func WithAIClient(client *utils.AIClient) Option {
	return func(s *Scheduler) {
		s.ai = client
	}
}

// WithObserver injects an observer for task state transitions
func WithObserver(observer ExecutionObserver) Option {
	return func(s *Scheduler) {
		s.observer = observer
	}
}

// WithInstanceID overrides the generated scheduler instance identifier
func WithInstanceID(id string) Option {
	return func(s *Scheduler) {
		s.instanceID = id
	}
}

// NewScheduler creates a new Scheduler
func NewScheduler(provider storage.StorageProvider, registry *processors.Registry, logger logging.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		provider:      provider,
		registry:      registry,
		logger:        logger,
		maxConcurrent: DefaultMaxConcurrent,
		instanceID:    uuid.New().String(),
		active:        make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InstanceID returns the identifier this scheduler claims batches with
func (s *Scheduler) InstanceID() string {
	return s.instanceID
}

// markActive records a batch as in flight in this process so a concurrent
// recovery sweep leaves it alone
func (s *Scheduler) markActive(batchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[batchID] = true
}

func (s *Scheduler) markInactive(batchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, batchID)
}

func (s *Scheduler) isActive(batchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[batchID]
}

// StartBatch creates a batch for the target nodes plus their transitive
// dependencies and drives it to full termination. It returns once every
// task is terminal; node-level failures are recorded on tasks, not
// returned as errors.
func (s *Scheduler) StartBatch(ctx context.Context, canvasID string, targetNodeIDs []string, apiKey string) (models.TaskBatch, error) {
	batch, snapshot, nodeSet, err := s.createBatch(canvasID, targetNodeIDs)
	if err != nil {
		return models.TaskBatch{}, err
	}
	defer s.markInactive(batch.ID)

	s.runBatch(ctx, batch, snapshot, nodeSet, nil, nil, apiKey, ReasonCycleDetected)

	return batch, nil
}

// StartBatchAsync creates the batch synchronously, so validation errors and
// the batch ID surface to the caller, then drives it on a background
// goroutine. Progress is visible through the task store and the observer.
func (s *Scheduler) StartBatchAsync(ctx context.Context, canvasID string, targetNodeIDs []string, apiKey string) (models.TaskBatch, error) {
	batch, snapshot, nodeSet, err := s.createBatch(canvasID, targetNodeIDs)
	if err != nil {
		return models.TaskBatch{}, err
	}

	go func() {
		defer s.markInactive(batch.ID)
		s.runBatch(ctx, batch, snapshot, nodeSet, nil, nil, apiKey, ReasonCycleDetected)
	}()

	return batch, nil
}

// createBatch validates the targets, persists the batch and its queued
// tasks, and marks the batch active in this process. The caller owns the
// matching markInactive.
func (s *Scheduler) createBatch(canvasID string, targetNodeIDs []string) (models.TaskBatch, *models.CanvasSnapshot, map[string]bool, error) {
	if len(targetNodeIDs) == 0 {
		return models.TaskBatch{}, nil, nil, fmt.Errorf("at least one target node is required")
	}

	snapshot, err := s.provider.GetCanvasStore().GetSnapshot(canvasID)
	if err != nil {
		return models.TaskBatch{}, nil, nil, fmt.Errorf("failed to load canvas: %w", err)
	}

	// Targets must exist and be terminal node types
	for _, id := range targetNodeIDs {
		node, ok := snapshot.Nodes[id]
		if !ok {
			return models.TaskBatch{}, nil, nil, fmt.Errorf("target node '%s' does not exist", id)
		}
		template, err := s.registry.Template(node.Type)
		if err != nil {
			return models.TaskBatch{}, nil, nil, fmt.Errorf("target node '%s': %w", id, err)
		}
		if !template.Terminal {
			return models.TaskBatch{}, nil, nil, fmt.Errorf("node '%s' of type '%s' is not a valid execution target", id, node.Type)
		}
	}

	nodeSet := graph.TransitiveClosure(targetNodeIDs, snapshot)

	now := time.Now()
	batch := models.TaskBatch{
		ID:        uuid.New().String(),
		CanvasID:  canvasID,
		ClaimedBy: s.instanceID,
		CreatedAt: now,
	}
	// Mark active before the batch becomes visible to recovery sweeps
	s.markActive(batch.ID)

	if err := s.provider.GetBatchStore().SaveBatch(batch); err != nil {
		s.markInactive(batch.ID)
		return models.TaskBatch{}, nil, nil, fmt.Errorf("failed to create batch: %w", err)
	}

	for nodeID := range nodeSet {
		task := models.Task{
			ID:        uuid.New().String(),
			BatchID:   batch.ID,
			NodeID:    nodeID,
			Status:    models.TaskQueued,
			CreatedAt: now,
		}
		if err := s.provider.GetTaskStore().SaveTask(task); err != nil {
			s.markInactive(batch.ID)
			return models.TaskBatch{}, nil, nil, fmt.Errorf("failed to create task for node '%s': %w", nodeID, err)
		}
	}

	s.logger.LogBatchExecution(canvasID, batch.ID, "started", map[string]interface{}{
		"targets": targetNodeIDs,
		"nodes":   len(nodeSet),
	})

	return batch, snapshot, nodeSet, nil
}

// nodeOutcome carries one finished dispatch back to the coordinating loop
type nodeOutcome struct {
	nodeID string
	result processors.ProcessorResult
}

// runBatch is the wavefront loop shared by fresh execution and recovery.
// It owns every task row of the batch: all status transitions funnel
// through the single coordinating goroutine, and it finalizes the batch
// exactly once when every node is terminal.
func (s *Scheduler) runBatch(
	ctx context.Context,
	batch models.TaskBatch,
	snapshot *models.CanvasSnapshot,
	nodeSet map[string]bool,
	seedCompleted map[string]bool,
	seedFailed map[string]bool,
	apiKey string,
	cycleReason string,
) {
	completed := make(map[string]bool, len(seedCompleted))
	for id := range seedCompleted {
		completed[id] = true
	}
	failed := make(map[string]bool, len(seedFailed))
	for id := range seedFailed {
		failed[id] = true
	}

	g := graph.Build(nodeSet, snapshot.Edges)

	// A cycle makes the whole remaining set non-completable; fail it en
	// masse rather than leaving tasks hanging.
	if _, err := graph.TopologicalSort(g); err != nil {
		s.failRemaining(batch, nodeSet, completed, failed, cycleReason)
		s.finalizeBatch(batch)
		return
	}

	executing := make(map[string]bool)
	results := make(chan nodeOutcome)

	for len(completed)+len(failed) < len(nodeSet) {
		// Ready frontier: untouched nodes whose every in-set dependency
		// has completed
		ready := make([]string, 0)
		for id := range nodeSet {
			if completed[id] || failed[id] || executing[id] {
				continue
			}
			satisfied := true
			for _, dep := range g.Deps[id] {
				if !completed[dep] {
					satisfied = false
					break
				}
			}
			if satisfied {
				ready = append(ready, id)
			}
		}

		// Stuck: nothing ready and nothing in flight. Every remaining
		// node is blocked behind a failed dependency.
		if len(ready) == 0 && len(executing) == 0 {
			s.failRemaining(batch, nodeSet, completed, failed, ReasonUpstreamFailed)
			break
		}

		// Dispatch up to the concurrency bound; the rest stay ready
		for _, nodeID := range ready {
			if len(executing) >= s.maxConcurrent {
				break
			}
			executing[nodeID] = true
			s.markExecuting(batch, nodeID)
			go s.dispatch(ctx, batch, snapshot, nodeID, apiKey, results)
		}

		outcome := <-results
		delete(executing, outcome.nodeID)

		if outcome.result.Success {
			completed[outcome.nodeID] = true
			if outcome.result.NewResult != nil {
				if err := s.provider.GetCanvasStore().UpdateNodeResult(outcome.nodeID, outcome.result.NewResult); err != nil {
					s.logger.Error("failed to persist node result",
						logging.F("batch_id", batch.ID),
						logging.F("node_id", outcome.nodeID),
						logging.F("error", err.Error()))
				}
				if node, ok := snapshot.Nodes[outcome.nodeID]; ok {
					node.Result = outcome.result.NewResult
				}
			}
			s.markTerminal(batch, outcome.nodeID, models.TaskCompleted, "")
		} else {
			failed[outcome.nodeID] = true
			s.markTerminal(batch, outcome.nodeID, models.TaskFailed, outcome.result.Error)
		}
	}

	s.finalizeBatch(batch)
}

// dispatch invokes the processor for one node and reports the outcome.
// Processor panics are contained here so a misbehaving node type cannot
// take down the batch.
func (s *Scheduler) dispatch(ctx context.Context, batch models.TaskBatch, snapshot *models.CanvasSnapshot, nodeID string, apiKey string, results chan<- nodeOutcome) {
	var result processors.ProcessorResult

	defer func() {
		if r := recover(); r != nil {
			result = processors.Failure(fmt.Sprintf("processor panic: %v", r))
		}
		results <- nodeOutcome{nodeID: nodeID, result: result}
	}()

	node, ok := snapshot.Nodes[nodeID]
	if !ok {
		result = processors.Failure(fmt.Sprintf("node '%s' no longer exists", nodeID))
		return
	}

	processor, err := s.registry.Get(node.Type)
	if err != nil {
		result = processors.Failure(fmt.Sprintf("%s '%s'", ReasonMissingProcessor, node.Type))
		return
	}

	ec := &processors.ExecutionContext{
		Batch:    batch,
		Node:     node,
		Snapshot: snapshot,
		AI:       s.ai,
		APIKey:   apiKey,
		Logger: s.logger.WithFields(
			logging.F("batch_id", batch.ID),
			logging.F("node_id", nodeID)),
	}

	ec.Config = node.Config
	if len(node.Config) > 0 {
		evaluator := scripting.NewExpressionEvaluator()
		resolved, err := evaluator.EvaluateInObject(node.Config, map[string]interface{}{
			"inputs": ec.Inputs(),
			"batch":  map[string]interface{}{"id": batch.ID, "canvas_id": batch.CanvasID},
		})
		if err != nil {
			result = processors.Failure(fmt.Sprintf("failed to resolve node configuration: %v", err))
			return
		}
		ec.Config = resolved
	}

	result = processor.Process(ctx, ec)
}

// markExecuting transitions a task to EXECUTING and persists the start time
func (s *Scheduler) markExecuting(batch models.TaskBatch, nodeID string) {
	task, err := s.provider.GetTaskStore().GetTask(batch.ID, nodeID)
	if err != nil {
		s.logger.Error("failed to load task for dispatch",
			logging.F("batch_id", batch.ID),
			logging.F("node_id", nodeID),
			logging.F("error", err.Error()))
		return
	}

	now := time.Now()
	task.Status = models.TaskExecuting
	task.StartedAt = &now

	if err := s.provider.GetTaskStore().SaveTask(task); err != nil {
		s.logger.Error("failed to persist task transition",
			logging.F("batch_id", batch.ID),
			logging.F("node_id", nodeID),
			logging.F("error", err.Error()))
	}

	s.logger.LogNodeExecution(batch.ID, nodeID, "dispatched", nil)
	s.notify(batch, nodeID, models.TaskExecuting, "")
}

// markTerminal transitions a task to COMPLETED or FAILED
func (s *Scheduler) markTerminal(batch models.TaskBatch, nodeID string, status models.TaskStatus, errorMessage string) {
	task, err := s.provider.GetTaskStore().GetTask(batch.ID, nodeID)
	if err != nil {
		s.logger.Error("failed to load task for completion",
			logging.F("batch_id", batch.ID),
			logging.F("node_id", nodeID),
			logging.F("error", err.Error()))
		return
	}

	// Terminal states absorb; never regress a finished task
	if task.Status.IsTerminal() {
		return
	}

	now := time.Now()
	task.Status = status
	task.FinishedAt = &now
	task.Error = errorMessage

	if err := s.provider.GetTaskStore().SaveTask(task); err != nil {
		s.logger.Error("failed to persist task transition",
			logging.F("batch_id", batch.ID),
			logging.F("node_id", nodeID),
			logging.F("error", err.Error()))
	}

	data := map[string]interface{}{}
	if errorMessage != "" {
		data["error"] = errorMessage
	}
	s.logger.LogNodeExecution(batch.ID, nodeID, string(status), data)
	s.notify(batch, nodeID, status, errorMessage)
}

// failRemaining fails every node not yet terminal with the given reason
func (s *Scheduler) failRemaining(batch models.TaskBatch, nodeSet map[string]bool, completed, failed map[string]bool, reason string) {
	for nodeID := range nodeSet {
		if completed[nodeID] || failed[nodeID] {
			continue
		}
		failed[nodeID] = true
		s.markTerminal(batch, nodeID, models.TaskFailed, reason)
	}
}

// finalizeBatch sets the batch completion time once all tasks are terminal
func (s *Scheduler) finalizeBatch(batch models.TaskBatch) {
	if err := s.provider.GetBatchStore().FinalizeBatch(batch.ID, time.Now()); err != nil {
		s.logger.Error("failed to finalize batch",
			logging.F("batch_id", batch.ID),
			logging.F("error", err.Error()))
		return
	}

	s.logger.LogBatchExecution(batch.CanvasID, batch.ID, "finished", nil)
}

func (s *Scheduler) notify(batch models.TaskBatch, nodeID string, status models.TaskStatus, errorMessage string) {
	if s.observer == nil {
		return
	}
	s.observer.OnTaskUpdate(TaskEvent{
		BatchID:   batch.ID,
		CanvasID:  batch.CanvasID,
		NodeID:    nodeID,
		Status:    status,
		Error:     errorMessage,
		Timestamp: time.Now(),
	})
}
