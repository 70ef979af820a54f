package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tcmartin/canvasrunner/pkg/logging"
	"github.com/tcmartin/canvasrunner/pkg/models"
	"github.com/tcmartin/canvasrunner/pkg/storage"
)

// DefaultRecoveryParallelism caps how many dangling batches recover at once
const DefaultRecoveryParallelism = 2

// RecoveryService sweeps batches left without a completion time by a prior
// crash and re-drives them through the scheduler. Previously terminal tasks
// are immutable facts; tasks caught mid-flight are re-dispatched.
type RecoveryService struct {
	scheduler   *Scheduler
	logger      logging.Logger
	parallelism int
}

// RecoveryOption configures a recovery service
type RecoveryOption func(*RecoveryService)

// WithRecoveryParallelism overrides how many batches recover concurrently
func WithRecoveryParallelism(n int) RecoveryOption {
	return func(r *RecoveryService) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// NewRecoveryService creates a new RecoveryService
func NewRecoveryService(scheduler *Scheduler, logger logging.Logger, opts ...RecoveryOption) *RecoveryService {
	r := &RecoveryService{
		scheduler:   scheduler,
		logger:      logger,
		parallelism: DefaultRecoveryParallelism,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecoverDanglingBatches finds every batch with no completion time and
// drives each to full termination. A failure while recovering one batch is
// logged and does not prevent recovery of the others.
func (r *RecoveryService) RecoverDanglingBatches(ctx context.Context) error {
	dangling, err := r.scheduler.provider.GetBatchStore().ListDanglingBatches()
	if err != nil {
		return fmt.Errorf("failed to list dangling batches: %w", err)
	}

	if len(dangling) == 0 {
		return nil
	}

	r.logger.LogSystemEvent("recovery_started", map[string]interface{}{
		"batches": len(dangling),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	for _, batch := range dangling {
		batch := batch
		g.Go(func() error {
			r.recoverBatch(ctx, batch)
			return nil
		})
	}

	// Recovery failures never propagate between batches
	_ = g.Wait()

	r.logger.LogSystemEvent("recovery_finished", map[string]interface{}{
		"batches": len(dangling),
	})

	return nil
}

// recoverBatch re-drives one dangling batch. Any panic is contained here so
// a corrupt batch cannot abort the sweep.
func (r *RecoveryService) recoverBatch(ctx context.Context, batch models.TaskBatch) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while recovering batch",
				logging.F("batch_id", batch.ID),
				logging.F("panic", fmt.Sprintf("%v", rec)))
		}
	}()

	// A batch still being driven in this process is not dangling, just slow
	if r.scheduler.isActive(batch.ID) {
		return
	}

	// Take over from the crashed owner. The compare-and-swap on the owner
	// we read from the dangling listing makes concurrent sweeps race
	// safely; the loser skips the batch.
	claimed, err := r.scheduler.provider.GetBatchStore().ClaimBatch(batch.ID, batch.ClaimedBy, r.scheduler.instanceID)
	if err != nil {
		r.logger.Error("failed to claim batch for recovery",
			logging.F("batch_id", batch.ID),
			logging.F("error", err.Error()))
		return
	}
	if !claimed {
		r.logger.Info("batch claimed by another instance",
			logging.F("batch_id", batch.ID))
		return
	}
	batch.ClaimedBy = r.scheduler.instanceID

	tasks, err := r.scheduler.provider.GetTaskStore().ListTasks(batch.ID)
	if err != nil {
		r.logger.Error("failed to load tasks for recovery",
			logging.F("batch_id", batch.ID),
			logging.F("error", err.Error()))
		return
	}

	snapshot, err := r.scheduler.provider.GetCanvasStore().GetSnapshot(batch.CanvasID)
	if err == storage.ErrCanvasNotFound {
		// The canvas is gone; nothing left to execute
		r.finalize(batch)
		return
	}
	if err != nil {
		r.logger.Error("failed to load canvas for recovery",
			logging.F("batch_id", batch.ID),
			logging.F("error", err.Error()))
		return
	}

	// Rebuild the node set from surviving tasks, seeding terminal statuses
	// as immutable facts. A task caught EXECUTING at crash time re-enters
	// as non-terminal and gets re-dispatched.
	nodeSet := make(map[string]bool)
	completed := make(map[string]bool)
	failed := make(map[string]bool)
	for _, task := range tasks {
		if _, ok := snapshot.Nodes[task.NodeID]; !ok {
			// The owning node was deleted from the canvas; discard
			continue
		}
		nodeSet[task.NodeID] = true
		switch task.Status {
		case models.TaskCompleted:
			completed[task.NodeID] = true
		case models.TaskFailed:
			failed[task.NodeID] = true
		}
	}

	if len(nodeSet) == 0 {
		r.finalize(batch)
		return
	}

	r.logger.LogBatchExecution(batch.CanvasID, batch.ID, "recovery", map[string]interface{}{
		"nodes":     len(nodeSet),
		"completed": len(completed),
		"failed":    len(failed),
	})

	// Per-execution API keys are not persisted, so recovered processors
	// fall back to the service-level credentials.
	r.scheduler.markActive(batch.ID)
	defer r.scheduler.markInactive(batch.ID)
	r.scheduler.runBatch(ctx, batch, snapshot, nodeSet, completed, failed, "", ReasonCycleDetectedRecovery)
}

func (r *RecoveryService) finalize(batch models.TaskBatch) {
	if err := r.scheduler.provider.GetBatchStore().FinalizeBatch(batch.ID, time.Now()); err != nil {
		r.logger.Error("failed to finalize batch during recovery",
			logging.F("batch_id", batch.ID),
			logging.F("error", err.Error()))
	}
}
