package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcmartin/canvasrunner/pkg/logging"
	"github.com/tcmartin/canvasrunner/pkg/models"
)

func (env *testEnv) addDanglingBatch(t *testing.T, batchID, canvasID, claimedBy string) {
	t.Helper()
	require.NoError(t, env.provider.GetBatchStore().SaveBatch(models.TaskBatch{
		ID: batchID, CanvasID: canvasID, ClaimedBy: claimedBy, CreatedAt: time.Now(),
	}))
}

func (env *testEnv) addTask(t *testing.T, batchID, nodeID string, status models.TaskStatus) {
	t.Helper()
	task := models.Task{
		ID: batchID + "/" + nodeID, BatchID: batchID, NodeID: nodeID,
		Status: status, CreatedAt: time.Now(),
	}
	if status != models.TaskQueued {
		now := time.Now()
		task.StartedAt = &now
	}
	if status.IsTerminal() {
		now := time.Now()
		task.FinishedAt = &now
	}
	require.NoError(t, env.provider.GetTaskStore().SaveTask(task))
}

// Scenario D: a batch interrupted mid-flight resumes where it left off.
// Completed work stays untouched, the task caught executing is
// re-dispatched, and queued downstream work then runs.
func TestRecoveryResumesInterruptedBatch(t *testing.T) {
	env := newTestEnv(t)
	env.addCanvas(t, "c-1")
	env.addNode(t, "c-1", "t1", "stub", nil)
	env.addNode(t, "c-1", "i1", "stub", nil)
	env.addNode(t, "c-1", "e1", "stub", nil)
	env.addEdge(t, "c-1", "t1", "i1")
	env.addEdge(t, "c-1", "i1", "e1")

	// State left behind by a crashed instance
	require.NoError(t, env.provider.GetCanvasStore().UpdateNodeResult("t1",
		map[string]interface{}{"text": "done before crash"}))
	env.addDanglingBatch(t, "b-crashed", "c-1", "dead-instance")
	env.addTask(t, "b-crashed", "t1", models.TaskCompleted)
	env.addTask(t, "b-crashed", "i1", models.TaskExecuting)
	env.addTask(t, "b-crashed", "e1", models.TaskQueued)

	recovery := NewRecoveryService(env.scheduler, logging.NewNopLogger())
	require.NoError(t, recovery.RecoverDanglingBatches(context.Background()))

	assert.Equal(t, models.TaskCompleted, env.taskStatus(t, "b-crashed", "t1").Status)
	assert.Equal(t, models.TaskCompleted, env.taskStatus(t, "b-crashed", "i1").Status)
	assert.Equal(t, models.TaskCompleted, env.taskStatus(t, "b-crashed", "e1").Status)

	// The finished node was not re-executed
	assert.Equal(t, 0, env.recorder.count("t1"))
	assert.Equal(t, 1, env.recorder.count("i1"))
	assert.Equal(t, 1, env.recorder.count("e1"))
	assert.Less(t, env.recorder.position("i1"), env.recorder.position("e1"))

	batch, err := env.provider.GetBatchStore().GetBatch("b-crashed")
	require.NoError(t, err)
	assert.NotNil(t, batch.CompletedAt)
	assert.Equal(t, "test-instance", batch.ClaimedBy)
}

// Failed upstream work stays failed across recovery and still blocks
// its dependents.
func TestRecoveryPreservesFailedTasks(t *testing.T) {
	env := newTestEnv(t)
	env.addCanvas(t, "c-1")
	env.addNode(t, "c-1", "t1", "stub", nil)
	env.addNode(t, "c-1", "e1", "stub", nil)
	env.addEdge(t, "c-1", "t1", "e1")

	env.addDanglingBatch(t, "b-1", "c-1", "dead-instance")
	env.addTask(t, "b-1", "t1", models.TaskFailed)
	env.addTask(t, "b-1", "e1", models.TaskQueued)

	recovery := NewRecoveryService(env.scheduler, logging.NewNopLogger())
	require.NoError(t, recovery.RecoverDanglingBatches(context.Background()))

	assert.Equal(t, models.TaskFailed, env.taskStatus(t, "b-1", "t1").Status)

	blocked := env.taskStatus(t, "b-1", "e1")
	assert.Equal(t, models.TaskFailed, blocked.Status)
	assert.Equal(t, ReasonUpstreamFailed, blocked.Error)
	assert.Equal(t, 0, env.recorder.count("t1"))
	assert.Equal(t, 0, env.recorder.count("e1"))
}

// Running the sweep again after everything converged is a no-op.
func TestRecoveryIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.addCanvas(t, "c-1")
	env.addNode(t, "c-1", "t1", "stub", nil)

	env.addDanglingBatch(t, "b-1", "c-1", "dead-instance")
	env.addTask(t, "b-1", "t1", models.TaskQueued)

	recovery := NewRecoveryService(env.scheduler, logging.NewNopLogger())
	require.NoError(t, recovery.RecoverDanglingBatches(context.Background()))
	require.NoError(t, recovery.RecoverDanglingBatches(context.Background()))

	assert.Equal(t, 1, env.recorder.count("t1"))
	assert.Equal(t, models.TaskCompleted, env.taskStatus(t, "b-1", "t1").Status)
}

// A cycle discovered during recovery fails the surviving tasks with a
// recovery-specific reason instead of hanging the sweep.
func TestRecoveryDetectsCycle(t *testing.T) {
	env := newTestEnv(t)
	env.addCanvas(t, "c-1")
	env.addNode(t, "c-1", "a", "stub", nil)
	env.addNode(t, "c-1", "b", "stub", nil)
	env.addEdge(t, "c-1", "a", "b")
	env.addEdge(t, "c-1", "b", "a")

	env.addDanglingBatch(t, "b-1", "c-1", "dead-instance")
	env.addTask(t, "b-1", "a", models.TaskQueued)
	env.addTask(t, "b-1", "b", models.TaskQueued)

	recovery := NewRecoveryService(env.scheduler, logging.NewNopLogger())
	require.NoError(t, recovery.RecoverDanglingBatches(context.Background()))

	for _, nodeID := range []string{"a", "b"} {
		task := env.taskStatus(t, "b-1", nodeID)
		assert.Equal(t, models.TaskFailed, task.Status)
		assert.Equal(t, ReasonCycleDetectedRecovery, task.Error)
	}

	batch, err := env.provider.GetBatchStore().GetBatch("b-1")
	require.NoError(t, err)
	assert.NotNil(t, batch.CompletedAt)
}

// A batch whose canvas was deleted is finalized rather than retried forever.
func TestRecoveryFinalizesBatchWithDeletedCanvas(t *testing.T) {
	env := newTestEnv(t)
	env.addDanglingBatch(t, "b-orphan", "no-such-canvas", "dead-instance")
	env.addTask(t, "b-orphan", "t1", models.TaskQueued)

	recovery := NewRecoveryService(env.scheduler, logging.NewNopLogger())
	require.NoError(t, recovery.RecoverDanglingBatches(context.Background()))

	batch, err := env.provider.GetBatchStore().GetBatch("b-orphan")
	require.NoError(t, err)
	assert.NotNil(t, batch.CompletedAt)
}

// Tasks for nodes deleted from the canvas are discarded; the rest of the
// batch still converges.
func TestRecoveryDiscardsTasksForDeletedNodes(t *testing.T) {
	env := newTestEnv(t)
	env.addCanvas(t, "c-1")
	env.addNode(t, "c-1", "t1", "stub", nil)

	env.addDanglingBatch(t, "b-1", "c-1", "dead-instance")
	env.addTask(t, "b-1", "t1", models.TaskQueued)
	env.addTask(t, "b-1", "ghost", models.TaskQueued)

	recovery := NewRecoveryService(env.scheduler, logging.NewNopLogger())
	require.NoError(t, recovery.RecoverDanglingBatches(context.Background()))

	assert.Equal(t, models.TaskCompleted, env.taskStatus(t, "b-1", "t1").Status)
	assert.Equal(t, 0, env.recorder.count("ghost"))

	batch, err := env.provider.GetBatchStore().GetBatch("b-1")
	require.NoError(t, err)
	assert.NotNil(t, batch.CompletedAt)
}

// A batch already taken over by another instance is skipped.
func TestRecoverySkipsBatchClaimedElsewhere(t *testing.T) {
	env := newTestEnv(t)
	env.addCanvas(t, "c-1")
	env.addNode(t, "c-1", "t1", "stub", nil)

	env.addDanglingBatch(t, "b-1", "c-1", "dead-instance")
	env.addTask(t, "b-1", "t1", models.TaskQueued)

	// Another sweep wins the claim between our listing and our swap
	claimed, err := env.provider.GetBatchStore().ClaimBatch("b-1", "dead-instance", "rival-instance")
	require.NoError(t, err)
	require.True(t, claimed)

	recovery := NewRecoveryService(env.scheduler, logging.NewNopLogger())

	// Make the sweep observe the stale owner, as if it listed before the rival claimed
	danglingBatch := models.TaskBatch{ID: "b-1", CanvasID: "c-1", ClaimedBy: "dead-instance"}
	recovery.recoverBatch(context.Background(), danglingBatch)

	assert.Equal(t, models.TaskQueued, env.taskStatus(t, "b-1", "t1").Status)
	assert.Equal(t, 0, env.recorder.count("t1"))
}

// A failure in one batch never blocks recovery of the others.
func TestRecoveryIsolatesBatchFailures(t *testing.T) {
	env := newTestEnv(t)
	env.addCanvas(t, "c-1")
	env.addNode(t, "c-1", "good", "stub", nil)

	env.addDanglingBatch(t, "b-orphan", "no-such-canvas", "dead-instance")
	env.addTask(t, "b-orphan", "x", models.TaskQueued)
	env.addDanglingBatch(t, "b-good", "c-1", "dead-instance")
	env.addTask(t, "b-good", "good", models.TaskQueued)

	recovery := NewRecoveryService(env.scheduler, logging.NewNopLogger())
	require.NoError(t, recovery.RecoverDanglingBatches(context.Background()))

	assert.Equal(t, models.TaskCompleted, env.taskStatus(t, "b-good", "good").Status)
}
