package storage

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcmartin/canvasrunner/pkg/models"
)

func newTestRedisProvider(t *testing.T) *RedisProvider {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	provider := NewRedisProvider(RedisProviderConfig{Address: server.Addr()})
	require.NoError(t, provider.Initialize())
	t.Cleanup(func() { _ = provider.Close() })

	return provider
}

func TestRedisCanvasStore(t *testing.T) {
	store := newTestRedisProvider(t).GetCanvasStore()
	now := time.Now()

	require.NoError(t, store.SaveCanvas(models.Canvas{
		ID: "c-1", Name: "Redis Canvas", CreatedAt: now, UpdatedAt: now,
	}))

	canvas, err := store.GetCanvas("c-1")
	require.NoError(t, err)
	assert.Equal(t, "Redis Canvas", canvas.Name)

	_, err = store.GetCanvas("missing")
	assert.ErrorIs(t, err, ErrCanvasNotFound)

	canvases, err := store.ListCanvases()
	require.NoError(t, err)
	assert.Len(t, canvases, 1)

	require.NoError(t, store.SaveNode(models.Node{
		ID: "n-1", CanvasID: "c-1", Type: "text.prompt",
		Config: map[string]interface{}{"text": "hello"},
	}))
	require.NoError(t, store.SaveNode(models.Node{
		ID: "n-2", CanvasID: "c-1", Type: "export.media",
	}))
	require.NoError(t, store.SaveEdge(models.Edge{
		ID: "e-1", CanvasID: "c-1",
		SourceNodeID: "n-1", TargetNodeID: "n-2", TargetHandleID: "h-1",
	}))
	require.NoError(t, store.SaveHandle(models.Handle{
		ID: "h-1", NodeID: "n-2", Name: "media", Kind: models.HandleInput,
	}))

	require.NoError(t, store.UpdateNodeResult("n-1", map[string]interface{}{"text": "hello"}))

	node, err := store.GetNode("n-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", node.Config["text"])
	assert.Equal(t, "hello", node.Result["text"])

	snapshot, err := store.GetSnapshot("c-1")
	require.NoError(t, err)
	assert.Len(t, snapshot.Nodes, 2)
	assert.Len(t, snapshot.Edges, 1)
	assert.Len(t, snapshot.Handles, 1)
	assert.Equal(t, "media", snapshot.Handles["h-1"].Name)

	require.NoError(t, store.DeleteNode("n-1"))
	_, err = store.GetNode("n-1")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	require.NoError(t, store.DeleteCanvas("c-1"))
	_, err = store.GetCanvas("c-1")
	assert.ErrorIs(t, err, ErrCanvasNotFound)

	canvases, err = store.ListCanvases()
	require.NoError(t, err)
	assert.Len(t, canvases, 0)
}

func TestRedisTaskStore(t *testing.T) {
	store := newTestRedisProvider(t).GetTaskStore()
	now := time.Now()

	task := models.Task{
		ID: "t-1", BatchID: "b-1", NodeID: "n-1",
		Status: models.TaskQueued, CreatedAt: now,
	}
	require.NoError(t, store.SaveTask(task))

	// Upsert on the same (batch, node) pair
	task.Status = models.TaskExecuting
	task.StartedAt = &now
	require.NoError(t, store.SaveTask(task))

	loaded, err := store.GetTask("b-1", "n-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskExecuting, loaded.Status)
	assert.NotNil(t, loaded.StartedAt)
	assert.Nil(t, loaded.FinishedAt)

	_, err = store.GetTask("b-1", "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	require.NoError(t, store.SaveTask(models.Task{
		ID: "t-2", BatchID: "b-1", NodeID: "n-2",
		Status: models.TaskQueued, CreatedAt: now,
	}))

	tasks, err := store.ListTasks("b-1")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestRedisBatchStore(t *testing.T) {
	store := newTestRedisProvider(t).GetBatchStore()
	now := time.Now()

	require.NoError(t, store.SaveBatch(models.TaskBatch{
		ID: "b-1", CanvasID: "c-1", ClaimedBy: "instance-a", CreatedAt: now,
	}))

	dangling, err := store.ListDanglingBatches()
	require.NoError(t, err)
	require.Len(t, dangling, 1)
	assert.Equal(t, "b-1", dangling[0].ID)

	ok, err := store.ClaimBatch("b-1", "instance-a", "instance-b")
	require.NoError(t, err)
	assert.True(t, ok)

	// A stale previous owner loses the swap
	ok, err = store.ClaimBatch("b-1", "instance-a", "instance-c")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.ClaimBatch("missing", "", "instance-a")
	assert.ErrorIs(t, err, ErrBatchNotFound)

	require.NoError(t, store.FinalizeBatch("b-1", now))
	// Finalizing again leaves the original completion time untouched
	require.NoError(t, store.FinalizeBatch("b-1", now.Add(time.Hour)))

	batch, err := store.GetBatch("b-1")
	require.NoError(t, err)
	require.NotNil(t, batch.CompletedAt)
	assert.Equal(t, now.Unix(), batch.CompletedAt.Unix())
	assert.Equal(t, "instance-b", batch.ClaimedBy)

	dangling, err = store.ListDanglingBatches()
	require.NoError(t, err)
	assert.Len(t, dangling, 0)

	assert.ErrorIs(t, store.FinalizeBatch("missing", now), ErrBatchNotFound)
}
