package storage

import (
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcmartin/canvasrunner/pkg/models"
)

func init() {
	// Load .env file from project root
	_ = godotenv.Load("../../.env")
}

// TestPostgreSQLProvider exercises the PostgreSQL provider end to end.
// Note: This test requires a PostgreSQL instance
// It will be skipped if the required environment variables are not set
func TestPostgreSQLProvider(t *testing.T) {
	host := os.Getenv("POSTGRES_HOST")
	user := os.Getenv("POSTGRES_USER")
	password := os.Getenv("POSTGRES_PASSWORD")
	dbName := os.Getenv("POSTGRES_DB")

	if host == "" || user == "" || password == "" || dbName == "" {
		t.Skip("Skipping PostgreSQL tests as credentials are not set")
	}

	config := PostgreSQLProviderConfig{
		Host:     host,
		Port:     5432,
		User:     user,
		Password: password,
		Database: dbName,
		SSLMode:  "disable",
	}

	provider, err := NewPostgreSQLProvider(config)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL provider: %v", err)
	}
	defer provider.Close()

	err = provider.Initialize()
	require.NoError(t, err)

	// Clean up any previous test data
	canvasID := "test-canvas-pg"
	_, err = provider.db.Exec("DELETE FROM tasks WHERE batch_id IN (SELECT batch_id FROM batches WHERE canvas_id = $1)", canvasID)
	assert.NoError(t, err)
	_, err = provider.db.Exec("DELETE FROM batches WHERE canvas_id = $1", canvasID)
	assert.NoError(t, err)
	_, err = provider.db.Exec("DELETE FROM handles WHERE node_id IN (SELECT node_id FROM nodes WHERE canvas_id = $1)", canvasID)
	assert.NoError(t, err)
	_, err = provider.db.Exec("DELETE FROM edges WHERE canvas_id = $1", canvasID)
	assert.NoError(t, err)
	_, err = provider.db.Exec("DELETE FROM nodes WHERE canvas_id = $1", canvasID)
	assert.NoError(t, err)
	_, err = provider.db.Exec("DELETE FROM canvases WHERE canvas_id = $1", canvasID)
	assert.NoError(t, err)

	assert.NotNil(t, provider.GetCanvasStore())
	assert.NotNil(t, provider.GetTaskStore())
	assert.NotNil(t, provider.GetBatchStore())

	testPostgreSQLCanvasStore(t, provider, canvasID)
	testPostgreSQLTaskStore(t, provider, canvasID)
	testPostgreSQLBatchStore(t, provider, canvasID)
}

func testPostgreSQLCanvasStore(t *testing.T, provider *PostgreSQLProvider, canvasID string) {
	store := provider.GetCanvasStore()
	now := time.Now().UTC().Truncate(time.Second)

	err := store.SaveCanvas(models.Canvas{
		ID: canvasID, Name: "PG Canvas", Description: "integration test",
		CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	canvas, err := store.GetCanvas(canvasID)
	require.NoError(t, err)
	assert.Equal(t, "PG Canvas", canvas.Name)

	_, err = store.GetCanvas("no-such-canvas")
	assert.ErrorIs(t, err, ErrCanvasNotFound)

	err = store.SaveNode(models.Node{
		ID: "pg-n1", CanvasID: canvasID, Type: "text.prompt",
		Config:    map[string]interface{}{"text": "hello"},
		CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	err = store.SaveNode(models.Node{
		ID: "pg-n2", CanvasID: canvasID, Type: "export.media",
		CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	err = store.SaveEdge(models.Edge{
		ID: "pg-e1", CanvasID: canvasID,
		SourceNodeID: "pg-n1", TargetNodeID: "pg-n2", TargetHandleID: "pg-h1",
	})
	require.NoError(t, err)

	err = store.SaveHandle(models.Handle{
		ID: "pg-h1", NodeID: "pg-n2", Name: "media", Kind: models.HandleInput,
	})
	require.NoError(t, err)

	err = store.UpdateNodeResult("pg-n1", map[string]interface{}{"text": "hello"})
	require.NoError(t, err)

	node, err := store.GetNode("pg-n1")
	require.NoError(t, err)
	assert.Equal(t, "hello", node.Config["text"])
	assert.Equal(t, "hello", node.Result["text"])

	snapshot, err := store.GetSnapshot(canvasID)
	require.NoError(t, err)
	assert.Len(t, snapshot.Nodes, 2)
	assert.Len(t, snapshot.Edges, 1)
	assert.Len(t, snapshot.Handles, 1)
	assert.Equal(t, "media", snapshot.Handles["pg-h1"].Name)
}

func testPostgreSQLTaskStore(t *testing.T, provider *PostgreSQLProvider, canvasID string) {
	store := provider.GetTaskStore()
	now := time.Now().UTC().Truncate(time.Second)

	task := models.Task{
		ID: "pg-t1", BatchID: "pg-b1", NodeID: "pg-n1",
		Status: models.TaskQueued, CreatedAt: now,
	}
	require.NoError(t, store.SaveTask(task))

	// Upsert on the same (batch, node) pair
	task.Status = models.TaskExecuting
	task.StartedAt = &now
	require.NoError(t, store.SaveTask(task))

	loaded, err := store.GetTask("pg-b1", "pg-n1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskExecuting, loaded.Status)
	require.NotNil(t, loaded.StartedAt)
	assert.Nil(t, loaded.FinishedAt)

	_, err = store.GetTask("pg-b1", "no-such-node")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	tasks, err := store.ListTasks("pg-b1")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func testPostgreSQLBatchStore(t *testing.T, provider *PostgreSQLProvider, canvasID string) {
	store := provider.GetBatchStore()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.SaveBatch(models.TaskBatch{
		ID: "pg-b1", CanvasID: canvasID, ClaimedBy: "pg-instance", CreatedAt: now,
	}))

	dangling, err := store.ListDanglingBatches()
	require.NoError(t, err)
	found := false
	for _, batch := range dangling {
		if batch.ID == "pg-b1" {
			found = true
		}
	}
	assert.True(t, found)

	ok, err := store.ClaimBatch("pg-b1", "pg-instance", "pg-instance-2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ClaimBatch("pg-b1", "pg-instance", "pg-instance-3")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.FinalizeBatch("pg-b1", now))
	// Finalizing again leaves the original completion time untouched
	require.NoError(t, store.FinalizeBatch("pg-b1", now.Add(time.Hour)))

	batch, err := store.GetBatch("pg-b1")
	require.NoError(t, err)
	require.NotNil(t, batch.CompletedAt)
	assert.True(t, batch.CompletedAt.Equal(now))
	assert.Equal(t, "pg-instance-2", batch.ClaimedBy)
}
