package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tcmartin/canvasrunner/pkg/models"
)

// PostgreSQLProvider implements the StorageProvider interface using PostgreSQL
type PostgreSQLProvider struct {
	db          *sql.DB
	canvasStore *PostgreSQLCanvasStore
	taskStore   *PostgreSQLTaskStore
	batchStore  *PostgreSQLBatchStore
}

// PostgreSQLProviderConfig contains configuration for the PostgreSQL provider
type PostgreSQLProviderConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewPostgreSQLProvider creates a new PostgreSQL storage provider
func NewPostgreSQLProvider(config PostgreSQLProviderConfig) (*PostgreSQLProvider, error) {
	if config.Port == 0 {
		config.Port = 5432
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	provider := &PostgreSQLProvider{
		db: db,
	}

	provider.canvasStore = NewPostgreSQLCanvasStore(db)
	provider.taskStore = NewPostgreSQLTaskStore(db)
	provider.batchStore = NewPostgreSQLBatchStore(db)

	return provider, nil
}

// Initialize sets up the storage backend
func (p *PostgreSQLProvider) Initialize() error {
	if err := p.canvasStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize canvas store: %w", err)
	}

	if err := p.taskStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize task store: %w", err)
	}

	if err := p.batchStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize batch store: %w", err)
	}

	return nil
}

// Close cleans up resources
func (p *PostgreSQLProvider) Close() error {
	return p.db.Close()
}

// GetCanvasStore returns a store for canvases, nodes, edges and handles
func (p *PostgreSQLProvider) GetCanvasStore() CanvasStore {
	return p.canvasStore
}

// GetTaskStore returns a store for task records
func (p *PostgreSQLProvider) GetTaskStore() TaskStore {
	return p.taskStore
}

// GetBatchStore returns a store for task batches
func (p *PostgreSQLProvider) GetBatchStore() BatchStore {
	return p.batchStore
}

// PostgreSQLCanvasStore implements the CanvasStore interface using PostgreSQL
type PostgreSQLCanvasStore struct {
	db *sql.DB
}

// NewPostgreSQLCanvasStore creates a new PostgreSQL canvas store
func NewPostgreSQLCanvasStore(db *sql.DB) *PostgreSQLCanvasStore {
	return &PostgreSQLCanvasStore{
		db: db,
	}
}

// Initialize creates the PostgreSQL tables if they don't exist
func (s *PostgreSQLCanvasStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS canvases (
			canvas_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS nodes (
			node_id TEXT PRIMARY KEY,
			canvas_id TEXT NOT NULL,
			type TEXT NOT NULL,
			name TEXT,
			config JSONB,
			result JSONB,
			position_x DOUBLE PRECISION NOT NULL DEFAULT 0,
			position_y DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS nodes_canvas_id_idx ON nodes (canvas_id);
		CREATE TABLE IF NOT EXISTS edges (
			edge_id TEXT PRIMARY KEY,
			canvas_id TEXT NOT NULL,
			source_node_id TEXT NOT NULL,
			source_handle_id TEXT,
			target_node_id TEXT NOT NULL,
			target_handle_id TEXT
		);
		CREATE INDEX IF NOT EXISTS edges_canvas_id_idx ON edges (canvas_id);
		CREATE TABLE IF NOT EXISTS handles (
			handle_id TEXT PRIMARY KEY,
			node_id TEXT NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			data_type TEXT
		);
		CREATE INDEX IF NOT EXISTS handles_node_id_idx ON handles (node_id);
	`)

	if err != nil {
		return fmt.Errorf("failed to create canvas tables: %w", err)
	}

	return nil
}

// SaveCanvas persists a canvas
func (s *PostgreSQLCanvasStore) SaveCanvas(canvas models.Canvas) error {
	_, err := s.db.Exec(`
		INSERT INTO canvases (canvas_id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (canvas_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at`,
		canvas.ID, canvas.Name, canvas.Description, canvas.CreatedAt, canvas.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save canvas: %w", err)
	}

	return nil
}

// GetCanvas retrieves a canvas
func (s *PostgreSQLCanvasStore) GetCanvas(canvasID string) (models.Canvas, error) {
	var canvas models.Canvas
	err := s.db.QueryRow(
		"SELECT canvas_id, name, COALESCE(description, ''), created_at, updated_at FROM canvases WHERE canvas_id = $1",
		canvasID,
	).Scan(&canvas.ID, &canvas.Name, &canvas.Description, &canvas.CreatedAt, &canvas.UpdatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return models.Canvas{}, ErrCanvasNotFound
		}
		return models.Canvas{}, fmt.Errorf("failed to get canvas: %w", err)
	}

	return canvas, nil
}

// ListCanvases returns all canvases
func (s *PostgreSQLCanvasStore) ListCanvases() ([]models.Canvas, error) {
	rows, err := s.db.Query(
		"SELECT canvas_id, name, COALESCE(description, ''), created_at, updated_at FROM canvases ORDER BY created_at",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list canvases: %w", err)
	}
	defer rows.Close()

	canvases := make([]models.Canvas, 0)
	for rows.Next() {
		var canvas models.Canvas
		if err := rows.Scan(&canvas.ID, &canvas.Name, &canvas.Description, &canvas.CreatedAt, &canvas.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan canvas row: %w", err)
		}
		canvases = append(canvases, canvas)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating canvas rows: %w", err)
	}

	return canvases, nil
}

// DeleteCanvas removes a canvas and its nodes, edges and handles
func (s *PostgreSQLCanvasStore) DeleteCanvas(canvasID string) error {
	result, err := s.db.Exec("DELETE FROM canvases WHERE canvas_id = $1", canvasID)
	if err != nil {
		return fmt.Errorf("failed to delete canvas: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrCanvasNotFound
	}

	_, err = s.db.Exec(`
		DELETE FROM handles WHERE node_id IN (SELECT node_id FROM nodes WHERE canvas_id = $1);
		DELETE FROM edges WHERE canvas_id = $1;
		DELETE FROM nodes WHERE canvas_id = $1;
	`, canvasID)
	if err != nil {
		return fmt.Errorf("failed to delete canvas contents: %w", err)
	}

	return nil
}

// SaveNode persists a node
func (s *PostgreSQLCanvasStore) SaveNode(node models.Node) error {
	configJSON, err := json.Marshal(node.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal node config: %w", err)
	}
	resultJSON, err := json.Marshal(node.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal node result: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO nodes (node_id, canvas_id, type, name, config, result, position_x, position_y, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (node_id) DO UPDATE SET
			type = EXCLUDED.type,
			name = EXCLUDED.name,
			config = EXCLUDED.config,
			result = EXCLUDED.result,
			position_x = EXCLUDED.position_x,
			position_y = EXCLUDED.position_y,
			updated_at = EXCLUDED.updated_at`,
		node.ID, node.CanvasID, node.Type, node.Name, configJSON, resultJSON,
		node.PositionX, node.PositionY, node.CreatedAt, node.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save node: %w", err)
	}

	return nil
}

// GetNode retrieves a node
func (s *PostgreSQLCanvasStore) GetNode(nodeID string) (models.Node, error) {
	node, err := scanNode(s.db.QueryRow(
		"SELECT node_id, canvas_id, type, COALESCE(name, ''), config, result, position_x, position_y, created_at, updated_at FROM nodes WHERE node_id = $1",
		nodeID,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Node{}, ErrNodeNotFound
		}
		return models.Node{}, fmt.Errorf("failed to get node: %w", err)
	}

	return node, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(row rowScanner) (models.Node, error) {
	var node models.Node
	var configJSON, resultJSON []byte

	err := row.Scan(&node.ID, &node.CanvasID, &node.Type, &node.Name,
		&configJSON, &resultJSON, &node.PositionX, &node.PositionY,
		&node.CreatedAt, &node.UpdatedAt)
	if err != nil {
		return models.Node{}, err
	}

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &node.Config); err != nil {
			return models.Node{}, fmt.Errorf("failed to unmarshal node config: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &node.Result); err != nil {
			return models.Node{}, fmt.Errorf("failed to unmarshal node result: %w", err)
		}
	}

	return node, nil
}

// DeleteNode removes a node
func (s *PostgreSQLCanvasStore) DeleteNode(nodeID string) error {
	result, err := s.db.Exec("DELETE FROM nodes WHERE node_id = $1", nodeID)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNodeNotFound
	}

	_, err = s.db.Exec("DELETE FROM handles WHERE node_id = $1", nodeID)
	if err != nil {
		return fmt.Errorf("failed to delete node handles: %w", err)
	}

	return nil
}

// UpdateNodeResult stores a node's computed result
func (s *PostgreSQLCanvasStore) UpdateNodeResult(nodeID string, nodeResult map[string]interface{}) error {
	resultJSON, err := json.Marshal(nodeResult)
	if err != nil {
		return fmt.Errorf("failed to marshal node result: %w", err)
	}

	result, err := s.db.Exec(
		"UPDATE nodes SET result = $1, updated_at = $2 WHERE node_id = $3",
		resultJSON, time.Now(), nodeID,
	)
	if err != nil {
		return fmt.Errorf("failed to update node result: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNodeNotFound
	}

	return nil
}

// SaveEdge persists an edge
func (s *PostgreSQLCanvasStore) SaveEdge(edge models.Edge) error {
	_, err := s.db.Exec(`
		INSERT INTO edges (edge_id, canvas_id, source_node_id, source_handle_id, target_node_id, target_handle_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (edge_id) DO UPDATE SET
			source_node_id = EXCLUDED.source_node_id,
			source_handle_id = EXCLUDED.source_handle_id,
			target_node_id = EXCLUDED.target_node_id,
			target_handle_id = EXCLUDED.target_handle_id`,
		edge.ID, edge.CanvasID, edge.SourceNodeID, edge.SourceHandleID, edge.TargetNodeID, edge.TargetHandleID,
	)
	if err != nil {
		return fmt.Errorf("failed to save edge: %w", err)
	}

	return nil
}

// SaveHandle persists a handle
func (s *PostgreSQLCanvasStore) SaveHandle(handle models.Handle) error {
	_, err := s.db.Exec(`
		INSERT INTO handles (handle_id, node_id, name, kind, data_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (handle_id) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			data_type = EXCLUDED.data_type`,
		handle.ID, handle.NodeID, handle.Name, handle.Kind, handle.DataType,
	)
	if err != nil {
		return fmt.Errorf("failed to save handle: %w", err)
	}

	return nil
}

// GetSnapshot loads the full canvas graph for one execution
func (s *PostgreSQLCanvasStore) GetSnapshot(canvasID string) (*models.CanvasSnapshot, error) {
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

	nodeRows, err := s.db.Query(
		"SELECT node_id, canvas_id, type, COALESCE(name, ''), config, result, position_x, position_y, created_at, updated_at FROM nodes WHERE canvas_id = $1",
		canvasID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer nodeRows.Close()

	for nodeRows.Next() {
		node, err := scanNode(nodeRows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		nodeCopy := node
		snapshot.Nodes[node.ID] = &nodeCopy
	}
	if err := nodeRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node rows: %w", err)
	}

	edgeRows, err := s.db.Query(
		"SELECT edge_id, canvas_id, source_node_id, COALESCE(source_handle_id, ''), target_node_id, COALESCE(target_handle_id, '') FROM edges WHERE canvas_id = $1",
		canvasID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var edge models.Edge
		if err := edgeRows.Scan(&edge.ID, &edge.CanvasID, &edge.SourceNodeID, &edge.SourceHandleID, &edge.TargetNodeID, &edge.TargetHandleID); err != nil {
			return nil, fmt.Errorf("failed to scan edge row: %w", err)
		}
		snapshot.Edges = append(snapshot.Edges, edge)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edge rows: %w", err)
	}

	handleRows, err := s.db.Query(
		"SELECT h.handle_id, h.node_id, h.name, h.kind, COALESCE(h.data_type, '') FROM handles h JOIN nodes n ON n.node_id = h.node_id WHERE n.canvas_id = $1",
		canvasID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query handles: %w", err)
	}
	defer handleRows.Close()

	for handleRows.Next() {
		var handle models.Handle
		if err := handleRows.Scan(&handle.ID, &handle.NodeID, &handle.Name, &handle.Kind, &handle.DataType); err != nil {
			return nil, fmt.Errorf("failed to scan handle row: %w", err)
		}
		handleCopy := handle
		snapshot.Handles[handle.ID] = &handleCopy
	}
	if err := handleRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating handle rows: %w", err)
	}

	return snapshot, nil
}

// PostgreSQLTaskStore implements the TaskStore interface using PostgreSQL
type PostgreSQLTaskStore struct {
	db *sql.DB
}

// NewPostgreSQLTaskStore creates a new PostgreSQL task store
func NewPostgreSQLTaskStore(db *sql.DB) *PostgreSQLTaskStore {
	return &PostgreSQLTaskStore{
		db: db,
	}
}

// Initialize creates the PostgreSQL tables if they don't exist
func (s *PostgreSQLTaskStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			batch_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (batch_id, node_id)
		);
		CREATE INDEX IF NOT EXISTS tasks_batch_id_idx ON tasks (batch_id);
	`)

	if err != nil {
		return fmt.Errorf("failed to create tasks table: %w", err)
	}

	return nil
}

// SaveTask persists a task record
func (s *PostgreSQLTaskStore) SaveTask(task models.Task) error {
	_, err := s.db.Exec(`
		INSERT INTO tasks (task_id, batch_id, node_id, status, error, started_at, finished_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (batch_id, node_id) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at`,
		task.ID, task.BatchID, task.NodeID, string(task.Status), task.Error,
		task.StartedAt, task.FinishedAt, task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	return nil
}

// GetTask retrieves the task for a (batch, node) pair
func (s *PostgreSQLTaskStore) GetTask(batchID, nodeID string) (models.Task, error) {
	task, err := scanTask(s.db.QueryRow(
		"SELECT task_id, batch_id, node_id, status, COALESCE(error, ''), started_at, finished_at, created_at FROM tasks WHERE batch_id = $1 AND node_id = $2",
		batchID, nodeID,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Task{}, ErrTaskNotFound
		}
		return models.Task{}, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

func scanTask(row rowScanner) (models.Task, error) {
	var task models.Task
	var status string
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(&task.ID, &task.BatchID, &task.NodeID, &status, &task.Error,
		&startedAt, &finishedAt, &task.CreatedAt)
	if err != nil {
		return models.Task{}, err
	}

	task.Status = models.TaskStatus(status)
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		task.FinishedAt = &finishedAt.Time
	}

	return task, nil
}

// ListTasks returns all tasks for a batch
func (s *PostgreSQLTaskStore) ListTasks(batchID string) ([]models.Task, error) {
	rows, err := s.db.Query(
		"SELECT task_id, batch_id, node_id, status, COALESCE(error, ''), started_at, finished_at, created_at FROM tasks WHERE batch_id = $1",
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]models.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

// PostgreSQLBatchStore implements the BatchStore interface using PostgreSQL
type PostgreSQLBatchStore struct {
	db *sql.DB
}

// NewPostgreSQLBatchStore creates a new PostgreSQL batch store
func NewPostgreSQLBatchStore(db *sql.DB) *PostgreSQLBatchStore {
	return &PostgreSQLBatchStore{
		db: db,
	}
}

// Initialize creates the PostgreSQL tables if they don't exist
func (s *PostgreSQLBatchStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS batches (
			batch_id TEXT PRIMARY KEY,
			canvas_id TEXT NOT NULL,
			claimed_by TEXT,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS batches_completed_at_idx ON batches (completed_at) WHERE completed_at IS NULL;
	`)

	if err != nil {
		return fmt.Errorf("failed to create batches table: %w", err)
	}

	return nil
}

// SaveBatch persists a batch
func (s *PostgreSQLBatchStore) SaveBatch(batch models.TaskBatch) error {
	_, err := s.db.Exec(`
		INSERT INTO batches (batch_id, canvas_id, claimed_by, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (batch_id) DO UPDATE SET
			claimed_by = EXCLUDED.claimed_by`,
		batch.ID, batch.CanvasID, batch.ClaimedBy, batch.CreatedAt, batch.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}

	return nil
}

// GetBatch retrieves a batch
func (s *PostgreSQLBatchStore) GetBatch(batchID string) (models.TaskBatch, error) {
	batch, err := scanBatch(s.db.QueryRow(
		"SELECT batch_id, canvas_id, COALESCE(claimed_by, ''), created_at, completed_at FROM batches WHERE batch_id = $1",
		batchID,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return models.TaskBatch{}, ErrBatchNotFound
		}
		return models.TaskBatch{}, fmt.Errorf("failed to get batch: %w", err)
	}

	return batch, nil
}

func scanBatch(row rowScanner) (models.TaskBatch, error) {
	var batch models.TaskBatch
	var completedAt sql.NullTime

	err := row.Scan(&batch.ID, &batch.CanvasID, &batch.ClaimedBy, &batch.CreatedAt, &completedAt)
	if err != nil {
		return models.TaskBatch{}, err
	}

	if completedAt.Valid {
		batch.CompletedAt = &completedAt.Time
	}

	return batch, nil
}

// FinalizeBatch sets the batch completion time if not already set
func (s *PostgreSQLBatchStore) FinalizeBatch(batchID string, completedAt time.Time) error {
	var exists bool
	err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM batches WHERE batch_id = $1)", batchID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if batch exists: %w", err)
	}
	if !exists {
		return ErrBatchNotFound
	}

	_, err = s.db.Exec(
		"UPDATE batches SET completed_at = $1 WHERE batch_id = $2 AND completed_at IS NULL",
		completedAt, batchID,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize batch: %w", err)
	}

	return nil
}

// ClaimBatch compare-and-swaps the batch owner
func (s *PostgreSQLBatchStore) ClaimBatch(batchID, previousOwner, newOwner string) (bool, error) {
	var exists bool
	err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM batches WHERE batch_id = $1)", batchID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check if batch exists: %w", err)
	}
	if !exists {
		return false, ErrBatchNotFound
	}

	result, err := s.db.Exec(
		"UPDATE batches SET claimed_by = $1 WHERE batch_id = $2 AND COALESCE(claimed_by, '') = $3",
		newOwner, batchID, previousOwner,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim batch: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return affected > 0, nil
}

// ListDanglingBatches returns all batches with no completion time
func (s *PostgreSQLBatchStore) ListDanglingBatches() ([]models.TaskBatch, error) {
	rows, err := s.db.Query(
		"SELECT batch_id, canvas_id, COALESCE(claimed_by, ''), created_at, completed_at FROM batches WHERE completed_at IS NULL",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list dangling batches: %w", err)
	}
	defer rows.Close()

	batches := make([]models.TaskBatch, 0)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch row: %w", err)
		}
		batches = append(batches, batch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batch rows: %w", err)
	}

	return batches, nil
}
