package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tcmartin/canvasrunner/pkg/logging"
	"github.com/tcmartin/canvasrunner/pkg/models"
	"github.com/tcmartin/canvasrunner/pkg/scheduler"
	"github.com/tcmartin/canvasrunner/pkg/storage"
)

// BatchSocketManager manages WebSocket connections for real-time batch
// updates. A single connection can subscribe to any number of batches.
type BatchSocketManager struct {
	// upgrader for upgrading HTTP connections to WebSocket
	upgrader websocket.Upgrader

	// connections maps batch IDs to sets of WebSocket connections
	connections map[string]map[*websocket.Conn]bool

	// connectionMeta stores metadata for each connection
	connectionMeta map[*websocket.Conn]*connectionMetadata

	// mutex for thread-safe access
	mu sync.RWMutex

	// provider for verifying batches and reading task snapshots
	provider storage.StorageProvider

	logger logging.Logger
}

// connectionMetadata stores metadata about a WebSocket connection
type connectionMetadata struct {
	ConnectedAt   time.Time
	LastPingAt    time.Time
	Subscriptions map[string]bool // batch IDs this connection is subscribed to
}

// SocketUpdate is an outbound message to a WebSocket client
type SocketUpdate struct {
	// Type is "task", "subscribed", "error" or "pong"
	Type string `json:"type"`

	// BatchID the update refers to
	BatchID string `json:"batch_id,omitempty"`

	// Message carries error text
	Message string `json:"message,omitempty"`

	// Event is the task transition for "task" updates
	Event *scheduler.TaskEvent `json:"event,omitempty"`

	// Tasks is the current task snapshot sent on subscription
	Tasks []models.Task `json:"tasks,omitempty"`

	// Timestamp of the update
	Timestamp time.Time `json:"timestamp"`
}

// SocketMessage represents incoming WebSocket messages
type SocketMessage struct {
	// Type is "subscribe", "unsubscribe" or "ping"
	Type string `json:"type"`

	// BatchID to subscribe to or unsubscribe from
	BatchID string `json:"batch_id,omitempty"`
}

// NewBatchSocketManager creates a new WebSocket connection manager
func NewBatchSocketManager(provider storage.StorageProvider, logger logging.Logger) *BatchSocketManager {
	return &BatchSocketManager{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from any origin for now
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections:    make(map[string]map[*websocket.Conn]bool),
		connectionMeta: make(map[*websocket.Conn]*connectionMetadata),
		provider:       provider,
		logger:         logger,
	}
}

// HandleWebSocket handles WebSocket connection upgrade and management
func (m *BatchSocketManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade failed", logging.F("error", err.Error()))
		return
	}
	defer conn.Close()

	m.mu.Lock()
	m.connectionMeta[conn] = &connectionMetadata{
		ConnectedAt:   time.Now(),
		LastPingAt:    time.Now(),
		Subscriptions: make(map[string]bool),
	}
	m.mu.Unlock()

	defer m.removeConnection(conn)

	conn.SetPongHandler(func(string) error {
		m.mu.Lock()
		if meta, exists := m.connectionMeta[conn]; exists {
			meta.LastPingAt = time.Now()
		}
		m.mu.Unlock()
		return nil
	})

	go m.pingRoutine(conn)

	for {
		var msg SocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Warn("websocket read error", logging.F("error", err.Error()))
			}
			break
		}

		m.handleMessage(conn, &msg)
	}
}

// handleMessage processes incoming WebSocket messages
func (m *BatchSocketManager) handleMessage(conn *websocket.Conn, msg *SocketMessage) {
	switch msg.Type {
	case "subscribe":
		if msg.BatchID != "" {
			m.subscribeToBatch(conn, msg.BatchID)
		}
	case "unsubscribe":
		if msg.BatchID != "" {
			m.unsubscribeFromBatch(conn, msg.BatchID)
		}
	case "ping":
		m.sendUpdate(conn, SocketUpdate{
			Type:      "pong",
			Timestamp: time.Now(),
		})
	default:
		m.logger.Warn("unknown websocket message type", logging.F("type", msg.Type))
	}
}

// subscribeToBatch subscribes a connection to one batch's task updates and
// sends the current task snapshot so the client starts from known state
func (m *BatchSocketManager) subscribeToBatch(conn *websocket.Conn, batchID string) {
	if _, err := m.provider.GetBatchStore().GetBatch(batchID); err != nil {
		m.sendUpdate(conn, SocketUpdate{
			Type:      "error",
			BatchID:   batchID,
			Message:   "Batch not found",
			Timestamp: time.Now(),
		})
		return
	}

	tasks, err := m.provider.GetTaskStore().ListTasks(batchID)
	if err != nil {
		m.logger.Error("failed to load task snapshot",
			logging.F("batch_id", batchID),
			logging.F("error", err.Error()))
	}

	m.mu.Lock()
	if m.connections[batchID] == nil {
		m.connections[batchID] = make(map[*websocket.Conn]bool)
	}
	m.connections[batchID][conn] = true
	if meta, exists := m.connectionMeta[conn]; exists {
		meta.Subscriptions[batchID] = true
	}
	m.mu.Unlock()

	m.sendUpdate(conn, SocketUpdate{
		Type:      "subscribed",
		BatchID:   batchID,
		Tasks:     tasks,
		Timestamp: time.Now(),
	})
}

// unsubscribeFromBatch unsubscribes a connection from one batch
func (m *BatchSocketManager) unsubscribeFromBatch(conn *websocket.Conn, batchID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if batchConns, exists := m.connections[batchID]; exists {
		delete(batchConns, conn)
		if len(batchConns) == 0 {
			delete(m.connections, batchID)
		}
	}

	if meta, exists := m.connectionMeta[conn]; exists {
		delete(meta.Subscriptions, batchID)
	}
}

// Broadcast sends a task transition to every connection subscribed to the
// owning batch
func (m *BatchSocketManager) Broadcast(event scheduler.TaskEvent) {
	m.mu.RLock()
	batchConns, exists := m.connections[event.BatchID]
	if !exists {
		m.mu.RUnlock()
		return
	}

	// Copy connections so the lock is not held while sending
	connsCopy := make([]*websocket.Conn, 0, len(batchConns))
	for conn := range batchConns {
		connsCopy = append(connsCopy, conn)
	}
	m.mu.RUnlock()

	update := SocketUpdate{
		Type:      "task",
		BatchID:   event.BatchID,
		Event:     &event,
		Timestamp: event.Timestamp,
	}
	for _, conn := range connsCopy {
		m.sendUpdate(conn, update)
	}
}

// sendUpdate sends a message to a WebSocket connection
func (m *BatchSocketManager) sendUpdate(conn *websocket.Conn, update SocketUpdate) {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

	if err := conn.WriteJSON(update); err != nil {
		m.logger.Warn("failed to send websocket message", logging.F("error", err.Error()))
		m.removeConnection(conn)
	}
}

// removeConnection removes a connection from all subscriptions
func (m *BatchSocketManager) removeConnection(conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if meta, exists := m.connectionMeta[conn]; exists {
		for batchID := range meta.Subscriptions {
			if batchConns, exists := m.connections[batchID]; exists {
				delete(batchConns, conn)
				if len(batchConns) == 0 {
					delete(m.connections, batchID)
				}
			}
		}
	}

	delete(m.connectionMeta, conn)
	conn.Close()
}

// pingRoutine sends periodic ping messages to keep the connection alive
func (m *BatchSocketManager) pingRoutine(conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			m.removeConnection(conn)
			return
		}

		m.mu.RLock()
		_, alive := m.connectionMeta[conn]
		m.mu.RUnlock()
		if !alive {
			return
		}
	}
}

// ConnectedClients returns the number of connected clients
func (m *BatchSocketManager) ConnectedClients() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connectionMeta)
}

// BatchSubscribers returns the number of subscribers for a batch
func (m *BatchSocketManager) BatchSubscribers(batchID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if batchConns, exists := m.connections[batchID]; exists {
		return len(batchConns)
	}
	return 0
}
