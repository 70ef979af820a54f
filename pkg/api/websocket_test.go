package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/canvasrunner/pkg/models"
	"github.com/tcmartin/canvasrunner/pkg/scheduler"
)

func dialWebSocket(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readUpdate(t *testing.T, conn *websocket.Conn) SocketUpdate {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var update SocketUpdate
	require.NoError(t, conn.ReadJSON(&update))
	return update
}

func TestWebSocketSubscribeReceivesSnapshot(t *testing.T) {
	server, _ := newTestServer(t)
	importTestCanvas(t, server, "c-api")
	batch := executeAndWait(t, server, "c-api", []string{"b"})

	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	conn := dialWebSocket(t, ts)
	require.NoError(t, conn.WriteJSON(SocketMessage{Type: "subscribe", BatchID: batch.ID}))

	update := readUpdate(t, conn)
	assert.Equal(t, "subscribed", update.Type)
	assert.Equal(t, batch.ID, update.BatchID)
	require.Len(t, update.Tasks, 2)
	for _, task := range update.Tasks {
		assert.Equal(t, models.TaskCompleted, task.Status)
	}
}

func TestWebSocketSubscribeUnknownBatch(t *testing.T) {
	server, _ := newTestServer(t)

	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	conn := dialWebSocket(t, ts)
	require.NoError(t, conn.WriteJSON(SocketMessage{Type: "subscribe", BatchID: "ghost"}))

	update := readUpdate(t, conn)
	assert.Equal(t, "error", update.Type)
	assert.Equal(t, "Batch not found", update.Message)
}

func TestWebSocketPing(t *testing.T) {
	server, _ := newTestServer(t)

	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	conn := dialWebSocket(t, ts)
	require.NoError(t, conn.WriteJSON(SocketMessage{Type: "ping"}))

	update := readUpdate(t, conn)
	assert.Equal(t, "pong", update.Type)
}

func TestWebSocketReceivesLiveTaskEvents(t *testing.T) {
	server, _ := newTestServer(t)
	importTestCanvas(t, server, "c-api")
	batch := executeAndWait(t, server, "c-api", []string{"b"})

	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	conn := dialWebSocket(t, ts)
	require.NoError(t, conn.WriteJSON(SocketMessage{Type: "subscribe", BatchID: batch.ID}))
	readUpdate(t, conn) // subscription snapshot

	// Broadcast through the hub the way the scheduler does
	server.hub.OnTaskUpdate(scheduler.TaskEvent{
		BatchID:   batch.ID,
		CanvasID:  "c-api",
		NodeID:    "b",
		Status:    models.TaskCompleted,
		Timestamp: time.Now(),
	})

	update := readUpdate(t, conn)
	assert.Equal(t, "task", update.Type)
	require.NotNil(t, update.Event)
	assert.Equal(t, "b", update.Event.NodeID)
	assert.Equal(t, models.TaskCompleted, update.Event.Status)
}
