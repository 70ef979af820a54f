package api

import (
	"encoding/json"
	"net/http"

	"github.com/r3labs/sse/v2"

	"github.com/tcmartin/canvasrunner/pkg/logging"
	"github.com/tcmartin/canvasrunner/pkg/scheduler"
	"github.com/tcmartin/canvasrunner/pkg/storage"
)

// EventHub fans scheduler task transitions out to the streaming transports.
// It implements scheduler.ExecutionObserver; register it with
// scheduler.WithObserver so live executions feed it.
type EventHub struct {
	sse     *sse.Server
	sockets *BatchSocketManager
	logger  logging.Logger
}

// NewEventHub creates an event hub backed by an SSE broker and a WebSocket
// connection manager
func NewEventHub(provider storage.StorageProvider, logger logging.Logger) *EventHub {
	return &EventHub{
		sse:     sse.New(),
		sockets: NewBatchSocketManager(provider, logger),
		logger:  logger,
	}
}

// OnTaskUpdate publishes one task transition to every subscriber of the
// owning batch. Called inline by the scheduler, so it must not block.
func (h *EventHub) OnTaskUpdate(event scheduler.TaskEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode task event", logging.F("error", err.Error()))
		return
	}

	if !h.sse.StreamExists(event.BatchID) {
		h.sse.CreateStream(event.BatchID)
	}
	h.sse.TryPublish(event.BatchID, &sse.Event{
		Event: []byte("task"),
		Data:  payload,
	})

	h.sockets.Broadcast(event)
}

// ServeSSE streams the task events of one batch as server-sent events. The
// broker replays events published before the client connected, so a
// subscriber that arrives mid-batch still sees the full transition history.
func (h *EventHub) ServeSSE(w http.ResponseWriter, r *http.Request, batchID string) {
	if !h.sse.StreamExists(batchID) {
		h.sse.CreateStream(batchID)
	}

	q := r.URL.Query()
	q.Set("stream", batchID)
	r.URL.RawQuery = q.Encode()

	h.sse.ServeHTTP(w, r)
}

// ServeWebSocket upgrades the connection and serves batch subscriptions
func (h *EventHub) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	h.sockets.HandleWebSocket(w, r)
}

// Close shuts down the streaming transports
func (h *EventHub) Close() {
	h.sse.Close()
}
