package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tcmartin/canvasrunner/pkg/models"
	"github.com/tcmartin/canvasrunner/pkg/storage"
)

// handleExecuteCanvas triggers a batch for the requested target nodes. The
// batch is created synchronously and driven in the background; callers
// follow progress through the batch endpoints or the streaming transports.
func (s *Server) handleExecuteCanvas(w http.ResponseWriter, r *http.Request) {
	canvasID := mux.Vars(r)["id"]

	var req struct {
		Targets []string `json:"targets"`
		APIKey  string   `json:"api_key,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// The batch outlives the request, so it must not inherit the request
	// context.
	batch, err := s.scheduler.StartBatchAsync(context.Background(), canvasID, req.Targets, req.APIKey)
	if err != nil {
		if errors.Is(err, storage.ErrCanvasNotFound) {
			http.Error(w, "Canvas not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to start batch: %v", err), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusAccepted, batch)
}

// handleGetBatch returns a batch with per-status task counts
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["id"]

	batch, err := s.provider.GetBatchStore().GetBatch(batchID)
	if err != nil {
		if errors.Is(err, storage.ErrBatchNotFound) {
			http.Error(w, "Batch not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to get batch: %v", err), http.StatusInternalServerError)
		return
	}

	tasks, err := s.provider.GetTaskStore().ListTasks(batchID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list tasks: %v", err), http.StatusInternalServerError)
		return
	}

	counts := make(map[models.TaskStatus]int)
	for _, task := range tasks {
		counts[task.Status]++
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batch":       batch,
		"task_counts": counts,
		"done":        !batch.IsDangling(),
	})
}

// handleListBatchTasks returns all task records for a batch
func (s *Server) handleListBatchTasks(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["id"]

	if _, err := s.provider.GetBatchStore().GetBatch(batchID); err != nil {
		if errors.Is(err, storage.ErrBatchNotFound) {
			http.Error(w, "Batch not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to get batch: %v", err), http.StatusInternalServerError)
		return
	}

	tasks, err := s.provider.GetTaskStore().ListTasks(batchID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list tasks: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// handleBatchEvents streams task transitions for one batch over SSE
func (s *Server) handleBatchEvents(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["id"]

	if _, err := s.provider.GetBatchStore().GetBatch(batchID); err != nil {
		if errors.Is(err, storage.ErrBatchNotFound) {
			http.Error(w, "Batch not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to get batch: %v", err), http.StatusInternalServerError)
		return
	}

	s.hub.ServeSSE(w, r, batchID)
}
