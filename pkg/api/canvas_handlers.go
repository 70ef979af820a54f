package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/tcmartin/canvasrunner/pkg/logging"
	"github.com/tcmartin/canvasrunner/pkg/storage"
)

// handleListCanvases returns all stored canvases
func (s *Server) handleListCanvases(w http.ResponseWriter, r *http.Request) {
	canvases, err := s.provider.GetCanvasStore().ListCanvases()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list canvases: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"canvases": canvases,
		"count":    len(canvases),
	})
}

// handleCreateCanvas imports a YAML canvas definition
func (s *Server) handleCreateCanvas(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   string `json:"id,omitempty"`
		YAML string `json:"yaml"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.YAML == "" {
		http.Error(w, "Canvas YAML is required", http.StatusBadRequest)
		return
	}

	canvasID := req.ID
	if canvasID == "" {
		canvasID = uuid.New().String()
	}

	canvas, err := s.loader.Import(s.provider.GetCanvasStore(), canvasID, req.YAML)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to import canvas: %v", err), http.StatusBadRequest)
		return
	}

	s.logger.Info("canvas imported",
		logging.F("canvas_id", canvas.ID),
		logging.F("name", canvas.Name))

	writeJSON(w, http.StatusCreated, canvas)
}

// handleGetCanvas returns a canvas with its full node graph
func (s *Server) handleGetCanvas(w http.ResponseWriter, r *http.Request) {
	canvasID := mux.Vars(r)["id"]

	snapshot, err := s.provider.GetCanvasStore().GetSnapshot(canvasID)
	if err != nil {
		if errors.Is(err, storage.ErrCanvasNotFound) {
			http.Error(w, "Canvas not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to get canvas: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// handleDeleteCanvas removes a canvas and its nodes, edges and handles
func (s *Server) handleDeleteCanvas(w http.ResponseWriter, r *http.Request) {
	canvasID := mux.Vars(r)["id"]

	if err := s.provider.GetCanvasStore().DeleteCanvas(canvasID); err != nil {
		if errors.Is(err, storage.ErrCanvasNotFound) {
			http.Error(w, "Canvas not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to delete canvas: %v", err), http.StatusInternalServerError)
		return
	}

	s.logger.Info("canvas deleted", logging.F("canvas_id", canvasID))

	w.WriteHeader(http.StatusNoContent)
}
