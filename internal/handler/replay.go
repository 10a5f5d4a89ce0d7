package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fanoutsh/fanout/internal/bus"
)

// ReplayHandler controls historical replay runs.
type ReplayHandler struct {
	bus *bus.Bus
}

// NewReplayHandler creates a new ReplayHandler.
func NewReplayHandler(b *bus.Bus) *ReplayHandler {
	return &ReplayHandler{bus: b}
}

// Start handles POST /replays.
func (h *ReplayHandler) Start(w http.ResponseWriter, r *http.Request) {
	var in bus.ReplayInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return
	}

	info, err := h.bus.StartReplay(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// List handles GET /replays.
func (h *ReplayHandler) List(w http.ResponseWriter, r *http.Request) {
	replays := h.bus.Replays()
	writeJSON(w, http.StatusOK, map[string]any{
		"replays": replays,
		"count":   len(replays),
	})
}

// Get handles GET /replays/{id}.
func (h *ReplayHandler) Get(w http.ResponseWriter, r *http.Request) {
	info, err := h.bus.Replay(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Cancel handles POST /replays/{id}/cancel.
func (h *ReplayHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.bus.CancelReplay(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}
