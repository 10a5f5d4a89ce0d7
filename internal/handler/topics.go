package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fanoutsh/fanout/internal/bus"
	"github.com/fanoutsh/fanout/internal/domain"
	"github.com/fanoutsh/fanout/internal/store"
)

// TopicsHandler exposes the topic registry.
type TopicsHandler struct {
	bus *bus.Bus
}

// NewTopicsHandler creates a new TopicsHandler.
func NewTopicsHandler(b *bus.Bus) *TopicsHandler {
	return &TopicsHandler{bus: b}
}

// List handles GET /topics.
func (h *TopicsHandler) List(w http.ResponseWriter, r *http.Request) {
	topics := h.bus.Topics()
	writeJSON(w, http.StatusOK, map[string]any{
		"topics": topics,
		"count":  len(topics),
	})
}

// Register handles POST /topics. Registering an existing topic returns
// 409.
func (h *TopicsHandler) Register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name   string          `json:"name"`
		Schema json.RawMessage `json:"schema,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return
	}

	if err := h.bus.RegisterTopic(body.Name, body.Schema); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": body.Name})
}

// Events handles GET /topics/{topic}/events. Topic names contain
// slashes, so the route is registered as a catch-all and the "/events"
// suffix is stripped here.
func (h *TopicsHandler) Events(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	topic, ok := strings.CutSuffix(path, "/events")
	if !ok || topic == "" {
		writeError(w, domain.NotFoundf("unknown route"))
		return
	}

	q := store.EventQuery{Topic: topic, Limit: 100}
	if v := r.URL.Query().Get("limit"); v != "" {
		q.Limit, _ = strconv.Atoi(v)
	}

	events, total, err := h.bus.QueryEvents(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topic":  topic,
		"events": events,
		"total":  total,
		"count":  len(events),
	})
}
