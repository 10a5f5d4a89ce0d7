package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fanoutsh/fanout/internal/bus"
	"github.com/fanoutsh/fanout/internal/domain"
	"github.com/fanoutsh/fanout/internal/store"
)

const maxPayloadSize = 256 * 1024 // 256KB

// EventsHandler handles event publishing and history queries.
type EventsHandler struct {
	bus *bus.Bus
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(b *bus.Bus) *EventsHandler {
	return &EventsHandler{bus: b}
}

// Publish handles POST /events.
func (h *EventsHandler) Publish(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadSize)

	var in bus.PublishInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		if strings.Contains(err.Error(), "http: request body too large") {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
				Error: "payload too large, max 256KB",
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return
	}

	res, err := h.bus.Publish(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("event published",
		"event_id", res.EventID,
		"topic", in.Topic,
		"matched", res.Matched,
	)
	writeJSON(w, http.StatusOK, res)
}

// PublishBatch handles POST /events/batch.
func (h *EventsHandler) PublishBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 4*maxPayloadSize)

	var body struct {
		Events []bus.PublishInput `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return
	}

	res, err := h.bus.PublishBatch(r.Context(), body.Events)
	if err != nil {
		writeError(w, err)
		return
	}

	// Partial failure is still a 200; the per-event results carry it.
	writeJSON(w, http.StatusOK, res)
}

// Query handles GET /events.
func (h *EventsHandler) Query(w http.ResponseWriter, r *http.Request) {
	q := store.EventQuery{
		Topic:  r.URL.Query().Get("topic"),
		Type:   r.URL.Query().Get("type"),
		Source: r.URL.Query().Get("source"),
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, domain.Validationf("invalid since timestamp: %v", err))
			return
		}
		q.Since = t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, domain.Validationf("invalid until timestamp: %v", err))
			return
		}
		q.Until = t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		q.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		q.Offset, _ = strconv.Atoi(v)
	}
	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	events, total, err := h.bus.QueryEvents(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":   events,
		"total":    total,
		"count":    len(events),
		"limit":    q.Limit,
		"offset":   q.Offset,
		"has_more": q.Offset+len(events) < total,
	})
}
