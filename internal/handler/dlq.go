package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fanoutsh/fanout/internal/bus"
	"github.com/fanoutsh/fanout/internal/domain"
	"github.com/fanoutsh/fanout/internal/store"
)

// DLQHandler exposes the dead-letter sink.
type DLQHandler struct {
	bus *bus.Bus
}

// NewDLQHandler creates a new DLQHandler.
func NewDLQHandler(b *bus.Bus) *DLQHandler {
	return &DLQHandler{bus: b}
}

// List handles GET /dlq.
func (h *DLQHandler) List(w http.ResponseWriter, r *http.Request) {
	q := store.DeadLetterQuery{
		SubscriptionID: r.URL.Query().Get("subscription_id"),
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, domain.Validationf("invalid since timestamp: %v", err))
			return
		}
		q.Since = t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		q.Limit, _ = strconv.Atoi(v)
	}

	entries, err := h.bus.DeadLetters(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// Get handles GET /dlq/{id}.
func (h *DLQHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.bus.DeadLetter(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Redrive handles POST /dlq/{id}/redrive: one more delivery cycle for
// the entry, which is removed from the sink once requeued.
func (h *DLQHandler) Redrive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.bus.Redrive(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued", "id": id})
}

// RedriveAll handles POST /dlq/redrive-all?subscription_id=...
func (h *DLQHandler) RedriveAll(w http.ResponseWriter, r *http.Request) {
	subID := r.URL.Query().Get("subscription_id")
	if subID == "" {
		writeError(w, domain.Validationf("subscription_id is required"))
		return
	}

	n, err := h.bus.RedriveAll(r.Context(), subID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requeued": n})
}

// Delete handles DELETE /dlq/{id}.
func (h *DLQHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.bus.DeleteDeadLetter(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Purge handles DELETE /dlq/purge?older_than=168h.
func (h *DLQHandler) Purge(w http.ResponseWriter, r *http.Request) {
	olderThan := 7 * 24 * time.Hour
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeError(w, domain.Validationf("invalid older_than duration %q", v))
			return
		}
		olderThan = d
	}

	n, err := h.bus.PurgeDeadLetters(r.Context(), time.Now().Add(-olderThan))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": n})
}
