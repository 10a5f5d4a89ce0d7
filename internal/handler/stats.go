package handler

import (
	"net/http"
	"strconv"

	"github.com/fanoutsh/fanout/internal/bus"
)

// StatsHandler exposes broker-wide counters.
type StatsHandler struct {
	bus *bus.Bus
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(b *bus.Bus) *StatsHandler {
	return &StatsHandler{bus: b}
}

// Overview handles GET /stats.
func (h *StatsHandler) Overview(w http.ResponseWriter, r *http.Request) {
	snap := h.bus.Stats()

	top := 10
	if v := r.URL.Query().Get("top"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			top = n
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"published_total":      snap.PublishedTotal,
		"per_topic":            snap.PerTopic,
		"delivered":            snap.Delivered,
		"failed":               snap.Failed,
		"retries":              snap.Retries,
		"dead_letters":         snap.DeadLetters,
		"active_subscriptions": snap.ActiveSubscriptions,
		"pending_retries":      h.bus.PendingRetries(),
		"latency_p50_ms":       snap.LatencyP50MS,
		"latency_p95_ms":       snap.LatencyP95MS,
		"latency_p99_ms":       snap.LatencyP99MS,
		"top_topics":           snap.TopTopics(top),
	})
}
