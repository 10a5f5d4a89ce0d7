package handler

import (
	"log/slog"
	"net/http"

	ws "github.com/gorilla/websocket"

	"github.com/fanoutsh/fanout/internal/bus"
	"github.com/fanoutsh/fanout/internal/domain"
	"github.com/fanoutsh/fanout/internal/middleware"
	"github.com/fanoutsh/fanout/internal/websocket"
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Add proper origin validation in production
		return true
	},
}

// WSHandler attaches websocket connections to their subscriptions.
type WSHandler struct {
	bus *bus.Bus
	hub *websocket.Hub
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(b *bus.Bus, hub *websocket.Hub) *WSHandler {
	return &WSHandler{bus: b, hub: hub}
}

// Attach handles GET /ws?subscription_id=..., the delivery channel for
// websocket subscriptions. The subscription must exist, belong to the
// caller and have connection_type websocket. Reconnecting replaces the
// previous connection.
func (h *WSHandler) Attach(w http.ResponseWriter, r *http.Request) {
	subID := r.URL.Query().Get("subscription_id")
	if subID == "" {
		writeError(w, domain.Validationf("subscription_id is required"))
		return
	}

	sub, err := h.bus.Subscription(r.Context(), subID)
	if err != nil {
		writeError(w, err)
		return
	}
	if sub.ConnectionType != domain.ConnectionWebSocket {
		writeError(w, domain.Validationf("subscription %s is not a websocket subscription", subID))
		return
	}
	caller := middleware.GetCaller(r.Context())
	if sub.CallerID != caller {
		writeError(w, domain.NotFoundf("subscription %s not found", subID))
		return
	}
	if sub.Status == domain.StatusCancelled {
		writeError(w, domain.Validationf("subscription %s is cancelled", subID))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := websocket.NewClient(h.hub, conn, subID)
	h.hub.Attach(client)

	go client.WritePump()
	go client.ReadPump()
	client.Greet()

	slog.Info("websocket attached", "subscription_id", subID, "caller_id", caller)
}
