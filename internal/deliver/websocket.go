package deliver

import (
	"context"

	"github.com/fanoutsh/fanout/internal/domain"
	"github.com/fanoutsh/fanout/internal/websocket"
)

// WebSocketDeliverer pushes events to a client attached to the
// subscription through the hub. An absent client is a delivery failure;
// for realtime subscriptions the dispatcher falls back to the fallback
// webhook instead of retrying.
type WebSocketDeliverer struct {
	hub *websocket.Hub
}

// NewWebSocketDeliverer wraps the hub.
func NewWebSocketDeliverer(hub *websocket.Hub) *WebSocketDeliverer {
	return &WebSocketDeliverer{hub: hub}
}

// SupportsBatch is true: frames go out back to back on one connection.
func (d *WebSocketDeliverer) SupportsBatch() bool { return true }

// Deliver pushes the events to the attached client.
func (d *WebSocketDeliverer) Deliver(_ context.Context, sub *domain.Subscription, events []*domain.Event) error {
	return d.hub.Send(sub.ID, events)
}
