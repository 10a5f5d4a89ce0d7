// Package websocket carries realtime deliveries over persistent
// connections. Each client attaches to one subscription; the dispatcher
// pushes through the hub.
package websocket

import (
	"log/slog"
	"sync"

	"github.com/fanoutsh/fanout/internal/domain"
)

// Hub tracks connected clients by subscription ID.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client // subscription ID -> client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// Attach binds a client to its subscription. A second client for the
// same subscription replaces the first, which is closed.
func (h *Hub) Attach(c *Client) {
	h.mu.Lock()
	prev := h.clients[c.subscriptionID]
	h.clients[c.subscriptionID] = c
	h.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	slog.Debug("websocket client attached", "subscription_id", c.subscriptionID)
}

// Detach removes the client if it is still the attached one.
func (h *Hub) Detach(c *Client) {
	h.mu.Lock()
	if h.clients[c.subscriptionID] == c {
		delete(h.clients, c.subscriptionID)
	}
	h.mu.Unlock()
	slog.Debug("websocket client detached", "subscription_id", c.subscriptionID)
}

// Connected reports whether a client is attached for the subscription.
func (h *Hub) Connected(subscriptionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[subscriptionID]
	return ok
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send pushes events to the subscription's client. Returns a
// DeliveryError when no client is attached or its buffer is full; the
// dispatcher treats both like any other failed attempt.
func (h *Hub) Send(subscriptionID string, events []*domain.Event) error {
	h.mu.RLock()
	c, ok := h.clients[subscriptionID]
	h.mu.RUnlock()

	if !ok {
		return domain.Deliveryf("no websocket client attached for subscription %s", subscriptionID)
	}
	for _, e := range events {
		if err := c.SendEvent(e); err != nil {
			return err
		}
	}
	return nil
}
