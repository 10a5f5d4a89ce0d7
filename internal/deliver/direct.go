package deliver

import (
	"context"
	"sync"

	"github.com/fanoutsh/fanout/internal/domain"
)

// DirectHandler receives events for an in-process subscriber.
type DirectHandler func(ctx context.Context, event *domain.Event) error

// DirectCallDeliverer dispatches to handlers registered in-process.
// The subscription endpoint is the handler name. Embedding applications
// (and the AI-assistance consumers that ride the bus) register handlers
// before subscribing.
type DirectCallDeliverer struct {
	mu       sync.RWMutex
	handlers map[string]DirectHandler
}

// NewDirectCallDeliverer creates an empty handler registry.
func NewDirectCallDeliverer() *DirectCallDeliverer {
	return &DirectCallDeliverer{handlers: make(map[string]DirectHandler)}
}

// RegisterHandler installs (or replaces) the handler for a name.
func (d *DirectCallDeliverer) RegisterHandler(name string, h DirectHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

// UnregisterHandler removes a handler. Deliveries to it fail afterwards
// and retry per policy, so a briefly absent handler loses nothing.
func (d *DirectCallDeliverer) UnregisterHandler(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, name)
}

// Known reports whether a handler is currently registered.
func (d *DirectCallDeliverer) Known(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[name]
	return ok
}

// SupportsBatch is false: handlers take one event per call.
func (d *DirectCallDeliverer) SupportsBatch() bool { return false }

// Deliver invokes the handler named by the subscription endpoint.
func (d *DirectCallDeliverer) Deliver(ctx context.Context, sub *domain.Subscription, events []*domain.Event) error {
	d.mu.RLock()
	h, ok := d.handlers[sub.Endpoint]
	d.mu.RUnlock()
	if !ok {
		return domain.Deliveryf("no direct handler registered for %q", sub.Endpoint)
	}
	for _, e := range events {
		if err := h(ctx, e); err != nil {
			return domain.Deliveryf("direct handler %q: %v", sub.Endpoint, err)
		}
	}
	return nil
}
