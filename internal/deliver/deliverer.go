// Package deliver pushes events to subscriber endpoints. The dispatcher
// is written against the Deliverer interface once; webhook, websocket
// and direct-call transports plug in underneath.
package deliver

import (
	"context"

	"github.com/fanoutsh/fanout/internal/domain"
)

// Deliverer pushes a batch of events to one subscription's endpoint.
// A nil error means the subscriber acknowledged the whole batch. Errors
// are treated as transient; the dispatcher decides whether to retry,
// a Deliverer never retries internally.
type Deliverer interface {
	Deliver(ctx context.Context, sub *domain.Subscription, events []*domain.Event) error

	// SupportsBatch reports whether Deliver accepts more than one event
	// per call. When false the dispatcher delivers one at a time.
	SupportsBatch() bool
}
