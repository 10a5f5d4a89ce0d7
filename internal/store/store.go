// Package store defines the persistence contracts for the broker: an
// append-only event log, a subscription record store and a dead-letter
// store. Implementations: Memory (dev/tests) and Postgres (production).
package store

import (
	"context"
	"time"

	"github.com/fanoutsh/fanout/internal/domain"
)

// EventQuery filters history reads. Zero values mean "no constraint".
type EventQuery struct {
	Topic  string
	Type   string
	Source string
	Since  time.Time // inclusive
	Until  time.Time // exclusive
	Limit  int
	Offset int
}

// EventStore is an append-only, time-ordered event log. Append assigns
// the event a monotonically increasing sequence number; events are never
// updated afterwards. Reads return non-decreasing timestamp order with
// ties broken by sequence.
type EventStore interface {
	Append(ctx context.Context, event *domain.Event) error
	Query(ctx context.Context, q EventQuery) (events []*domain.Event, total int, err error)

	// Range streams events with Timestamp in [from, to) to fn in order.
	// fn returning an error stops the scan and propagates the error.
	Range(ctx context.Context, from, to time.Time, fn func(*domain.Event) error) error
}

// SubscriptionStore is the durable record of subscriptions. Cancellation
// is a status update, not a row delete, so delivery stats survive for
// audit.
type SubscriptionStore interface {
	Save(ctx context.Context, sub *domain.Subscription) error
	Get(ctx context.Context, id string) (*domain.Subscription, error)
	ListByCaller(ctx context.Context, callerID string) ([]*domain.Subscription, error)
	ListActive(ctx context.Context) ([]*domain.Subscription, error)
}

// DeadLetterQuery filters dead-letter listings.
type DeadLetterQuery struct {
	SubscriptionID string
	Since          time.Time
	Until          time.Time
	Limit          int
}

// DeadLetterStore holds event/subscription pairs that exhausted retries.
type DeadLetterStore interface {
	Append(ctx context.Context, entry *domain.DeadLetterEntry) error
	Get(ctx context.Context, id string) (*domain.DeadLetterEntry, error)
	List(ctx context.Context, q DeadLetterQuery) ([]*domain.DeadLetterEntry, error)
	Delete(ctx context.Context, id string) error

	// Purge removes entries dead-lettered before cutoff and returns the
	// number removed.
	Purge(ctx context.Context, cutoff time.Time) (int, error)
}
