package domain

import (
	"time"

	"github.com/google/uuid"
)

// AttemptOutcome classifies one delivery attempt.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailure AttemptOutcome = "failure"
	OutcomeTimeout AttemptOutcome = "timeout"
)

// DeliveryAttempt records one try to deliver one event to one
// subscription. Attempts are ephemeral except when folded into a
// dead-letter entry.
type DeliveryAttempt struct {
	Attempt   int            `json:"attempt"`
	Timestamp time.Time      `json:"timestamp"`
	Outcome   AttemptOutcome `json:"outcome"`
	LatencyMS int64          `json:"latency_ms"`
	Error     string         `json:"error,omitempty"`
}

// DeadLetterEntry is an event/subscription pair that exhausted its retry
// policy, kept with the full attempt history for operator inspection.
type DeadLetterEntry struct {
	ID             string            `json:"id"`
	Event          *Event            `json:"event"`
	SubscriptionID string            `json:"subscription_id"`
	Attempts       []DeliveryAttempt `json:"attempts"`
	LastError      string            `json:"last_error,omitempty"`
	FailedAt       time.Time         `json:"failed_at"`
}

// NewDeadLetterEntry creates an entry with a generated ID.
func NewDeadLetterEntry(event *Event, subscriptionID string, attempts []DeliveryAttempt, lastError string) *DeadLetterEntry {
	return &DeadLetterEntry{
		ID:             "dlq_" + uuid.NewString(),
		Event:          event,
		SubscriptionID: subscriptionID,
		Attempts:       attempts,
		LastError:      lastError,
		FailedAt:       time.Now().UTC(),
	}
}
