package domain

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// ConnectionType selects the delivery transport for a subscription.
type ConnectionType string

const (
	ConnectionWebhook   ConnectionType = "webhook"
	ConnectionWebSocket ConnectionType = "websocket"
	ConnectionDirect    ConnectionType = "direct"
)

// Valid reports whether t is a known connection type.
func (t ConnectionType) Valid() bool {
	switch t {
	case ConnectionWebhook, ConnectionWebSocket, ConnectionDirect:
		return true
	}
	return false
}

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusPaused    SubscriptionStatus = "paused"
	StatusError     SubscriptionStatus = "error"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// BackoffKind selects the delay progression between retries.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffLinear      BackoffKind = "linear"
	BackoffFixed       BackoffKind = "fixed"
)

// RetryPolicy controls redelivery after a failed attempt. Delays are in
// milliseconds on the wire.
type RetryPolicy struct {
	MaxRetries     int         `json:"max_retries"`
	Backoff        BackoffKind `json:"backoff"`
	InitialDelayMS int         `json:"initial_delay_ms"`
	MaxDelayMS     int         `json:"max_delay_ms"`
	Jitter         bool        `json:"jitter"`
}

// DefaultRetryPolicy returns the broker-wide retry defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		Backoff:        BackoffExponential,
		InitialDelayMS: 1000,
		MaxDelayMS:     30000,
		Jitter:         true,
	}
}

// Delay computes the backoff before retry number attempt (1-based).
// With jitter enabled the result is randomized uniformly within ±20% of
// the computed value so retry storms across subscriptions decorrelate.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := time.Duration(p.InitialDelayMS) * time.Millisecond
	max := time.Duration(p.MaxDelayMS) * time.Millisecond

	var d time.Duration
	switch p.Backoff {
	case BackoffLinear:
		d = initial * time.Duration(attempt)
	case BackoffFixed:
		d = initial
	default: // exponential
		d = initial << uint(attempt-1)
		if d < initial { // shift overflow
			d = max
		}
	}
	if max > 0 && d > max {
		d = max
	}
	if p.Jitter {
		// uniform in [0.8d, 1.2d]
		f := 0.8 + 0.4*rand.Float64()
		d = time.Duration(float64(d) * f)
	}
	return d
}

// OverflowPolicy decides what happens when a subscription queue is full.
type OverflowPolicy string

const (
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	OverflowRejectNew  OverflowPolicy = "reject_new"
)

// DeliveryOptions tunes the per-subscription pipeline.
type DeliveryOptions struct {
	BatchSize       int            `json:"batch_size"`
	MaxConcurrency  int            `json:"max_concurrency"`
	Realtime        bool           `json:"realtime"`
	FallbackWebhook string         `json:"fallback_webhook,omitempty"`
	QueueDepth      int            `json:"queue_depth"`
	Overflow        OverflowPolicy `json:"overflow"`
	Retry           RetryPolicy    `json:"retry"`
}

// Pipeline limits. MaxConcurrencyCeiling is a hard cap regardless of
// what the subscriber asks for.
const (
	DefaultBatchSize      = 1
	DefaultMaxConcurrency = 10
	MaxConcurrencyCeiling = 100
	MaxBatchSizeCeiling   = 100
	DefaultQueueDepth     = 1024
)

// DefaultDeliveryOptions returns the defaults applied to new subscriptions.
func DefaultDeliveryOptions() DeliveryOptions {
	return DeliveryOptions{
		BatchSize:      DefaultBatchSize,
		MaxConcurrency: DefaultMaxConcurrency,
		QueueDepth:     DefaultQueueDepth,
		Overflow:       OverflowRejectNew,
		Retry:          DefaultRetryPolicy(),
	}
}

// Filter narrows which matched events a subscription actually receives.
// All populated clauses must pass.
type Filter struct {
	Types        []string `json:"types,omitempty"`
	ExcludeTypes []string `json:"exclude_types,omitempty"`
	Sources      []string `json:"sources,omitempty"`
	MinPriority  Priority `json:"min_priority,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	UserID       string   `json:"user_id,omitempty"`
	ProjectID    string   `json:"project_id,omitempty"`
}

// Matches reports whether the event passes every clause of the filter.
func (f *Filter) Matches(e *Event) bool {
	if len(f.Types) > 0 && !contains(f.Types, e.Type) {
		return false
	}
	if contains(f.ExcludeTypes, e.Type) {
		return false
	}
	if len(f.Sources) > 0 && !contains(f.Sources, e.Source) {
		return false
	}
	if f.MinPriority != "" && e.Priority.Rank() < f.MinPriority.Rank() {
		return false
	}
	for _, tag := range f.Tags {
		if !e.Metadata.HasTag(tag) {
			return false
		}
	}
	if f.UserID != "" && e.Metadata.UserID != f.UserID {
		return false
	}
	if f.ProjectID != "" && e.Metadata.ProjectID != f.ProjectID {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// SubscriptionStats are delivery counters retained for audit even after
// cancellation.
type SubscriptionStats struct {
	Delivered    int64      `json:"delivered"`
	Failed       int64      `json:"failed"`
	Retried      int64      `json:"retried"`
	DeadLetter   int64      `json:"dead_letter"`
	LastDelivery *time.Time `json:"last_delivery,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Subscription binds a topic pattern to a delivery endpoint.
type Subscription struct {
	ID             string             `json:"id"`
	CallerID       string             `json:"caller_id"`
	Pattern        string             `json:"topic"`
	Endpoint       string             `json:"endpoint"`
	ConnectionType ConnectionType     `json:"connection_type"`
	Filter         Filter             `json:"filter"`
	Options        DeliveryOptions    `json:"options"`
	Description    string             `json:"description,omitempty"`
	Status         SubscriptionStatus `json:"status"`
	Stats          SubscriptionStats  `json:"stats"`
	CreatedAt      time.Time          `json:"created_at"`
	CancelledAt    *time.Time         `json:"cancelled_at,omitempty"`
}

// NewSubscription creates an active subscription with a generated ID.
func NewSubscription(callerID, pattern, endpoint string, ct ConnectionType) *Subscription {
	return &Subscription{
		ID:             "sub_" + uuid.NewString(),
		CallerID:       callerID,
		Pattern:        pattern,
		Endpoint:       endpoint,
		ConnectionType: ct,
		Options:        DefaultDeliveryOptions(),
		Status:         StatusActive,
		CreatedAt:      time.Now().UTC(),
	}
}

// Active reports whether the subscription should receive new events.
func (s *Subscription) Active() bool {
	return s.Status == StatusActive
}
