package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fanoutsh/fanout/internal/deliver"
	"github.com/fanoutsh/fanout/internal/domain"
	"github.com/fanoutsh/fanout/internal/security"
	"github.com/fanoutsh/fanout/internal/stats"
	"github.com/fanoutsh/fanout/internal/store"
	"github.com/fanoutsh/fanout/internal/topic"
)

// MaxBatchPublish caps how many events one batch publish may carry.
const MaxBatchPublish = 100

// Mirror forwards accepted events to an external system. Mirroring is
// best effort and never blocks or fails a publish.
type Mirror interface {
	Mirror(ctx context.Context, event *domain.Event) error
}

// Config tunes the bus.
type Config struct {
	Dispatcher DispatcherConfig

	// AllowPrivateEndpoints disables the private-address screen on
	// webhook endpoints. Development only.
	AllowPrivateEndpoints bool
}

// Bus is the broker facade: every API surface (HTTP handlers, the
// replay engine, startup restore) goes through it.
type Bus struct {
	cfg Config

	events store.EventStore
	subs   store.SubscriptionStore
	dlq    store.DeadLetterStore

	topics     *topic.Registry
	router     *Router
	dispatcher *Dispatcher
	deliverers map[domain.ConnectionType]deliver.Deliverer
	stats      *stats.Collector
	mirror     Mirror

	// statLocks serializes read-modify-write of one subscription's
	// persisted stats without stalling deliveries to other
	// subscriptions. Keyed by subscription ID, values are *sync.Mutex.
	statLocks sync.Map

	replayMu sync.RWMutex
	replays  map[string]*replayRun
}

// New assembles a bus. mirror may be nil.
func New(cfg Config, events store.EventStore, subs store.SubscriptionStore, dlq store.DeadLetterStore, topics *topic.Registry, st *stats.Collector, deliverers map[domain.ConnectionType]deliver.Deliverer, fallback *deliver.WebhookDeliverer, mirror Mirror) *Bus {
	b := &Bus{
		cfg:    cfg,
		events: events,
		subs:   subs,
		dlq:    dlq,
		topics:     topics,
		router:     NewRouter(),
		deliverers: deliverers,
		stats:      st,
		mirror:     mirror,

		replays: make(map[string]*replayRun),
	}
	b.dispatcher = NewDispatcher(cfg.Dispatcher, deliverers, fallback, dlq, st, Hooks{
		OnResult:    b.recordResult,
		OnExhausted: b.recordExhausted,
		OnSuspend:   b.suspendSubscription,
	})
	return b
}

// Start restores active subscriptions from the store and launches the
// dispatcher. Call once before serving traffic.
func (b *Bus) Start(ctx context.Context) error {
	active, err := b.subs.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("restore subscriptions: %w", err)
	}
	for _, sub := range active {
		b.router.Add(sub)
		b.dispatcher.Ensure(sub)
		b.topics.Touch(sub.Pattern)
	}
	b.stats.SetActiveSubscriptions(len(active))
	b.dispatcher.Start()
	slog.Info("bus started", "active_subscriptions", len(active))
	return nil
}

// Stop cancels running replays and shuts down delivery. In-flight
// deliveries complete or time out.
func (b *Bus) Stop() {
	b.replayMu.RLock()
	for _, run := range b.replays {
		run.cancel()
	}
	b.replayMu.RUnlock()

	b.dispatcher.Stop()
}

// PublishInput is a publish request before validation.
type PublishInput struct {
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Topic         string          `json:"topic"`
	Priority      domain.Priority `json:"priority,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      domain.Metadata `json:"metadata,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
	SchemaVersion string          `json:"schema_version,omitempty"`
}

// PublishResult reports the outcome of one accepted publish.
type PublishResult struct {
	EventID string `json:"event_id"`
	Matched int    `json:"matched_subscriptions"`
}

// MarshalJSON also emits success and the camelCase eventId key next to
// the canonical ones.
func (r PublishResult) MarshalJSON() ([]byte, error) {
	type plain PublishResult
	return json.Marshal(struct {
		plain
		Success bool   `json:"success"`
		EventID string `json:"eventId"`
	}{plain(r), true, r.EventID})
}

// Publish validates, persists and fans out one event. The matched count
// is computed synchronously; deliveries proceed asynchronously.
func (b *Bus) Publish(ctx context.Context, in PublishInput) (*PublishResult, error) {
	if err := validatePublish(in); err != nil {
		return nil, err
	}
	if err := b.topics.Validate(in.Topic, in.Payload); err != nil {
		return nil, err
	}

	event := domain.NewEvent(in.Type, in.Source, in.Topic, in.Priority, in.Payload)
	event.Metadata = in.Metadata
	event.Metadata.Replay = false
	event.Metadata.ReplayID = ""
	event.CorrelationID = in.CorrelationID
	event.CausationID = in.CausationID
	event.SchemaVersion = in.SchemaVersion

	if err := b.events.Append(ctx, event); err != nil {
		return nil, fmt.Errorf("persist event: %w", err)
	}
	b.topics.RecordPublish(in.Topic, event.Timestamp)
	b.stats.Published(in.Topic)

	if b.mirror != nil {
		if err := b.mirror.Mirror(ctx, event); err != nil {
			slog.Warn("event mirror failed", "event_id", event.ID, "error", err)
		}
	}

	matched := b.fanOut(event)
	return &PublishResult{EventID: event.ID, Matched: matched}, nil
}

// BatchResult is the per-event outcome of a batch publish.
type BatchResult struct {
	Results []BatchItemResult `json:"results"`
	Failed  int               `json:"failed_count"`
}

// MarshalJSON also emits success and the camelCase failedCount key.
// success is true only when every event in the batch was accepted.
func (r BatchResult) MarshalJSON() ([]byte, error) {
	type plain BatchResult
	return json.Marshal(struct {
		plain
		Success bool `json:"success"`
		Failed  int  `json:"failedCount"`
	}{plain(r), r.Failed == 0, r.Failed})
}

// BatchItemResult mirrors the input order; exactly one of EventID or
// Error is set.
type BatchItemResult struct {
	EventID string `json:"event_id,omitempty"`
	Matched int    `json:"matched_subscriptions,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PublishBatch publishes up to MaxBatchPublish events with per-event
// outcomes. One invalid event does not fail the rest.
func (b *Bus) PublishBatch(ctx context.Context, inputs []PublishInput) (*BatchResult, error) {
	if len(inputs) == 0 {
		return nil, domain.Validationf("batch is empty")
	}
	if len(inputs) > MaxBatchPublish {
		return nil, domain.Validationf("batch exceeds %d events", MaxBatchPublish)
	}

	out := &BatchResult{Results: make([]BatchItemResult, len(inputs))}
	for i, in := range inputs {
		res, err := b.Publish(ctx, in)
		if err != nil {
			out.Results[i] = BatchItemResult{Error: err.Error()}
			out.Failed++
			continue
		}
		out.Results[i] = BatchItemResult{EventID: res.EventID, Matched: res.Matched}
	}
	return out, nil
}

func validatePublish(in PublishInput) error {
	if in.Type == "" {
		return domain.Validationf("event type is required")
	}
	if in.Source == "" {
		return domain.Validationf("event source is required")
	}
	if in.Topic == "" {
		return domain.Validationf("event topic is required")
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return domain.Validationf("unknown priority %q", in.Priority)
	}
	if in.Metadata.Replay || in.Metadata.ReplayID != "" {
		return domain.Validationf("replay metadata is reserved")
	}
	return nil
}

// fanOut enqueues the event on every matching active subscription and
// returns the match count. Enqueue failures affect only that
// subscription.
func (b *Bus) fanOut(event *domain.Event) int {
	matched := b.router.Match(event)
	for _, sub := range matched {
		if err := b.dispatcher.Enqueue(sub.ID, event); err != nil {
			slog.Warn("enqueue failed",
				"subscription_id", sub.ID,
				"event_id", event.ID,
				"error", err,
			)
		}
	}
	return len(matched)
}

// SubscribeInput is a subscription request before validation.
type SubscribeInput struct {
	CallerID       string                  `json:"-"`
	Pattern        string                  `json:"topic"`
	Endpoint       string                  `json:"endpoint,omitempty"`
	ConnectionType domain.ConnectionType   `json:"connection_type"`
	Filter         domain.Filter           `json:"filter,omitempty"`
	Options        *domain.DeliveryOptions `json:"options,omitempty"`
	Description    string                  `json:"description,omitempty"`
}

// Subscribe validates and registers a subscription, starting its
// delivery pipeline immediately.
func (b *Bus) Subscribe(ctx context.Context, in SubscribeInput) (*domain.Subscription, error) {
	if err := b.validateSubscribe(in); err != nil {
		return nil, err
	}

	sub := domain.NewSubscription(in.CallerID, in.Pattern, in.Endpoint, in.ConnectionType)
	sub.Filter = in.Filter
	sub.Description = in.Description
	if in.Options != nil {
		sub.Options = normalizeOptions(*in.Options)
	}

	if err := b.subs.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("persist subscription: %w", err)
	}
	b.router.Add(sub)
	b.dispatcher.Ensure(sub)
	b.topics.Touch(sub.Pattern)
	b.stats.SetActiveSubscriptions(b.router.Size())

	slog.Info("subscription created",
		"subscription_id", sub.ID,
		"topic", sub.Pattern,
		"connection_type", string(sub.ConnectionType),
	)
	return sub, nil
}

func (b *Bus) validateSubscribe(in SubscribeInput) error {
	if in.Pattern == "" {
		return domain.Validationf("topic pattern is required")
	}
	if err := ValidatePattern(in.Pattern); err != nil {
		return err
	}
	if !in.ConnectionType.Valid() {
		return domain.Validationf("unknown connection type %q", in.ConnectionType)
	}
	if in.ConnectionType == domain.ConnectionWebhook {
		if in.Endpoint == "" {
			return domain.Validationf("webhook subscriptions require an endpoint")
		}
		if err := security.ValidateEndpointURL(in.Endpoint, b.cfg.AllowPrivateEndpoints); err != nil {
			return domain.Validationf("endpoint rejected: %v", err)
		}
	}
	if in.ConnectionType == domain.ConnectionDirect {
		// Direct endpoints name in-process handlers, which register
		// before subscribing. Reject names nothing answers to.
		if reg, ok := b.deliverers[domain.ConnectionDirect].(interface{ Known(string) bool }); ok && !reg.Known(in.Endpoint) {
			return domain.Validationf("no direct handler registered for %q", in.Endpoint)
		}
	}
	if in.Options != nil && in.Options.FallbackWebhook != "" {
		if err := security.ValidateEndpointURL(in.Options.FallbackWebhook, b.cfg.AllowPrivateEndpoints); err != nil {
			return domain.Validationf("fallback webhook rejected: %v", err)
		}
	}
	return nil
}

// normalizeOptions applies defaults and hard ceilings to
// caller-provided delivery options.
func normalizeOptions(o domain.DeliveryOptions) domain.DeliveryOptions {
	def := domain.DefaultDeliveryOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.BatchSize > domain.MaxBatchSizeCeiling {
		o.BatchSize = domain.MaxBatchSizeCeiling
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = def.MaxConcurrency
	}
	if o.MaxConcurrency > domain.MaxConcurrencyCeiling {
		o.MaxConcurrency = domain.MaxConcurrencyCeiling
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = def.QueueDepth
	}
	if o.Overflow != domain.OverflowDropOldest && o.Overflow != domain.OverflowRejectNew {
		o.Overflow = def.Overflow
	}
	if o.Retry.MaxRetries < 0 {
		o.Retry.MaxRetries = 0
	}
	if o.Retry.Backoff == "" {
		o.Retry.Backoff = def.Retry.Backoff
	}
	if o.Retry.InitialDelayMS <= 0 {
		o.Retry.InitialDelayMS = def.Retry.InitialDelayMS
	}
	if o.Retry.MaxDelayMS <= 0 {
		o.Retry.MaxDelayMS = def.Retry.MaxDelayMS
	}
	return o
}

// Cancel stops delivery for a subscription and marks it cancelled.
// Cancelling an already-cancelled subscription is a no-op.
func (b *Bus) Cancel(ctx context.Context, id string) error {
	sub, err := b.subs.Get(ctx, id)
	if err != nil {
		return err
	}
	if sub.Status == domain.StatusCancelled {
		return nil
	}

	b.router.Remove(id)
	b.dispatcher.Cancel(id)

	now := time.Now().UTC()
	sub.Status = domain.StatusCancelled
	sub.CancelledAt = &now
	if err := b.subs.Save(ctx, sub); err != nil {
		return fmt.Errorf("persist cancellation: %w", err)
	}
	b.stats.SetActiveSubscriptions(b.router.Size())
	b.statLocks.Delete(id)

	slog.Info("subscription cancelled", "subscription_id", id)
	return nil
}

// Pause gates a subscription's pipeline; queued events hold in place.
func (b *Bus) Pause(ctx context.Context, id string) error {
	return b.setGate(ctx, id, domain.StatusPaused)
}

// Resume reopens a paused or errored subscription.
func (b *Bus) Resume(ctx context.Context, id string) error {
	return b.setGate(ctx, id, domain.StatusActive)
}

func (b *Bus) setGate(ctx context.Context, id string, status domain.SubscriptionStatus) error {
	sub, err := b.subs.Get(ctx, id)
	if err != nil {
		return err
	}
	if sub.Status == domain.StatusCancelled {
		return domain.Validationf("subscription %s is cancelled", id)
	}
	if sub.Status == status {
		return nil
	}

	sub.Status = status
	if status == domain.StatusActive {
		sub.Stats.LastError = ""
	}
	if err := b.subs.Save(ctx, sub); err != nil {
		return err
	}

	switch status {
	case domain.StatusActive:
		b.router.Add(sub)
		b.dispatcher.Ensure(sub)
		b.dispatcher.Resume(id)
	default:
		b.dispatcher.Suspend(id)
	}
	b.stats.SetActiveSubscriptions(b.router.Size())
	slog.Info("subscription status changed", "subscription_id", id, "status", string(status))
	return nil
}

// Subscription returns one subscription by ID.
func (b *Bus) Subscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return b.subs.Get(ctx, id)
}

// Subscriptions lists the caller's subscriptions, cancelled included.
func (b *Bus) Subscriptions(ctx context.Context, callerID string) ([]*domain.Subscription, error) {
	return b.subs.ListByCaller(ctx, callerID)
}

// QueueDepth exposes the pipeline queue length for diagnostics.
func (b *Bus) QueueDepth(id string) int {
	return b.dispatcher.QueueDepth(id)
}

// QueryEvents reads event history.
func (b *Bus) QueryEvents(ctx context.Context, q store.EventQuery) ([]*domain.Event, int, error) {
	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = 100
	}
	return b.events.Query(ctx, q)
}

// RegisterTopic registers a topic, optionally with a JSON schema.
// Returns topic.ErrExists when the name was already explicitly
// registered.
func (b *Bus) RegisterTopic(name string, schema json.RawMessage) error {
	if name == "" {
		return domain.Validationf("topic name is required")
	}
	return b.topics.Register(name, schema)
}

// Topics lists known topics with live subscriber counts.
func (b *Bus) Topics() []topic.Info {
	return b.topics.List(b.router.CountMatching)
}

// DeadLetters lists dead-letter entries.
func (b *Bus) DeadLetters(ctx context.Context, q store.DeadLetterQuery) ([]*domain.DeadLetterEntry, error) {
	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = 100
	}
	return b.dlq.List(ctx, q)
}

// DeadLetter returns one entry by ID.
func (b *Bus) DeadLetter(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	return b.dlq.Get(ctx, id)
}

// Redrive re-queues one dead-letter entry for a fresh delivery cycle
// and removes it from the sink on success.
func (b *Bus) Redrive(ctx context.Context, id string) error {
	entry, err := b.dlq.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := b.dispatcher.Redrive(entry); err != nil {
		return err
	}
	return b.dlq.Delete(ctx, id)
}

// RedriveAll re-queues every dead-letter entry for a subscription and
// returns how many were requeued.
func (b *Bus) RedriveAll(ctx context.Context, subscriptionID string) (int, error) {
	entries, err := b.dlq.List(ctx, store.DeadLetterQuery{SubscriptionID: subscriptionID, Limit: 1000})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, entry := range entries {
		if err := b.dispatcher.Redrive(entry); err != nil {
			slog.Warn("redrive failed", "entry_id", entry.ID, "error", err)
			continue
		}
		if err := b.dlq.Delete(ctx, entry.ID); err != nil {
			slog.Warn("dead-letter delete failed", "entry_id", entry.ID, "error", err)
		}
		n++
	}
	return n, nil
}

// DeleteDeadLetter discards one entry without redelivery.
func (b *Bus) DeleteDeadLetter(ctx context.Context, id string) error {
	return b.dlq.Delete(ctx, id)
}

// PurgeDeadLetters removes entries older than cutoff.
func (b *Bus) PurgeDeadLetters(ctx context.Context, cutoff time.Time) (int, error) {
	return b.dlq.Purge(ctx, cutoff)
}

// Stats returns the current broker-wide counters.
func (b *Bus) Stats() stats.Snapshot {
	return b.stats.Snapshot()
}

// PendingRetries exposes the retry backlog size for health reporting.
func (b *Bus) PendingRetries() int {
	return b.dispatcher.PendingRetries()
}

func (b *Bus) statLock(subscriptionID string) *sync.Mutex {
	mu, _ := b.statLocks.LoadOrStore(subscriptionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// recordResult folds a delivery outcome into the subscription's
// persisted stats. count is the number of events the attempt carried.
func (b *Bus) recordResult(subscriptionID string, outcome domain.AttemptOutcome, count int, latency time.Duration, errMsg string) {
	mu := b.statLock(subscriptionID)
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := b.subs.Get(ctx, subscriptionID)
	if err != nil {
		return
	}
	if outcome == domain.OutcomeSuccess {
		sub.Stats.Delivered += int64(count)
		now := time.Now().UTC()
		sub.Stats.LastDelivery = &now
		sub.Stats.LastError = ""
	} else {
		sub.Stats.Failed++
		sub.Stats.LastError = errMsg
	}
	if err := b.subs.Save(ctx, sub); err != nil {
		slog.Warn("stat update failed", "subscription_id", subscriptionID, "error", err)
	}
}

func (b *Bus) recordExhausted(subscriptionID string, entry *domain.DeadLetterEntry) {
	mu := b.statLock(subscriptionID)
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := b.subs.Get(ctx, subscriptionID)
	if err != nil {
		return
	}
	sub.Stats.DeadLetter++
	sub.Stats.LastError = entry.LastError
	if err := b.subs.Save(ctx, sub); err != nil {
		slog.Warn("stat update failed", "subscription_id", subscriptionID, "error", err)
	}
}

// suspendSubscription flips a repeatedly failing subscription to error
// status. Its pipeline is already gated; events queue until an operator
// resumes it.
func (b *Bus) suspendSubscription(subscriptionID string, lastError string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := b.subs.Get(ctx, subscriptionID)
	if err != nil {
		return
	}
	sub.Status = domain.StatusError
	sub.Stats.LastError = lastError
	if err := b.subs.Save(ctx, sub); err != nil {
		slog.Error("suspend persist failed", "subscription_id", subscriptionID, "error", err)
	}
	b.router.Remove(subscriptionID)
	b.stats.SetActiveSubscriptions(b.router.Size())
}
