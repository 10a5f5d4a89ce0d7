package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fanoutsh/fanout/internal/deliver"
	"github.com/fanoutsh/fanout/internal/domain"
	"github.com/fanoutsh/fanout/internal/stats"
	"github.com/fanoutsh/fanout/internal/store"
)

// DispatcherConfig tunes delivery behavior shared by all pipelines.
type DispatcherConfig struct {
	// DeliveryTimeout bounds one delivery call. Zero means 5s.
	DeliveryTimeout time.Duration

	// ErrorThreshold exhaustions within ErrorWindow flip a subscription
	// to error status and suspend its pipeline.
	ErrorThreshold int
	ErrorWindow    time.Duration
}

func (c *DispatcherConfig) defaults() {
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 5 * time.Second
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = 10
	}
	if c.ErrorWindow <= 0 {
		c.ErrorWindow = 5 * time.Minute
	}
}

// Hooks let the subscription registry observe delivery outcomes without
// the dispatcher owning subscription state.
type Hooks struct {
	// OnResult fires after every delivery attempt. count is the number
	// of events the attempt carried.
	OnResult func(subscriptionID string, outcome domain.AttemptOutcome, count int, latency time.Duration, errMsg string)

	// OnExhausted fires when an event/subscription pair lands in the
	// dead-letter sink.
	OnExhausted func(subscriptionID string, entry *domain.DeadLetterEntry)

	// OnSuspend fires when repeated exhaustions suspend a subscription.
	OnSuspend func(subscriptionID string, lastError string)
}

// Dispatcher runs one independent delivery pipeline per active
// subscription so a slow or failing subscriber never blocks others.
type Dispatcher struct {
	cfg        DispatcherConfig
	deliverers map[domain.ConnectionType]deliver.Deliverer
	fallback   *deliver.WebhookDeliverer
	dlq        store.DeadLetterStore
	stats      *stats.Collector
	hooks      Hooks

	sched *retryScheduler

	mu        sync.RWMutex
	pipelines map[string]*pipeline

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher wires the dispatcher. fallback delivers to fallback
// webhooks for realtime subscriptions and may equal the webhook
// deliverer in the deliverers map.
func NewDispatcher(cfg DispatcherConfig, deliverers map[domain.ConnectionType]deliver.Deliverer, fallback *deliver.WebhookDeliverer, dlq store.DeadLetterStore, st *stats.Collector, hooks Hooks) *Dispatcher {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:        cfg,
		deliverers: deliverers,
		fallback:   fallback,
		dlq:        dlq,
		stats:      st,
		hooks:      hooks,
		pipelines:  make(map[string]*pipeline),
		baseCtx:    ctx,
		cancel:     cancel,
	}
	d.sched = newRetryScheduler(d.fireRetry)
	return d
}

// Start launches the retry scheduler.
func (d *Dispatcher) Start() {
	d.sched.start()
}

// Stop cancels every pipeline and waits for workers to drain. In-flight
// deliveries finish or time out normally.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.sched.shutdown()

	d.mu.Lock()
	for id, p := range d.pipelines {
		p.stop()
		delete(d.pipelines, id)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

// Ensure creates (or refreshes) the pipeline for a subscription.
func (d *Dispatcher) Ensure(sub *domain.Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pipelines[sub.ID]; ok {
		p.update(sub)
		return
	}
	p := newPipeline(d, sub)
	d.pipelines[sub.ID] = p
	p.startWorkers()
}

// Cancel tears down a subscription's pipeline and drops its pending
// retries. No new events are dequeued after this returns; deliveries
// already in flight complete normally.
func (d *Dispatcher) Cancel(subscriptionID string) {
	d.mu.Lock()
	p, ok := d.pipelines[subscriptionID]
	if ok {
		delete(d.pipelines, subscriptionID)
	}
	d.mu.Unlock()

	d.sched.cancelSubscription(subscriptionID)
	if ok {
		p.stop()
	}
}

// Suspend gates a pipeline without dropping its queue.
func (d *Dispatcher) Suspend(subscriptionID string) {
	if p := d.pipeline(subscriptionID); p != nil {
		p.suspend()
	}
}

// Resume reopens a suspended pipeline.
func (d *Dispatcher) Resume(subscriptionID string) {
	if p := d.pipeline(subscriptionID); p != nil {
		p.resume()
	}
}

func (d *Dispatcher) pipeline(id string) *pipeline {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pipelines[id]
}

// Enqueue places a live event on the subscription's queue. Returns a
// CapacityError when the queue is full under the reject-new policy.
func (d *Dispatcher) Enqueue(subscriptionID string, event *domain.Event) error {
	p := d.pipeline(subscriptionID)
	if p == nil {
		return domain.NotFoundf("no delivery pipeline for subscription %s", subscriptionID)
	}
	return p.enqueue(&queuedItem{event: event, attempt: 1})
}

// Redrive re-queues a dead-letter entry for one more delivery cycle
// with its attempt counter reset.
func (d *Dispatcher) Redrive(entry *domain.DeadLetterEntry) error {
	p := d.pipeline(entry.SubscriptionID)
	if p == nil {
		return domain.NotFoundf("no delivery pipeline for subscription %s", entry.SubscriptionID)
	}
	return p.enqueue(&queuedItem{event: entry.Event, attempt: 1})
}

// QueueDepth reports the current queue length for a subscription, or -1
// if it has no pipeline.
func (d *Dispatcher) QueueDepth(subscriptionID string) int {
	p := d.pipeline(subscriptionID)
	if p == nil {
		return -1
	}
	return len(p.queue)
}

// PendingRetries returns the number of scheduled retry tasks.
func (d *Dispatcher) PendingRetries() int {
	return d.sched.pending()
}

// fireRetry moves a due retry task back onto its pipeline queue. A
// missing pipeline means the subscription was cancelled after the retry
// was scheduled; the task is dropped.
func (d *Dispatcher) fireRetry(task *retryTask) {
	p := d.pipeline(task.subscriptionID)
	if p == nil {
		return
	}
	item := &queuedItem{event: task.event, attempt: task.attempt, attempts: task.attempts}
	if err := p.enqueue(item); err != nil {
		slog.Warn("retry enqueue failed",
			"subscription_id", task.subscriptionID,
			"event_id", task.event.ID,
			"error", err,
		)
	}
}
