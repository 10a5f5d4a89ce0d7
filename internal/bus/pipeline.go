package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fanoutsh/fanout/internal/domain"
)

// queuedItem is one event awaiting delivery on a pipeline, carrying its
// attempt number and the history of previous attempts.
type queuedItem struct {
	event    *domain.Event
	attempt  int
	attempts []domain.DeliveryAttempt
}

// pipeline is the per-subscription delivery unit: a bounded queue
// drained by max_concurrency workers. It holds a snapshot of the
// subscription; the registry refreshes it through update.
type pipeline struct {
	d *Dispatcher

	mu  sync.RWMutex
	sub *domain.Subscription

	queue chan *queuedItem

	ctx    context.Context
	cancel context.CancelFunc

	suspended atomic.Bool
	resumeMu  sync.Mutex
	resumeCh  chan struct{}

	dropped atomic.Int64

	exhaustMu    sync.Mutex
	exhaustTimes []time.Time
}

func newPipeline(d *Dispatcher, sub *domain.Subscription) *pipeline {
	cp := *sub
	depth := cp.Options.QueueDepth
	if depth <= 0 {
		depth = domain.DefaultQueueDepth
	}
	ctx, cancel := context.WithCancel(d.baseCtx)
	resumeCh := make(chan struct{})
	close(resumeCh) // not suspended
	return &pipeline{
		d:        d,
		sub:      &cp,
		queue:    make(chan *queuedItem, depth),
		ctx:      ctx,
		cancel:   cancel,
		resumeCh: resumeCh,
	}
}

func (p *pipeline) startWorkers() {
	workers := p.snapshot().Options.MaxConcurrency
	if workers <= 0 {
		workers = domain.DefaultMaxConcurrency
	}
	if workers > domain.MaxConcurrencyCeiling {
		workers = domain.MaxConcurrencyCeiling
	}
	for i := 0; i < workers; i++ {
		p.d.wg.Add(1)
		go p.worker()
	}
}

func (p *pipeline) stop() { p.cancel() }

func (p *pipeline) snapshot() *domain.Subscription {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sub
}

// update refreshes the subscription snapshot. Queue depth and worker
// count are fixed at pipeline creation; per-delivery settings (retry
// policy, batch size, filter changes picked up by the router) take
// effect immediately.
func (p *pipeline) update(sub *domain.Subscription) {
	cp := *sub
	p.mu.Lock()
	p.sub = &cp
	p.mu.Unlock()
}

func (p *pipeline) suspend() {
	p.resumeMu.Lock()
	defer p.resumeMu.Unlock()
	if p.suspended.CompareAndSwap(false, true) {
		p.resumeCh = make(chan struct{})
	}
}

func (p *pipeline) resume() {
	p.resumeMu.Lock()
	defer p.resumeMu.Unlock()
	if p.suspended.CompareAndSwap(true, false) {
		close(p.resumeCh)
	}
}

func (p *pipeline) resumeGate() <-chan struct{} {
	p.resumeMu.Lock()
	defer p.resumeMu.Unlock()
	return p.resumeCh
}

// enqueue applies the overflow policy when the queue is full:
// drop-oldest evicts the head to make room, reject-new surfaces a
// CapacityError to the caller. Both are counted.
func (p *pipeline) enqueue(item *queuedItem) error {
	select {
	case p.queue <- item:
		return nil
	default:
	}

	sub := p.snapshot()
	if sub.Options.Overflow == domain.OverflowDropOldest {
		select {
		case old := <-p.queue:
			p.dropped.Add(1)
			slog.Warn("queue full, dropped oldest event",
				"subscription_id", sub.ID,
				"event_id", old.event.ID,
			)
		default:
		}
		select {
		case p.queue <- item:
			return nil
		default:
		}
	}

	p.dropped.Add(1)
	return domain.Capacityf("delivery queue full for subscription %s", sub.ID)
}

func (p *pipeline) worker() {
	defer p.d.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case item := <-p.queue:
			// A suspended pipeline holds work instead of delivering it.
			for p.suspended.Load() {
				select {
				case <-p.ctx.Done():
					return
				case <-p.resumeGate():
				}
			}
			p.process(item)
		}
	}
}

// process delivers one dequeued item, batching further fresh queue
// entries when the subscription and transport allow it.
func (p *pipeline) process(item *queuedItem) {
	sub := p.snapshot()

	deliverer, ok := p.d.deliverers[sub.ConnectionType]
	if !ok {
		slog.Error("no deliverer for connection type",
			"subscription_id", sub.ID,
			"connection_type", string(sub.ConnectionType),
		)
		return
	}

	batch := []*queuedItem{item}
	if sub.Options.BatchSize > 1 && deliverer.SupportsBatch() {
	drain:
		for len(batch) < sub.Options.BatchSize {
			select {
			case next := <-p.queue:
				batch = append(batch, next)
			default:
				break drain
			}
		}
	}

	events := make([]*domain.Event, len(batch))
	now := time.Now()
	for i, it := range batch {
		if it.event.Expired(now) {
			// Expired events are dropped silently from the batch slot;
			// deliver the rest.
			events[i] = nil
			continue
		}
		events[i] = it.event
	}
	live := events[:0]
	liveItems := batch[:0]
	for i, e := range events {
		if e != nil {
			live = append(live, e)
			liveItems = append(liveItems, batch[i])
		}
	}
	if len(live) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(p.d.baseCtx, p.d.cfg.DeliveryTimeout)
	start := time.Now()
	err := deliverer.Deliver(ctx, sub, live)
	latency := time.Since(start)
	timedOut := ctx.Err() == context.DeadlineExceeded
	cancel()

	if err == nil {
		p.d.stats.Delivered(len(live), latency)
		if p.d.hooks.OnResult != nil {
			p.d.hooks.OnResult(sub.ID, domain.OutcomeSuccess, len(live), latency, "")
		}
		return
	}

	outcome := domain.OutcomeFailure
	if timedOut {
		outcome = domain.OutcomeTimeout
	}
	for _, it := range liveItems {
		p.handleFailure(sub, it, outcome, latency, err)
	}
}

// handleFailure records the attempt and decides between retry, fallback
// and dead-letter for one item.
func (p *pipeline) handleFailure(sub *domain.Subscription, item *queuedItem, outcome domain.AttemptOutcome, latency time.Duration, err error) {
	errMsg := err.Error()
	item.attempts = append(item.attempts, domain.DeliveryAttempt{
		Attempt:   item.attempt,
		Timestamp: time.Now().UTC(),
		Outcome:   outcome,
		LatencyMS: latency.Milliseconds(),
		Error:     errMsg,
	})

	p.d.stats.Failed()
	if p.d.hooks.OnResult != nil {
		p.d.hooks.OnResult(sub.ID, outcome, 1, latency, errMsg)
	}

	// Realtime channels never retry: fail over to the fallback webhook
	// if configured, otherwise the failure is logged and dropped.
	if sub.Options.Realtime {
		p.handleRealtimeFailure(sub, item, errMsg)
		return
	}

	if item.attempt > sub.Options.Retry.MaxRetries {
		p.exhaust(sub, item, errMsg)
		return
	}

	delay := sub.Options.Retry.Delay(item.attempt)
	p.d.stats.Retried()
	p.d.sched.schedule(&retryTask{
		due:            time.Now().Add(delay),
		subscriptionID: sub.ID,
		event:          item.event,
		attempt:        item.attempt + 1,
		attempts:       item.attempts,
	})
	slog.Debug("delivery failed, retry scheduled",
		"subscription_id", sub.ID,
		"event_id", item.event.ID,
		"attempt", item.attempt,
		"delay", delay,
		"error", errMsg,
	)
}

func (p *pipeline) handleRealtimeFailure(sub *domain.Subscription, item *queuedItem, errMsg string) {
	if sub.Options.FallbackWebhook == "" {
		slog.Warn("realtime delivery failed, no fallback configured",
			"subscription_id", sub.ID,
			"event_id", item.event.ID,
			"error", errMsg,
		)
		return
	}

	ctx, cancel := context.WithTimeout(p.d.baseCtx, p.d.cfg.DeliveryTimeout)
	err := p.d.fallback.DeliverTo(ctx, sub.Options.FallbackWebhook, []*domain.Event{item.event})
	cancel()
	if err == nil {
		p.d.stats.Delivered(1, 0)
		if p.d.hooks.OnResult != nil {
			p.d.hooks.OnResult(sub.ID, domain.OutcomeSuccess, 1, 0, "")
		}
		return
	}

	item.attempts = append(item.attempts, domain.DeliveryAttempt{
		Attempt:   item.attempt + 1,
		Timestamp: time.Now().UTC(),
		Outcome:   domain.OutcomeFailure,
		Error:     "fallback: " + err.Error(),
	})
	p.exhaust(sub, item, "fallback failed: "+err.Error())
}

// exhaust moves the item to the dead-letter sink and tracks the
// rolling exhaustion count that can suspend the subscription.
func (p *pipeline) exhaust(sub *domain.Subscription, item *queuedItem, lastError string) {
	entry := domain.NewDeadLetterEntry(item.event, sub.ID, item.attempts, lastError)

	ctx, cancel := context.WithTimeout(p.d.baseCtx, 5*time.Second)
	err := p.d.dlq.Append(ctx, entry)
	cancel()
	if err != nil {
		slog.Error("failed to append dead-letter entry",
			"subscription_id", sub.ID,
			"event_id", item.event.ID,
			"error", err,
		)
	}

	p.d.stats.DeadLettered()
	if p.d.hooks.OnExhausted != nil {
		p.d.hooks.OnExhausted(sub.ID, entry)
	}
	slog.Warn("retries exhausted, event dead-lettered",
		"subscription_id", sub.ID,
		"event_id", item.event.ID,
		"attempts", len(item.attempts),
	)

	if p.recordExhaustion() {
		p.suspend()
		if p.d.hooks.OnSuspend != nil {
			p.d.hooks.OnSuspend(sub.ID, lastError)
		}
		slog.Warn("subscription suspended after repeated failures", "subscription_id", sub.ID)
	}
}

// recordExhaustion adds one exhaustion to the rolling window and
// reports whether the threshold has been crossed.
func (p *pipeline) recordExhaustion() bool {
	now := time.Now()
	cutoff := now.Add(-p.d.cfg.ErrorWindow)

	p.exhaustMu.Lock()
	defer p.exhaustMu.Unlock()

	kept := p.exhaustTimes[:0]
	for _, t := range p.exhaustTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.exhaustTimes = append(kept, now)
	return len(p.exhaustTimes) >= p.d.cfg.ErrorThreshold
}
