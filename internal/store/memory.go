package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fanoutsh/fanout/internal/domain"
)

// Memory is an in-process store backing all three contracts. Used in
// dev mode (STORE_BACKEND=memory) and throughout the tests. The event
// log is bounded: once maxEvents is exceeded the oldest events are
// discarded, matching the retention semantics of the durable backend.
type Memory struct {
	mu        sync.RWMutex
	events    []*domain.Event
	seq       uint64
	maxEvents int

	subs map[string]*domain.Subscription

	dlqMu sync.RWMutex
	dlq   []*domain.DeadLetterEntry
}

// DefaultMaxEvents bounds the in-memory event log.
const DefaultMaxEvents = 100_000

// NewMemory creates an empty in-memory store. maxEvents <= 0 uses the
// default bound.
func NewMemory(maxEvents int) *Memory {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Memory{
		maxEvents: maxEvents,
		subs:      make(map[string]*domain.Subscription),
	}
}

// Append assigns the next sequence number and appends the event.
func (m *Memory) Append(_ context.Context, event *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	event.Seq = m.seq
	m.events = append(m.events, event)
	if len(m.events) > m.maxEvents {
		// Drop the oldest tenth in one move to amortize the copy.
		drop := m.maxEvents / 10
		if drop < 1 {
			drop = 1
		}
		m.events = append(m.events[:0], m.events[drop:]...)
	}
	return nil
}

func matchesQuery(e *domain.Event, q EventQuery) bool {
	if q.Topic != "" && e.Topic != q.Topic {
		return false
	}
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if q.Source != "" && e.Source != q.Source {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !e.Timestamp.Before(q.Until) {
		return false
	}
	return true
}

// Query returns matching events plus the total match count before
// limit/offset are applied.
func (m *Memory) Query(_ context.Context, q EventQuery) ([]*domain.Event, int, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*domain.Event
	for _, e := range m.events {
		if matchesQuery(e, q) {
			matched = append(matched, e)
		}
	}

	total := len(matched)
	if q.Offset >= total {
		return nil, total, nil
	}
	matched = matched[q.Offset:]
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]*domain.Event, len(matched))
	copy(out, matched)
	return out, total, nil
}

// Range streams events with Timestamp in [from, to) in log order, which
// is timestamp order with sequence tie-break by construction.
func (m *Memory) Range(ctx context.Context, from, to time.Time, fn func(*domain.Event) error) error {
	m.mu.RLock()
	snapshot := make([]*domain.Event, len(m.events))
	copy(snapshot, m.events)
	m.mu.RUnlock()

	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !e.Timestamp.Before(to) {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Save upserts a subscription. The stored value is a copy so callers
// cannot mutate the record without going through Save.
func (m *Memory) Save(_ context.Context, sub *domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

// Get returns a copy of the subscription or a NotFoundError.
func (m *Memory) Get(_ context.Context, id string) (*domain.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, domain.NotFoundf("subscription %s not found", id)
	}
	cp := *sub
	return &cp, nil
}

// ListByCaller returns the caller's subscriptions, newest first.
func (m *Memory) ListByCaller(_ context.Context, callerID string) ([]*domain.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Subscription
	for _, sub := range m.subs {
		if sub.CallerID == callerID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListActive returns all active subscriptions.
func (m *Memory) ListActive(_ context.Context) ([]*domain.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Subscription
	for _, sub := range m.subs {
		if sub.Active() {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Append adds a dead-letter entry.
func (m *Memory) AppendDeadLetter(_ context.Context, entry *domain.DeadLetterEntry) error {
	m.dlqMu.Lock()
	defer m.dlqMu.Unlock()
	m.dlq = append(m.dlq, entry)
	return nil
}

// GetDeadLetter returns the entry or a NotFoundError.
func (m *Memory) GetDeadLetter(_ context.Context, id string) (*domain.DeadLetterEntry, error) {
	m.dlqMu.RLock()
	defer m.dlqMu.RUnlock()
	for _, e := range m.dlq {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, domain.NotFoundf("dead-letter entry %s not found", id)
}

// ListDeadLetters filters entries by subscription and time range.
func (m *Memory) ListDeadLetters(_ context.Context, q DeadLetterQuery) ([]*domain.DeadLetterEntry, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	m.dlqMu.RLock()
	defer m.dlqMu.RUnlock()
	var out []*domain.DeadLetterEntry
	for _, e := range m.dlq {
		if q.SubscriptionID != "" && e.SubscriptionID != q.SubscriptionID {
			continue
		}
		if !q.Since.IsZero() && e.FailedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && !e.FailedAt.Before(q.Until) {
			continue
		}
		out = append(out, e)
		if len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// DeleteDeadLetter removes one entry.
func (m *Memory) DeleteDeadLetter(_ context.Context, id string) error {
	m.dlqMu.Lock()
	defer m.dlqMu.Unlock()
	for i, e := range m.dlq {
		if e.ID == id {
			m.dlq = append(m.dlq[:i], m.dlq[i+1:]...)
			return nil
		}
	}
	return domain.NotFoundf("dead-letter entry %s not found", id)
}

// PurgeDeadLetters removes entries older than cutoff.
func (m *Memory) PurgeDeadLetters(_ context.Context, cutoff time.Time) (int, error) {
	m.dlqMu.Lock()
	defer m.dlqMu.Unlock()
	kept := m.dlq[:0]
	purged := 0
	for _, e := range m.dlq {
		if e.FailedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	m.dlq = kept
	return purged, nil
}

// DeadLetters adapts Memory to the DeadLetterStore interface. Kept as a
// thin view so Memory can back all three contracts without method name
// collisions on Append/Get/List.
func (m *Memory) DeadLetters() DeadLetterStore { return memoryDLQ{m} }

type memoryDLQ struct{ m *Memory }

func (v memoryDLQ) Append(ctx context.Context, e *domain.DeadLetterEntry) error {
	return v.m.AppendDeadLetter(ctx, e)
}

func (v memoryDLQ) Get(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	return v.m.GetDeadLetter(ctx, id)
}

func (v memoryDLQ) List(ctx context.Context, q DeadLetterQuery) ([]*domain.DeadLetterEntry, error) {
	return v.m.ListDeadLetters(ctx, q)
}

func (v memoryDLQ) Delete(ctx context.Context, id string) error {
	return v.m.DeleteDeadLetter(ctx, id)
}

func (v memoryDLQ) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	return v.m.PurgeDeadLetters(ctx, cutoff)
}
