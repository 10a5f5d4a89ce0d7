package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fanoutsh/fanout/internal/domain"
)

func newTestEvent(topic, eventType string) *domain.Event {
	return domain.NewEvent(eventType, "test-service", topic, domain.PriorityNormal, json.RawMessage(`{}`))
}

func TestMemoryAppendAssignsSequence(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	a := newTestEvent("project/created", "project.created")
	b := newTestEvent("project/updated", "project.updated")

	if err := m.Append(ctx, a); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := m.Append(ctx, b); err != nil {
		t.Fatalf("append: %v", err)
	}

	if a.Seq == 0 || b.Seq == 0 {
		t.Fatal("expected non-zero sequence numbers")
	}
	if b.Seq <= a.Seq {
		t.Errorf("sequence not monotonic: %d then %d", a.Seq, b.Seq)
	}
}

func TestMemoryQueryFilters(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	m.Append(ctx, newTestEvent("project/created", "project.created"))
	m.Append(ctx, newTestEvent("project/created", "project.created"))
	m.Append(ctx, newTestEvent("task/created", "task.created"))

	events, total, err := m.Query(ctx, EventQuery{Topic: "project/created"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 2 || len(events) != 2 {
		t.Errorf("got %d events (total %d), want 2", len(events), total)
	}

	events, total, err = m.Query(ctx, EventQuery{Type: "task.created"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 1 || len(events) != 1 {
		t.Errorf("got %d events (total %d), want 1", len(events), total)
	}
}

func TestMemoryQueryPaging(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		m.Append(ctx, newTestEvent("t/a", "t.a"))
	}

	events, total, err := m.Query(ctx, EventQuery{Limit: 4, Offset: 8})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 10 {
		t.Errorf("total = %d, want 10", total)
	}
	if len(events) != 2 {
		t.Errorf("got %d events, want 2 (last page)", len(events))
	}

	// Offset past the end is empty, not an error.
	events, _, err = m.Query(ctx, EventQuery{Limit: 4, Offset: 100})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events past the end, want 0", len(events))
	}
}

func TestMemoryRangeOrderAndBounds(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		e := newTestEvent("t/a", "t.a")
		e.Timestamp = base.Add(time.Duration(i) * time.Second)
		m.Append(ctx, e)
	}

	var got []uint64
	err := m.Range(ctx, base.Add(time.Second), base.Add(4*time.Second), func(e *domain.Event) error {
		got = append(got, e.Seq)
		return nil
	})
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3 (from inclusive, to exclusive)", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Errorf("range not in order: %v", got)
		}
	}
}

func TestMemorySubscriptionLifecycle(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	sub := domain.NewSubscription("caller-1", "project/#", "https://example.com/hook", domain.ConnectionWebhook)
	if err := m.Save(ctx, sub); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := m.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Pattern != "project/#" {
		t.Errorf("pattern = %q", got.Pattern)
	}

	// Cancel is a status update, the row survives.
	now := time.Now().UTC()
	sub.Status = domain.StatusCancelled
	sub.CancelledAt = &now
	if err := m.Save(ctx, sub); err != nil {
		t.Fatalf("save cancelled: %v", err)
	}

	active, err := m.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("cancelled subscription still listed active")
	}

	byCaller, err := m.ListByCaller(ctx, "caller-1")
	if err != nil {
		t.Fatalf("list by caller: %v", err)
	}
	if len(byCaller) != 1 {
		t.Errorf("cancelled subscription dropped from caller listing")
	}

	if _, err := m.Get(ctx, "sub_missing"); !domain.IsCode(err, domain.CodeNotFound) {
		t.Errorf("expected NotFound for unknown id, got %v", err)
	}
}

func TestMemoryDeadLetterStore(t *testing.T) {
	m := NewMemory(0)
	dlq := m.DeadLetters()
	ctx := context.Background()

	entry := domain.NewDeadLetterEntry(newTestEvent("t/a", "t.a"), "sub_1", nil, "HTTP 500")
	old := domain.NewDeadLetterEntry(newTestEvent("t/b", "t.b"), "sub_2", nil, "timeout")
	old.FailedAt = time.Now().UTC().Add(-48 * time.Hour)

	dlq.Append(ctx, entry)
	dlq.Append(ctx, old)

	got, err := dlq.List(ctx, DeadLetterQuery{SubscriptionID: "sub_1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != entry.ID {
		t.Errorf("list by subscription returned %d entries", len(got))
	}

	purged, err := dlq.Purge(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	if err := dlq.Delete(ctx, entry.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := dlq.Delete(ctx, entry.ID); !domain.IsCode(err, domain.CodeNotFound) {
		t.Errorf("second delete should be NotFound, got %v", err)
	}
}
