package bus

import (
	"context"
	"testing"
	"time"

	"github.com/fanoutsh/fanout/internal/domain"
	"github.com/fanoutsh/fanout/internal/store"
)

// seedHistory publishes n events on topic spaced 10ms apart in stored
// timestamps, directly through the event store so no live delivery
// happens.
func seedHistory(t *testing.T, mem *store.Memory, topic string, n int, base time.Time) []string {
	t.Helper()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ev := domain.NewEvent("seeded", "test", topic, domain.PriorityNormal, nil)
		ev.Timestamp = base.Add(time.Duration(i) * 10 * time.Millisecond)
		if err := mem.Append(context.Background(), ev); err != nil {
			t.Fatalf("seed: %v", err)
		}
		ids[i] = ev.ID
	}
	return ids
}

func TestReplayValidation(t *testing.T) {
	b, _ := newTestBus(t, &stubDeliverer{})
	ctx := context.Background()
	now := time.Now()

	cases := []struct {
		name string
		in   ReplayInput
	}{
		{"missing range", ReplayInput{}},
		{"inverted range", ReplayInput{From: now, To: now.Add(-time.Hour)}},
		{"speed too slow", ReplayInput{From: now.Add(-time.Hour), To: now, Speed: 0.01}},
		{"speed too fast", ReplayInput{From: now.Add(-time.Hour), To: now, Speed: 1000}},
		{"bad pattern", ReplayInput{From: now.Add(-time.Hour), To: now, Pattern: "#/x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.StartReplay(ctx, tc.in)
			if !domain.IsCode(err, domain.CodeValidation) {
				t.Fatalf("err = %v, want VALIDATION", err)
			}
		})
	}

	_, err := b.StartReplay(ctx, ReplayInput{
		From: now.Add(-time.Hour), To: now,
		SubscriptionIDs: []string{"sub_missing"},
	})
	if !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("unknown target: err = %v, want NOT_FOUND", err)
	}
}

func TestReplayDeliversMarkedEvents(t *testing.T) {
	stub := &stubDeliverer{}
	b, mem := newTestBus(t, stub)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UTC()
	ids := seedHistory(t, mem, "metrics/cpu", 5, base)

	// Single worker keeps delivery order deterministic.
	in := directSub("metrics/#")
	opts := domain.DefaultDeliveryOptions()
	opts.MaxConcurrency = 1
	in.Options = &opts
	if _, err := b.Subscribe(ctx, in); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	info, err := b.StartReplay(ctx, ReplayInput{
		From:  base,
		To:    base.Add(time.Minute),
		Speed: MaxReplaySpeed,
	})
	if err != nil {
		t.Fatalf("start replay: %v", err)
	}
	if info.EstimatedMS != int64(float64(time.Minute.Milliseconds())/MaxReplaySpeed) {
		t.Fatalf("estimated = %dms", info.EstimatedMS)
	}

	waitFor(t, 5*time.Second, func() bool { return stub.delivered() == 5 })

	// Original IDs preserved, replay marker set.
	for i, ev := range stub.got {
		if ev.ID != ids[i] {
			t.Fatalf("event %d id = %s, want %s", i, ev.ID, ids[i])
		}
		if !ev.Metadata.Replay || ev.Metadata.ReplayID != info.ID {
			t.Fatalf("event %d missing replay marker: %+v", i, ev.Metadata)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		got, err := b.Replay(info.ID)
		return err == nil && got.State == ReplayCompleted
	})
	got, _ := b.Replay(info.ID)
	if got.EventsReplayed != 5 || got.FinishedAt == nil {
		t.Fatalf("final status: %+v", got)
	}
}

func TestReplayPatternNarrowsStream(t *testing.T) {
	stub := &stubDeliverer{}
	b, mem := newTestBus(t, stub)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UTC()
	seedHistory(t, mem, "metrics/cpu", 3, base)
	seedHistory(t, mem, "logs/app", 3, base.Add(time.Millisecond))

	if _, err := b.Subscribe(ctx, directSub("#")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	info, err := b.StartReplay(ctx, ReplayInput{
		From:    base,
		To:      base.Add(time.Minute),
		Pattern: "metrics/*",
		Speed:   MaxReplaySpeed,
	})
	if err != nil {
		t.Fatalf("start replay: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		got, err := b.Replay(info.ID)
		return err == nil && got.State == ReplayCompleted
	})
	got, _ := b.Replay(info.ID)
	if got.EventsReplayed != 3 {
		t.Fatalf("events replayed = %d, want 3", got.EventsReplayed)
	}
}

func TestReplayTargetsSpecificSubscription(t *testing.T) {
	stub := &stubDeliverer{}
	b, mem := newTestBus(t, stub)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UTC()
	seedHistory(t, mem, "orders/created", 2, base)

	target, err := b.Subscribe(ctx, directSub("orders/#"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// A second matching subscription; targeting must bypass it.
	if _, err := b.Subscribe(ctx, directSub("orders/*")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	info, err := b.StartReplay(ctx, ReplayInput{
		From:            base,
		To:              base.Add(time.Minute),
		SubscriptionIDs: []string{target.ID},
		Speed:           MaxReplaySpeed,
	})
	if err != nil {
		t.Fatalf("start replay: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		got, _ := b.Replay(info.ID)
		return got != nil && got.State == ReplayCompleted
	})
	// Two seeded events, one targeted subscription: exactly two
	// deliveries even though both subscriptions match the topic.
	waitFor(t, 2*time.Second, func() bool { return stub.delivered() == 2 })
	time.Sleep(50 * time.Millisecond)
	if got := stub.delivered(); got != 2 {
		t.Fatalf("deliveries = %d, want 2", got)
	}
}

func TestReplayCancel(t *testing.T) {
	stub := &stubDeliverer{}
	b, mem := newTestBus(t, stub)
	ctx := context.Background()

	// Wide gaps at 1x speed keep the replay running long enough to
	// cancel deterministically.
	base := time.Now().Add(-2 * time.Hour).UTC()
	for i := 0; i < 3; i++ {
		ev := domain.NewEvent("seeded", "test", "slow/topic", domain.PriorityNormal, nil)
		ev.Timestamp = base.Add(time.Duration(i) * 30 * time.Minute)
		if err := mem.Append(ctx, ev); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	info, err := b.StartReplay(ctx, ReplayInput{
		From:  base,
		To:    base.Add(2 * time.Hour),
		Speed: 1.0,
	})
	if err != nil {
		t.Fatalf("start replay: %v", err)
	}

	// First event goes out immediately; the rest are 30 minutes away.
	waitFor(t, 2*time.Second, func() bool {
		got, _ := b.Replay(info.ID)
		return got != nil && got.EventsReplayed >= 1
	})

	if err := b.CancelReplay(info.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		got, _ := b.Replay(info.ID)
		return got.State == ReplayCancelled
	})

	if err := b.CancelReplay("rp_missing"); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("cancel unknown: err = %v, want NOT_FOUND", err)
	}
}
