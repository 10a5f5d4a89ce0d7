package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/fanoutsh/fanout/internal/domain"
)

func TestRetrySchedulerFiresInDueOrder(t *testing.T) {
	var mu sync.Mutex
	var fired []string

	s := newRetryScheduler(func(task *retryTask) {
		mu.Lock()
		fired = append(fired, task.event.ID)
		mu.Unlock()
	})
	s.start()
	defer s.shutdown()

	now := time.Now()
	evA := &domain.Event{ID: "evt_a"}
	evB := &domain.Event{ID: "evt_b"}
	evC := &domain.Event{ID: "evt_c"}

	// Scheduled out of order; must fire by due time.
	s.schedule(&retryTask{due: now.Add(60 * time.Millisecond), subscriptionID: "s1", event: evC})
	s.schedule(&retryTask{due: now.Add(20 * time.Millisecond), subscriptionID: "s1", event: evA})
	s.schedule(&retryTask{due: now.Add(40 * time.Millisecond), subscriptionID: "s1", event: evB})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []string{"evt_a", "evt_b", "evt_c"}
	for i, id := range want {
		if fired[i] != id {
			t.Fatalf("fired[%d] = %s, want %s (full order %v)", i, fired[i], id, fired)
		}
	}
}

func TestRetrySchedulerCancelSubscription(t *testing.T) {
	var mu sync.Mutex
	var fired []string

	s := newRetryScheduler(func(task *retryTask) {
		mu.Lock()
		fired = append(fired, task.subscriptionID)
		mu.Unlock()
	})
	s.start()
	defer s.shutdown()

	due := time.Now().Add(50 * time.Millisecond)
	s.schedule(&retryTask{due: due, subscriptionID: "keep", event: &domain.Event{ID: "evt_1"}})
	s.schedule(&retryTask{due: due, subscriptionID: "drop", event: &domain.Event{ID: "evt_2"}})
	s.schedule(&retryTask{due: due, subscriptionID: "drop", event: &domain.Event{ID: "evt_3"}})

	s.cancelSubscription("drop")
	if got := s.pending(); got != 1 {
		t.Fatalf("pending after cancel = %d, want 1", got)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) > 0
	})

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 || fired[0] != "keep" {
		t.Fatalf("fired = %v, want [keep]", fired)
	}
}

func TestRetrySchedulerShutdownAbandonsPending(t *testing.T) {
	s := newRetryScheduler(func(*retryTask) {
		t.Error("task fired after shutdown window")
	})
	s.start()

	s.schedule(&retryTask{due: time.Now().Add(time.Hour), subscriptionID: "s1", event: &domain.Event{ID: "evt_1"}})
	s.shutdown()

	if got := s.pending(); got != 1 {
		t.Fatalf("pending = %d, want 1 abandoned task", got)
	}
}

// waitFor polls cond until it holds or the deadline lapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
