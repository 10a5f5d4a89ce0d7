package domain

import (
	"testing"
	"time"
)

func TestRetryPolicyExponentialDelays(t *testing.T) {
	p := RetryPolicy{
		MaxRetries:     6,
		Backoff:        BackoffExponential,
		InitialDelayMS: 1000,
		MaxDelayMS:     30000,
	}

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond, // capped
		30000 * time.Millisecond,
	}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestRetryPolicyLinearAndFixed(t *testing.T) {
	linear := RetryPolicy{Backoff: BackoffLinear, InitialDelayMS: 500, MaxDelayMS: 30000}
	for i := 1; i <= 4; i++ {
		want := time.Duration(i) * 500 * time.Millisecond
		if got := linear.Delay(i); got != want {
			t.Errorf("linear Delay(%d) = %v, want %v", i, got, want)
		}
	}

	fixed := RetryPolicy{Backoff: BackoffFixed, InitialDelayMS: 750, MaxDelayMS: 30000}
	for i := 1; i <= 4; i++ {
		if got := fixed.Delay(i); got != 750*time.Millisecond {
			t.Errorf("fixed Delay(%d) = %v, want 750ms", i, got)
		}
	}
}

func TestRetryPolicyJitterBounds(t *testing.T) {
	p := RetryPolicy{Backoff: BackoffFixed, InitialDelayMS: 1000, MaxDelayMS: 30000, Jitter: true}

	lo := 800 * time.Millisecond
	hi := 1200 * time.Millisecond
	for i := 0; i < 200; i++ {
		d := p.Delay(1)
		if d < lo || d > hi {
			t.Fatalf("jittered delay %v outside [%v, %v]", d, lo, hi)
		}
	}
}

func TestRetryPolicyDelayClampsAttempt(t *testing.T) {
	p := DefaultRetryPolicy()
	p.Jitter = false
	if got := p.Delay(0); got != time.Second {
		t.Errorf("Delay(0) = %v, want 1s", got)
	}
	// Huge attempt numbers must not overflow past the cap.
	if got := p.Delay(64); got != 30*time.Second {
		t.Errorf("Delay(64) = %v, want 30s", got)
	}
}

func TestFilterMatches(t *testing.T) {
	base := func() *Event {
		return &Event{
			Type:     "order.created",
			Source:   "checkout",
			Topic:    "orders/created",
			Priority: PriorityNormal,
			Metadata: Metadata{
				UserID:    "u1",
				ProjectID: "p1",
				Tags:      []string{"eu", "beta"},
			},
		}
	}

	tests := []struct {
		name   string
		filter Filter
		mutate func(*Event)
		want   bool
	}{
		{"empty filter matches", Filter{}, nil, true},
		{"type allow", Filter{Types: []string{"order.created"}}, nil, true},
		{"type allow miss", Filter{Types: []string{"order.deleted"}}, nil, false},
		{"type exclude", Filter{ExcludeTypes: []string{"order.created"}}, nil, false},
		{"source allow", Filter{Sources: []string{"checkout", "admin"}}, nil, true},
		{"source miss", Filter{Sources: []string{"admin"}}, nil, false},
		{"min priority met", Filter{MinPriority: PriorityNormal}, nil, true},
		{"min priority unmet", Filter{MinPriority: PriorityHigh}, nil, false},
		{"min priority critical event", Filter{MinPriority: PriorityHigh}, func(e *Event) { e.Priority = PriorityCritical }, true},
		{"all tags present", Filter{Tags: []string{"eu", "beta"}}, nil, true},
		{"tag missing", Filter{Tags: []string{"eu", "gamma"}}, nil, false},
		{"user match", Filter{UserID: "u1"}, nil, true},
		{"user mismatch", Filter{UserID: "u2"}, nil, false},
		{"project mismatch", Filter{ProjectID: "p2"}, nil, false},
		{"combined clauses", Filter{Types: []string{"order.created"}, MinPriority: PriorityNormal, UserID: "u1"}, nil, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := base()
			if tc.mutate != nil {
				tc.mutate(e)
			}
			if got := tc.filter.Matches(e); got != tc.want {
				t.Errorf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEventExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	e := &Event{}
	if e.Expired(now) {
		t.Error("event without expiry reported expired")
	}
	e.Metadata.ExpiresAt = &future
	if e.Expired(now) {
		t.Error("future expiry reported expired")
	}
	e.Metadata.ExpiresAt = &past
	if !e.Expired(now) {
		t.Error("past expiry not reported expired")
	}
}

func TestNewEventDefaults(t *testing.T) {
	e := NewEvent("t", "s", "a/b", "BOGUS", nil)
	if e.Priority != PriorityNormal {
		t.Errorf("priority = %s, want NORMAL fallback", e.Priority)
	}
	if len(e.ID) != len("evt_")+24 {
		t.Errorf("id %q has unexpected shape", e.ID)
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp not assigned")
	}
}
