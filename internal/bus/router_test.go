package bus

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/fanoutsh/fanout/internal/domain"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern  string
		topic    string
		expected bool
	}{
		// Exact matches
		{"project/created", "project/created", true},
		{"project/created", "project/updated", false},

		// Single-segment wildcard (*)
		{"project/*", "project/created", true},
		{"project/*", "project/updated", true},
		{"project/*", "project", false},
		{"project/*", "project/created/extra", false},
		{"*/created", "project/created", true},
		{"*/created", "project/updated", false},
		{"*/created", "project/sub/created", false},

		// Hierarchical wildcard (#)
		{"#", "project", true},
		{"#", "project/created", true},
		{"#", "a/b/c/d", true},
		{"project/#", "project/created", true},
		{"project/#", "project/created/extra", true},
		{"project/#", "project", false},
		{"project/#", "task/created", false},

		// Mixed
		{"project/*/done", "project/42/done", true},
		{"project/*/done", "project/42/failed", false},
		{"*/#", "project/created", true},
		{"*/#", "project", false},

		// Case sensitivity
		{"Project/created", "project/created", false},

		// Empty cases
		{"", "project/created", false},
		{"project/created", "", false},
	}

	for _, tt := range tests {
		if got := MatchTopic(tt.pattern, tt.topic); got != tt.expected {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.expected)
		}
	}
}

func routerEvent(topic string) *domain.Event {
	return domain.NewEvent("test.event", "svc-a", topic, domain.PriorityNormal, json.RawMessage(`{}`))
}

func TestRouterIndexedMatch(t *testing.T) {
	r := NewRouter()

	project := domain.NewSubscription("c1", "project/#", "https://a.example.com", domain.ConnectionWebhook)
	task := domain.NewSubscription("c1", "task/*", "https://b.example.com", domain.ConnectionWebhook)
	all := domain.NewSubscription("c2", "#", "https://c.example.com", domain.ConnectionWebhook)

	r.Add(project)
	r.Add(task)
	r.Add(all)

	matched := r.Match(routerEvent("project/created"))
	if len(matched) != 2 {
		t.Fatalf("matched %d subscriptions, want 2 (project/# and #)", len(matched))
	}

	matched = r.Match(routerEvent("task/created"))
	if len(matched) != 2 {
		t.Fatalf("matched %d subscriptions, want 2 (task/* and #)", len(matched))
	}

	matched = r.Match(routerEvent("billing/invoice"))
	if len(matched) != 1 {
		t.Fatalf("matched %d subscriptions, want 1 (# only)", len(matched))
	}
}

func TestRouterAppliesFilters(t *testing.T) {
	r := NewRouter()

	sub := domain.NewSubscription("c1", "project/#", "https://a.example.com", domain.ConnectionWebhook)
	sub.Filter = domain.Filter{
		Types:       []string{"project.created"},
		MinPriority: domain.PriorityHigh,
	}
	r.Add(sub)

	e := routerEvent("project/created")
	e.Type = "project.created"
	e.Priority = domain.PriorityNormal
	if got := r.Match(e); len(got) != 0 {
		t.Error("NORMAL priority passed a HIGH minimum filter")
	}

	e.Priority = domain.PriorityCritical
	if got := r.Match(e); len(got) != 1 {
		t.Error("CRITICAL priority rejected by HIGH minimum filter")
	}

	e.Type = "project.deleted"
	if got := r.Match(e); len(got) != 0 {
		t.Error("type outside the include list passed the filter")
	}
}

func TestRouterRemoveAndReplace(t *testing.T) {
	r := NewRouter()

	sub := domain.NewSubscription("c1", "project/#", "https://a.example.com", domain.ConnectionWebhook)
	r.Add(sub)
	if r.Size() != 1 {
		t.Fatalf("size = %d", r.Size())
	}

	// Re-adding with a new pattern moves buckets, does not duplicate.
	sub.Pattern = "task/#"
	r.Add(sub)
	if r.Size() != 1 {
		t.Fatalf("size after replace = %d", r.Size())
	}
	if got := r.Match(routerEvent("project/created")); len(got) != 0 {
		t.Error("stale bucket entry after pattern change")
	}
	if got := r.Match(routerEvent("task/created")); len(got) != 1 {
		t.Error("new pattern not matched after replace")
	}

	r.Remove(sub.ID)
	r.Remove(sub.ID) // unknown ID is a no-op
	if r.Size() != 0 {
		t.Fatalf("size after remove = %d", r.Size())
	}
}

func TestRouterCountMatching(t *testing.T) {
	r := NewRouter()

	a := domain.NewSubscription("c1", "project/#", "https://a.example.com", domain.ConnectionWebhook)
	// Filters are ignored by CountMatching.
	a.Filter = domain.Filter{Types: []string{"never.matches"}}
	b := domain.NewSubscription("c2", "#", "https://b.example.com", domain.ConnectionWebhook)
	r.Add(a)
	r.Add(b)

	if n := r.CountMatching("project/created"); n != 2 {
		t.Errorf("CountMatching = %d, want 2", n)
	}
	if n := r.CountMatching("billing/invoice"); n != 1 {
		t.Errorf("CountMatching = %d, want 1", n)
	}
}

func TestRouterConcurrentAccess(t *testing.T) {
	r := NewRouter()
	e := routerEvent("project/created")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				sub := domain.NewSubscription("c", "project/#", "https://x.example.com", domain.ConnectionWebhook)
				r.Add(sub)
				r.Remove(sub.ID)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.Match(e)
				r.CountMatching("project/created")
			}
		}()
	}
	wg.Wait()
}
