// Package bus is the event distribution core: topic routing,
// per-subscription delivery pipelines with retry/backoff, dead-letter
// capture and replay.
package bus

import (
	"strings"
	"sync"

	"github.com/fanoutsh/fanout/internal/domain"
)

// ValidatePattern rejects malformed subscription patterns: empty
// segments, '#' anywhere but the final segment, and wildcards embedded
// inside a segment.
func ValidatePattern(pattern string) error {
	segs := strings.Split(pattern, "/")
	for i, seg := range segs {
		if seg == "" {
			return domain.Validationf("pattern %q has an empty segment", pattern)
		}
		if seg == "#" {
			if i != len(segs)-1 {
				return domain.Validationf("'#' must be the final segment in %q", pattern)
			}
			continue
		}
		if strings.ContainsAny(seg, "*#") && seg != "*" {
			return domain.Validationf("wildcard must occupy a whole segment in %q", pattern)
		}
	}
	return nil
}

// MatchTopic reports whether a subscription pattern matches a topic.
// Topics and patterns are '/'-separated; '*' matches exactly one
// segment, '#' matches one or more trailing segments. Matching is
// case-sensitive.
func MatchTopic(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}

	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")

	for i, seg := range pp {
		if seg == "#" {
			// One-or-more trailing segments must remain.
			return len(tp) > i
		}
		if i >= len(tp) {
			return false
		}
		if seg == "*" {
			continue
		}
		if seg != tp[i] {
			return false
		}
	}
	return len(pp) == len(tp)
}

// firstConcreteSegment returns the leading segment of a pattern when it
// is not a wildcard, or "" for patterns that must be checked against
// every event.
func firstConcreteSegment(pattern string) string {
	seg, _, _ := strings.Cut(pattern, "/")
	if seg == "*" || seg == "#" {
		return ""
	}
	return seg
}

// Router resolves a published event to the set of active subscriptions
// whose pattern and filter match. Subscriptions are indexed by the first
// concrete segment of their pattern so steady-state matching only scans
// one bucket plus the (normally small) catch-all set of wildcard-first
// patterns. Reads are concurrent with adds/removes.
type Router struct {
	mu       sync.RWMutex
	byFirst  map[string]map[string]*domain.Subscription
	catchAll map[string]*domain.Subscription
	patterns map[string]string // subscription ID -> pattern, for removal
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		byFirst:  make(map[string]map[string]*domain.Subscription),
		catchAll: make(map[string]*domain.Subscription),
		patterns: make(map[string]string),
	}
}

// Add indexes a subscription. Replaces any previous entry for the same
// ID (the stored value is a snapshot; callers re-Add after mutating a
// subscription).
func (r *Router) Add(sub *domain.Subscription) {
	cp := *sub

	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(sub.ID)
	r.patterns[sub.ID] = sub.Pattern

	if first := firstConcreteSegment(sub.Pattern); first != "" {
		bucket, ok := r.byFirst[first]
		if !ok {
			bucket = make(map[string]*domain.Subscription)
			r.byFirst[first] = bucket
		}
		bucket[sub.ID] = &cp
	} else {
		r.catchAll[sub.ID] = &cp
	}
}

// Remove drops a subscription from the index. Safe to call for unknown
// IDs.
func (r *Router) Remove(subscriptionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(subscriptionID)
}

func (r *Router) removeLocked(subscriptionID string) {
	pattern, ok := r.patterns[subscriptionID]
	if !ok {
		return
	}
	delete(r.patterns, subscriptionID)

	if first := firstConcreteSegment(pattern); first != "" {
		if bucket, ok := r.byFirst[first]; ok {
			delete(bucket, subscriptionID)
			if len(bucket) == 0 {
				delete(r.byFirst, first)
			}
		}
	} else {
		delete(r.catchAll, subscriptionID)
	}
}

// Match returns the active subscriptions whose pattern and filter accept
// the event. The result is deterministic for a given index state (the
// dispatcher does not depend on order, but tests do).
func (r *Router) Match(event *domain.Event) []*domain.Subscription {
	first, _, _ := strings.Cut(event.Topic, "/")

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Subscription
	collect := func(bucket map[string]*domain.Subscription) {
		for _, sub := range bucket {
			if !sub.Active() {
				continue
			}
			if !MatchTopic(sub.Pattern, event.Topic) {
				continue
			}
			if !sub.Filter.Matches(event) {
				continue
			}
			out = append(out, sub)
		}
	}
	collect(r.byFirst[first])
	collect(r.catchAll)
	return out
}

// CountMatching counts subscriptions whose pattern matches the topic,
// ignoring filters. Feeds topic listing subscriber counts.
func (r *Router) CountMatching(topic string) int {
	first, _, _ := strings.Cut(topic, "/")

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, sub := range r.byFirst[first] {
		if sub.Active() && MatchTopic(sub.Pattern, topic) {
			n++
		}
	}
	for _, sub := range r.catchAll {
		if sub.Active() && MatchTopic(sub.Pattern, topic) {
			n++
		}
	}
	return n
}

// Size returns the number of indexed subscriptions.
func (r *Router) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.patterns)
}
