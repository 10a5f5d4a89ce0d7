package domain

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Priority orders events within a topic. Higher priorities are never
// reordered ahead of lower ones by the broker itself; priority exists for
// subscription filtering.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityNormal   Priority = "NORMAL"
	PriorityLow      Priority = "LOW"
)

var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityNormal:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Rank returns a comparable ordering for priorities. Unknown values rank
// as NORMAL.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[PriorityNormal]
}

// Valid reports whether p is one of the four known priorities.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Metadata carries free-form context attached to an event at publish time.
// The replay fields are set by the replay engine only, never by publishers.
type Metadata struct {
	UserID    string     `json:"user_id,omitempty"`
	ProjectID string     `json:"project_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Replay marker: non-empty ReplayID means this delivery originates
	// from a replay stream, not live publish.
	Replay   bool   `json:"replay,omitempty"`
	ReplayID string `json:"replay_id,omitempty"`
}

// HasTag reports whether tag is present in the metadata tags.
func (m *Metadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Event is the unit of distribution. ID, Seq and Timestamp are assigned
// exactly once at ingest and never mutated afterwards.
type Event struct {
	ID            string          `json:"id"`
	Seq           uint64          `json:"seq,omitempty"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Topic         string          `json:"topic"`
	Priority      Priority        `json:"priority"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      Metadata        `json:"metadata,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	SchemaVersion string          `json:"schema_version,omitempty"`
}

// NewEvent creates an event with a generated ID and ingest timestamp.
func NewEvent(eventType, source, topic string, priority Priority, payload json.RawMessage) *Event {
	if !priority.Valid() {
		priority = PriorityNormal
	}
	return &Event{
		ID:        generateEventID(),
		Type:      eventType,
		Source:    source,
		Topic:     topic,
		Priority:  priority,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Expired reports whether the event carries an expiry that has passed.
func (e *Event) Expired(now time.Time) bool {
	return e.Metadata.ExpiresAt != nil && now.After(*e.Metadata.ExpiresAt)
}

// generateEventID creates a unique event ID with "evt_" prefix.
func generateEventID() string {
	b := make([]byte, 12)
	rand.Read(b)
	return "evt_" + hex.EncodeToString(b)
}
