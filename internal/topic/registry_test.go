package topic

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fanoutsh/fanout/internal/domain"
)

func TestRegisterAndDuplicate(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("orders/created", nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("orders/created", nil); err != ErrExists {
		t.Fatalf("duplicate register: err = %v, want ErrExists", err)
	}
	if err := r.Register("", nil); !domain.IsCode(err, domain.CodeValidation) {
		t.Fatalf("empty name: err = %v, want VALIDATION", err)
	}
	if err := r.Register("bad/schema", json.RawMessage(`{"type": 42}`)); !domain.IsCode(err, domain.CodeValidation) {
		t.Fatalf("invalid schema: err = %v, want VALIDATION", err)
	}
}

func TestLazyTopicUpgradesToRegistered(t *testing.T) {
	r := NewRegistry()

	// Seen via publish first, then explicitly registered with a schema.
	r.RecordPublish("metrics/cpu", time.Now())
	schema := json.RawMessage(`{"type":"object","required":["value"]}`)
	if err := r.Register("metrics/cpu", schema); err != nil {
		t.Fatalf("upgrade register: %v", err)
	}
	if err := r.Register("metrics/cpu", schema); err != ErrExists {
		t.Fatalf("second register: err = %v, want ErrExists", err)
	}
	if r.Schema("metrics/cpu") == nil {
		t.Fatal("schema not retained")
	}
}

func TestValidate(t *testing.T) {
	r := NewRegistry()
	schema := json.RawMessage(`{"type":"object","required":["value"],"properties":{"value":{"type":"number"}}}`)
	if err := r.Register("metrics/cpu", schema); err != nil {
		t.Fatalf("register: %v", err)
	}

	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr bool
	}{
		{"valid payload", "metrics/cpu", `{"value": 0.93}`, false},
		{"missing field", "metrics/cpu", `{"other": 1}`, true},
		{"wrong type", "metrics/cpu", `{"value": "high"}`, true},
		{"empty payload", "metrics/cpu", ``, true},
		{"unknown topic passes", "metrics/mem", `{"anything": true}`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := r.Validate(tc.topic, json.RawMessage(tc.payload))
			if tc.wantErr && !domain.IsCode(err, domain.CodeValidation) {
				t.Fatalf("err = %v, want VALIDATION", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected: %v", err)
			}
		})
	}
}

func TestListCountsAndOrder(t *testing.T) {
	r := NewRegistry()
	now := time.Now().UTC()

	r.RecordPublish("b/topic", now)
	r.RecordPublish("b/topic", now.Add(time.Second))
	r.Touch("a/topic")

	counts := map[string]int{"a/topic": 2}
	infos := r.List(func(topic string) int { return counts[topic] })

	if len(infos) != 2 {
		t.Fatalf("len = %d, want 2", len(infos))
	}
	if infos[0].Name != "a/topic" || infos[1].Name != "b/topic" {
		t.Fatalf("order = %s, %s", infos[0].Name, infos[1].Name)
	}
	if infos[0].SubscriberCount != 2 {
		t.Errorf("subscriber count = %d, want 2", infos[0].SubscriberCount)
	}
	if infos[0].EventCount != 0 || infos[0].LastEvent != nil {
		t.Errorf("touched topic has publish stats: %+v", infos[0])
	}
	if infos[1].EventCount != 2 || infos[1].LastEvent == nil {
		t.Errorf("published topic stats: %+v", infos[1])
	}
	if !infos[1].LastEvent.Equal(now.Add(time.Second)) {
		t.Errorf("last event = %v", infos[1].LastEvent)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topics.yaml")
	content := `topics:
  - name: orders/created
    schema:
      type: object
      required: [order_id]
  - name: logs/app
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := r.Validate("orders/created", json.RawMessage(`{"no":1}`)); err == nil {
		t.Fatal("schema from file not enforced")
	}
	if err := r.Validate("orders/created", json.RawMessage(`{"order_id":"o1"}`)); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	if err := r.Validate("logs/app", json.RawMessage(`{"free":"form"}`)); err != nil {
		t.Fatalf("schemaless topic rejected: %v", err)
	}

	// Loading again is idempotent for already-registered names.
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if err := r.LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("missing file not reported")
	}
}
