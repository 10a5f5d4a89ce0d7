// Package topic materializes topic metadata lazily. Topics exist
// implicitly as routing strings; the registry only tracks what has been
// seen (event counts, last event time) plus optional JSON Schemas that
// gate publishes.
package topic

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fanoutsh/fanout/internal/domain"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ErrExists is returned when registering a topic that is already
// registered explicitly.
var ErrExists = errors.New("topic already registered")

// Info is the externally visible topic metadata.
type Info struct {
	Name            string     `json:"name"`
	SubscriberCount int        `json:"subscriber_count"`
	EventCount      int64      `json:"event_count"`
	LastEvent       *time.Time `json:"last_event,omitempty"`
	HasSchema       bool       `json:"has_schema"`
}

type entry struct {
	name       string
	registered bool // explicit POST /topics or config file, vs lazily seen
	schema     *gojsonschema.Schema
	schemaJSON json.RawMessage
	eventCount int64
	lastEvent  time.Time
}

// Registry tracks known topics. Reads vastly outnumber writes, so a
// plain RWMutex map is sufficient here; the hot path (Validate) takes
// the read lock only.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{topics: make(map[string]*entry)}
}

// Register records a topic explicitly, with an optional JSON Schema that
// future publishes to the topic must satisfy. Returns ErrExists if the
// topic was already registered explicitly (lazily materialized topics
// can be upgraded to registered ones).
func (r *Registry) Register(name string, schemaJSON json.RawMessage) error {
	if name == "" {
		return domain.Validationf("topic name is required")
	}

	var schema *gojsonschema.Schema
	if len(schemaJSON) > 0 {
		var err error
		schema, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
		if err != nil {
			return domain.Validationf("invalid JSON Schema for topic %s: %v", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.topics[name]
	if ok && e.registered {
		return ErrExists
	}
	if !ok {
		e = &entry{name: name}
		r.topics[name] = e
	}
	e.registered = true
	e.schema = schema
	e.schemaJSON = schemaJSON
	return nil
}

// Validate checks the payload against the topic's schema, if one is
// registered. Unknown topics and schemaless topics always pass.
func (r *Registry) Validate(name string, payload json.RawMessage) error {
	r.mu.RLock()
	e, ok := r.topics[name]
	var schema *gojsonschema.Schema
	if ok {
		schema = e.schema
	}
	r.mu.RUnlock()

	if schema == nil {
		return nil
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`null`)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return domain.Validationf("schema validation failed for topic %s: %v", name, err)
	}
	if !result.Valid() {
		msg := "payload rejected by topic schema"
		if errs := result.Errors(); len(errs) > 0 {
			msg = errs[0].String()
		}
		return domain.Validationf("topic %s: %s", name, msg)
	}
	return nil
}

// RecordPublish materializes the topic if needed and bumps its counters.
func (r *Registry) RecordPublish(name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.topics[name]
	if !ok {
		e = &entry{name: name}
		r.topics[name] = e
	}
	e.eventCount++
	if at.After(e.lastEvent) {
		e.lastEvent = at
	}
}

// Touch materializes a topic on first subscribe without bumping counters.
func (r *Registry) Touch(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.topics[name]; !ok {
		r.topics[name] = &entry{name: name}
	}
}

// Schema returns the registered schema document for a topic, or nil.
func (r *Registry) Schema(name string) json.RawMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.topics[name]; ok {
		return e.schemaJSON
	}
	return nil
}

// List returns all known topics sorted by name. subscriberCount is
// supplied by the caller (the router knows which patterns match a
// topic, the registry does not).
func (r *Registry) List(subscriberCount func(topic string) int) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.topics))
	for _, e := range r.topics {
		info := Info{
			Name:       e.name,
			EventCount: e.eventCount,
			HasSchema:  e.schema != nil,
		}
		if !e.lastEvent.IsZero() {
			t := e.lastEvent
			info.LastEvent = &t
		}
		if subscriberCount != nil {
			info.SubscriberCount = subscriberCount(e.name)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// fileConfig is the shape of the optional topics config file.
type fileConfig struct {
	Topics []struct {
		Name   string         `yaml:"name"`
		Schema map[string]any `yaml:"schema"`
	} `yaml:"topics"`
}

// LoadFile pre-registers topics (and schemas) from a YAML file.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read topics config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse topics config: %w", err)
	}

	for _, t := range cfg.Topics {
		var schemaJSON json.RawMessage
		if t.Schema != nil {
			schemaJSON, err = json.Marshal(t.Schema)
			if err != nil {
				return fmt.Errorf("topic %s: encode schema: %w", t.Name, err)
			}
		}
		if err := r.Register(t.Name, schemaJSON); err != nil && err != ErrExists {
			return fmt.Errorf("topic %s: %w", t.Name, err)
		}
	}
	return nil
}
