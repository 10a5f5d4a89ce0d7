package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fanoutsh/fanout/internal/bus"
	"github.com/fanoutsh/fanout/internal/deliver"
	"github.com/fanoutsh/fanout/internal/domain"
	"github.com/fanoutsh/fanout/internal/middleware"
	"github.com/fanoutsh/fanout/internal/stats"
	"github.com/fanoutsh/fanout/internal/store"
	"github.com/fanoutsh/fanout/internal/topic"
)

type nopDeliverer struct{}

func (d nopDeliverer) Deliver(ctx context.Context, sub *domain.Subscription, events []*domain.Event) error {
	return nil
}

func (d nopDeliverer) SupportsBatch() bool { return false }

func newTestRouter(t *testing.T) (*chi.Mux, *bus.Bus) {
	t.Helper()

	mem := store.NewMemory(0)
	deliverers := map[domain.ConnectionType]deliver.Deliverer{
		domain.ConnectionDirect: nopDeliverer{},
	}
	fallback := deliver.NewWebhookDeliverer(time.Second, "", true)

	b := bus.New(bus.Config{
		Dispatcher: bus.DispatcherConfig{DeliveryTimeout: time.Second},
	}, mem, mem, mem.DeadLetters(), topic.NewRegistry(), stats.New(), deliverers, fallback, nil)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	t.Cleanup(b.Stop)

	events := NewEventsHandler(b)
	subs := NewSubscriptionsHandler(b)
	topics := NewTopicsHandler(b)
	replays := NewReplayHandler(b)
	dlq := NewDLQHandler(b)
	st := NewStatsHandler(b)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CallerIdentity)
		r.Post("/events", events.Publish)
		r.Post("/events/batch", events.PublishBatch)
		r.Get("/events", events.Query)
		r.Post("/subscriptions", subs.Create)
		r.Get("/subscriptions", subs.List)
		r.Get("/subscriptions/{id}", subs.Get)
		r.Delete("/subscriptions/{id}", subs.Cancel)
		r.Post("/subscriptions/{id}/pause", subs.Pause)
		r.Post("/subscriptions/{id}/resume", subs.Resume)
		r.Get("/topics", topics.List)
		r.Post("/topics", topics.Register)
		r.Get("/topics/*", topics.Events)
		r.Post("/replays", replays.Start)
		r.Get("/replays", replays.List)
		r.Get("/dlq", dlq.List)
		r.Get("/stats", st.Overview)
	})
	return r, b
}

func doJSON(t *testing.T, r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return m
}

func TestPublishEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, "POST", "/api/v1/events", "", map[string]any{
		"type":    "order.created",
		"source":  "checkout",
		"topic":   "orders/emea/created",
		"payload": map[string]any{"order_id": 1},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	id, _ := body["event_id"].(string)
	if !strings.HasPrefix(id, "evt_") {
		t.Errorf("event_id = %q", id)
	}
	if body["eventId"] != id {
		t.Errorf("eventId = %v, want %q", body["eventId"], id)
	}
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
}

func TestPublishValidationError(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, "POST", "/api/v1/events", "", map[string]any{
		"source":  "checkout",
		"topic":   "orders/emea/created",
		"payload": map[string]any{},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	body := decodeBody(t, w)
	if body["code"] != "VALIDATION" {
		t.Errorf("code = %v, want VALIDATION", body["code"])
	}
}

func TestPublishMalformedJSON(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest("POST", "/api/v1/events", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestTopicEventsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, topic := range []string{"orders/emea/created", "orders/emea/created", "orders/apac/created"} {
		w := doJSON(t, r, "POST", "/api/v1/events", "", map[string]any{
			"type":    "order.created",
			"source":  "checkout",
			"topic":   topic,
			"payload": map[string]any{},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("publish to %s: status %d", topic, w.Code)
		}
	}

	w := doJSON(t, r, "GET", "/api/v1/topics/orders/emea/created/events", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["topic"] != "orders/emea/created" {
		t.Errorf("topic = %v", body["topic"])
	}
	if body["count"].(float64) != 2 {
		t.Errorf("count = %v, want 2", body["count"])
	}
}

func TestPublishBatchPartial(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, "POST", "/api/v1/events/batch", "", map[string]any{
		"events": []map[string]any{
			{"type": "a", "source": "s", "topic": "t/1", "payload": map[string]any{}},
			{"source": "s", "topic": "t/2", "payload": map[string]any{}},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["failed_count"].(float64) != 1 {
		t.Errorf("failed_count = %v, want 1", body["failed_count"])
	}
	if body["failedCount"].(float64) != 1 {
		t.Errorf("failedCount = %v, want 1", body["failedCount"])
	}
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
}

func TestEventsQueryEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	for i := 0; i < 3; i++ {
		w := doJSON(t, r, "POST", "/api/v1/events", "", map[string]any{
			"type":    "order.created",
			"source":  "checkout",
			"topic":   "orders/emea/created",
			"payload": map[string]any{"n": i},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("publish %d: status %d", i, w.Code)
		}
	}

	w := doJSON(t, r, "GET", "/api/v1/events?topic=orders/emea/created", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["count"].(float64) != 3 {
		t.Errorf("count = %v, want 3", body["count"])
	}
}

func TestSubscriptionLifecycleEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, "POST", "/api/v1/subscriptions", "alice-token", map[string]any{
		"topic":           "orders/*/created",
		"connection_type": "direct",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d, body %s", w.Code, w.Body.String())
	}
	created := decodeBody(t, w)
	id := created["id"].(string)
	if created["caller_id"] != "alice-token" {
		t.Errorf("caller_id = %v", created["caller_id"])
	}

	// Listing is caller-scoped.
	w = doJSON(t, r, "GET", "/api/v1/subscriptions", "alice-token", nil)
	if got := decodeBody(t, w)["count"].(float64); got != 1 {
		t.Errorf("alice count = %v, want 1", got)
	}
	w = doJSON(t, r, "GET", "/api/v1/subscriptions", "bob-token", nil)
	if got := decodeBody(t, w)["count"].(float64); got != 0 {
		t.Errorf("bob count = %v, want 0", got)
	}

	// Get includes queue depth.
	w = doJSON(t, r, "GET", "/api/v1/subscriptions/"+id, "alice-token", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status %d", w.Code)
	}
	if _, ok := decodeBody(t, w)["queue_depth"]; !ok {
		t.Error("queue_depth missing from response")
	}

	// Pause, resume, cancel. Cancel twice is a no-op.
	for _, step := range []struct {
		method, path string
	}{
		{"POST", "/api/v1/subscriptions/" + id + "/pause"},
		{"POST", "/api/v1/subscriptions/" + id + "/resume"},
		{"DELETE", "/api/v1/subscriptions/" + id},
		{"DELETE", "/api/v1/subscriptions/" + id},
	} {
		w = doJSON(t, r, step.method, step.path, "alice-token", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s %s: status %d, body %s", step.method, step.path, w.Code, w.Body.String())
		}
	}

	// Resuming a cancelled subscription is a validation error.
	w = doJSON(t, r, "POST", "/api/v1/subscriptions/"+id+"/resume", "alice-token", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("resume cancelled: status %d, want 400", w.Code)
	}
}

func TestSubscriptionNotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, "GET", "/api/v1/subscriptions/sub_missing", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestTopicRegisterConflict(t *testing.T) {
	r, _ := newTestRouter(t)

	reg := map[string]any{"name": "orders/emea/created"}
	if w := doJSON(t, r, "POST", "/api/v1/topics", "", reg); w.Code != http.StatusCreated {
		t.Fatalf("first register: status %d", w.Code)
	}
	if w := doJSON(t, r, "POST", "/api/v1/topics", "", reg); w.Code != http.StatusConflict {
		t.Fatalf("second register: status %d, want 409", w.Code)
	}

	w := doJSON(t, r, "GET", "/api/v1/topics", "", nil)
	if got := decodeBody(t, w)["count"].(float64); got != 1 {
		t.Errorf("topics count = %v, want 1", got)
	}
}

func TestReplayValidationEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, "POST", "/api/v1/replays", "", map[string]any{
		"from":  time.Now().Format(time.RFC3339),
		"to":    time.Now().Add(-time.Hour).Format(time.RFC3339),
		"speed": 1.0,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", w.Code, w.Body.String())
	}
}

func TestReplayLongFormFieldNames(t *testing.T) {
	r, _ := newTestRouter(t)

	for i := 0; i < 2; i++ {
		w := doJSON(t, r, "POST", "/api/v1/events", "", map[string]any{
			"type":    "t",
			"source":  "s",
			"topic":   "hist/a",
			"payload": map[string]any{},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("publish %d: status %d", i, w.Code)
		}
	}

	w := doJSON(t, r, "POST", "/api/v1/replays", "", map[string]any{
		"from_timestamp":   time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
		"to_timestamp":     time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"speed_multiplier": 2.0,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	id, _ := body["replay_id"].(string)
	if !strings.HasPrefix(id, "rp_") {
		t.Errorf("replay_id = %v", body["replay_id"])
	}
	if body["events_to_replay"].(float64) != 2 {
		t.Errorf("events_to_replay = %v, want 2", body["events_to_replay"])
	}
	if _, ok := body["estimated_duration"]; !ok {
		t.Error("estimated_duration key missing")
	}
	if body["speed"].(float64) != 2.0 {
		t.Errorf("speed = %v, want 2", body["speed"])
	}
}

func TestDLQListEmpty(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, "GET", "/api/v1/dlq", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeBody(t, w)["count"].(float64); got != 0 {
		t.Errorf("count = %v, want 0", got)
	}
}

func TestStatsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	doJSON(t, r, "POST", "/api/v1/events", "", map[string]any{
		"type":    "order.created",
		"source":  "checkout",
		"topic":   "orders/emea/created",
		"payload": map[string]any{},
	})

	w := doJSON(t, r, "GET", "/api/v1/stats", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["published_total"].(float64) != 1 {
		t.Errorf("published_total = %v, want 1", body["published_total"])
	}
	if _, ok := body["pending_retries"]; !ok {
		t.Error("pending_retries missing")
	}
}
