package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func mockWSServer(t *testing.T, handler func(r *http.Request, conn *websocket.Conn)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))
}

func TestAttach_Connect(t *testing.T) {
	server := mockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		if got := r.URL.Query().Get("subscription_id"); got != "sub_1" {
			t.Errorf("subscription_id = %q, want sub_1", got)
		}
		conn.WriteJSON(map[string]string{"type": "attached", "subscription_id": "sub_1"})

		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := New("test-token", WithServer(server.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Attach(ctx, "sub_1")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer stream.Close()

	time.Sleep(100 * time.Millisecond)

	if !stream.IsConnected() {
		t.Error("stream should be connected")
	}
}

func TestAttach_ReceivesEvents(t *testing.T) {
	server := mockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		conn.WriteJSON(map[string]string{"type": "attached", "subscription_id": "sub_1"})
		conn.WriteJSON(map[string]any{
			"type":       "event",
			"id":         "evt_abc",
			"topic":      "orders/emea/created",
			"event_type": "order.created",
			"source":     "checkout",
			"priority":   "normal",
			"payload":    map[string]any{"order_id": 42},
			"timestamp":  time.Now().Format(time.RFC3339),
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := New("test-token", WithServer(server.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Attach(ctx, "sub_1")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer stream.Close()

	select {
	case ev := <-stream.Events():
		if ev.ID != "evt_abc" {
			t.Errorf("event ID = %q, want evt_abc", ev.ID)
		}
		if ev.Topic != "orders/emea/created" {
			t.Errorf("event topic = %q", ev.Topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestAttach_ErrorFrame(t *testing.T) {
	server := mockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		conn.WriteJSON(map[string]string{"type": "error", "code": "NOT_FOUND", "message": "subscription not found"})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := New("test-token", WithServer(server.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Attach(ctx, "sub_missing")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer stream.Close()

	select {
	case err := <-stream.Errors():
		apiErr, ok := err.(*APIError)
		if !ok {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.Message != "subscription not found" {
			t.Errorf("message = %q", apiErr.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error frame")
	}
}
