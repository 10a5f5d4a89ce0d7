package websocket

import (
	"encoding/json"
	"time"
)

// Client to server messages.

type ClientMessage struct {
	Action string `json:"action"`
}

type PingMessage struct {
	Action string `json:"action"`
}

// Server to client messages.

type EventMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	EventType string          `json:"event_type"`
	Source    string          `json:"source"`
	Priority  string          `json:"priority"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Replay    bool            `json:"replay,omitempty"`
	ReplayID  string          `json:"replay_id,omitempty"`
}

type AttachedMessage struct {
	Type           string `json:"type"`
	SubscriptionID string `json:"subscription_id"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongMessage struct {
	Type string `json:"type"`
}

// NewAttachedMessage confirms the client is bound to its subscription.
func NewAttachedMessage(subscriptionID string) *AttachedMessage {
	return &AttachedMessage{Type: "attached", SubscriptionID: subscriptionID}
}

// NewErrorMessage creates an error frame.
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{Type: "error", Code: code, Message: message}
}

// NewPongMessage creates a pong response.
func NewPongMessage() *PongMessage {
	return &PongMessage{Type: "pong"}
}
