package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/fanoutsh/fanout/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxInboundSize = 4 * 1024
	sendBuffer     = 256
)

// Client is one websocket connection bound to a subscription.
type Client struct {
	hub            *Hub
	conn           *websocket.Conn
	subscriptionID string
	send           chan []byte

	closeOnce sync.Once
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, subscriptionID string) *Client {
	return &Client{
		hub:            hub,
		conn:           conn,
		subscriptionID: subscriptionID,
		send:           make(chan []byte, sendBuffer),
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// SendEvent queues an event frame for the client. A full buffer is a
// delivery failure, not a silent drop.
func (c *Client) SendEvent(e *domain.Event) error {
	frame := &EventMessage{
		Type:      "event",
		ID:        e.ID,
		Topic:     e.Topic,
		EventType: e.Type,
		Source:    e.Source,
		Priority:  string(e.Priority),
		Payload:   e.Payload,
		Timestamp: e.Timestamp,
		Replay:    e.Metadata.Replay,
		ReplayID:  e.Metadata.ReplayID,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return domain.Deliveryf("marshal event frame: %v", err)
	}
	select {
	case c.send <- data:
		return nil
	default:
		return domain.Deliveryf("websocket send buffer full for subscription %s", c.subscriptionID)
	}
}

func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal websocket message", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("websocket send buffer full, dropping frame", "subscription_id", c.subscriptionID)
	}
}

// ReadPump reads control frames from the connection until it closes,
// then detaches the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Detach(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "error", err, "subscription_id", c.subscriptionID)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendJSON(NewErrorMessage("INVALID_JSON", "invalid JSON message"))
			continue
		}
		switch msg.Action {
		case "ping":
			c.sendJSON(NewPongMessage())
		default:
			c.sendJSON(NewErrorMessage("UNKNOWN_ACTION", "unknown action: "+msg.Action))
		}
	}
}

// WritePump drains the send channel onto the wire and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Greet confirms attachment to the client.
func (c *Client) Greet() {
	c.sendJSON(NewAttachedMessage(c.subscriptionID))
}
