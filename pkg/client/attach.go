package client

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum reconnection attempts before giving up.
	maxReconnectAttempts = 0 // 0 = infinite

	// Initial reconnection delay.
	initialReconnectDelay = 1 * time.Second

	// Maximum reconnection delay.
	maxReconnectDelay = 30 * time.Second
)

// StreamEvent is an event frame received over an attached stream.
type StreamEvent struct {
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

// Stream is a live websocket attachment to a subscription. It
// reconnects automatically when the connection drops.
type Stream struct {
	client         *Client
	subscriptionID string
	conn           *websocket.Conn
	connMu         sync.RWMutex
	events         chan *StreamEvent
	errors         chan error
	done           chan struct{}
	closed         bool
	closeMu        sync.Mutex
}

// Attach opens a websocket stream for a websocket-type subscription.
// Events matching the subscription flow on Events until Close.
func (c *Client) Attach(ctx context.Context, subscriptionID string) (*Stream, error) {
	s := &Stream{
		client:         c,
		subscriptionID: subscriptionID,
		events:         make(chan *StreamEvent, 100),
		errors:         make(chan error, 10),
		done:           make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	go s.readPump()
	go s.writePump()

	return s, nil
}

func (s *Stream) connect(ctx context.Context) error {
	wsURL := strings.Replace(s.client.server, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += "/ws?subscription_id=" + s.subscriptionID

	header := http.Header{}
	if s.client.token != "" {
		header.Set("Authorization", "Bearer "+s.client.token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return &ConnectionError{Err: err}
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	return nil
}

func (s *Stream) reconnect() {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closeMu.Unlock()

	delay := initialReconnectDelay
	attempts := 0

	for {
		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		attempts++
		if maxReconnectAttempts > 0 && attempts > maxReconnectAttempts {
			select {
			case s.errors <- &ConnectionError{Err: ErrMaxReconnectAttempts}:
			default:
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.connect(ctx)
		cancel()

		if err == nil {
			// Let callers log the recovery.
			select {
			case s.errors <- &ReconnectedError{}:
			default:
			}
			go s.readPump()
			go s.writePump()
			return
		}

		select {
		case s.errors <- err:
		default:
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (s *Stream) readPump() {
	defer func() {
		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()

		if conn == nil {
			return
		}

		var msg json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}

			s.closeMu.Lock()
			closed := s.closed
			s.closeMu.Unlock()

			if !closed {
				select {
				case s.errors <- err:
				default:
				}
				go s.reconnect()
			}
			return
		}

		var frame struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case "event":
			var event StreamEvent
			if err := json.Unmarshal(msg, &event); err != nil {
				continue
			}
			select {
			case s.events <- &event:
			case <-s.done:
				return
			}

		case "attached", "pong":
			// Control frames, nothing to surface.

		case "error":
			msg := frame.Message
			if msg == "" {
				msg = "unknown error"
			}
			select {
			case s.errors <- &APIError{Message: msg}:
			default:
			}
		}
	}
}

func (s *Stream) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.RLock()
			conn := s.conn
			s.connMu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// Connection lost, readPump handles reconnection.
				return
			}
		}
	}
}

// Events returns the channel of received events.
func (s *Stream) Events() <-chan *StreamEvent {
	return s.events
}

// Errors returns the channel of stream errors. Errors are non-fatal;
// the stream keeps trying to reconnect.
func (s *Stream) Errors() <-chan error {
	return s.errors
}

// Close shuts the stream down.
func (s *Stream) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	close(s.done)

	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsConnected reports whether the stream currently has a connection.
func (s *Stream) IsConnected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn != nil
}
