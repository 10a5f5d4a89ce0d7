// Package natsmirror forwards accepted events to a NATS JetStream
// stream so external consumers can tail the broker's traffic without
// registering subscriptions. Mirroring is best effort: a mirror failure
// never fails the originating publish.
package natsmirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/fanoutsh/fanout/internal/domain"
)

// Config configures the mirror.
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	// MaxAge bounds stream retention. Zero means 24h.
	MaxAge time.Duration
}

// Mirror publishes events to JetStream. Subjects are the event topic
// with '/' mapped to NATS token separators under the configured prefix:
// topic "orders/eu/created" with prefix "fanout" becomes
// "fanout.orders.eu.created".
type Mirror struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// Connect dials NATS and ensures the mirror stream exists.
func Connect(ctx context.Context, cfg Config) (*Mirror, error) {
	if cfg.SubjectPrefix == "" {
		return nil, fmt.Errorf("mirror subject prefix is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "FANOUT"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}

	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "fanout event mirror",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Discard:     jetstream.DiscardOld,
		Replicas:    1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create mirror stream: %w", err)
	}
	slog.Info("JetStream mirror ready", "stream", cfg.Stream, "prefix", cfg.SubjectPrefix)

	return &Mirror{conn: nc, js: js, prefix: cfg.SubjectPrefix}, nil
}

// Mirror publishes one event with its ID as the dedup key.
func (m *Mirror) Mirror(ctx context.Context, event *domain.Event) error {
	subject := m.prefix + "." + strings.ReplaceAll(event.Topic, "/", ".")

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ack, err := m.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID))
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	slog.Debug("event mirrored",
		"event_id", event.ID,
		"subject", subject,
		"stream", ack.Stream,
		"seq", ack.Sequence,
	)
	return nil
}

// Close drains the connection so buffered publishes flush.
func (m *Mirror) Close() {
	if err := m.conn.Drain(); err != nil {
		m.conn.Close()
	}
}
