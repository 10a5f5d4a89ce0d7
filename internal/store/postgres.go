package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fanoutsh/fanout/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres backs all three store contracts with a pgx pool. Events live
// in an append-only table keyed by a bigserial sequence; subscriptions
// and dead-letter entries keep their queryable columns relational and
// the rest of the record as jsonb.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the broker tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS events (
	seq            BIGSERIAL PRIMARY KEY,
	id             TEXT NOT NULL UNIQUE,
	type           TEXT NOT NULL,
	source         TEXT NOT NULL,
	topic          TEXT NOT NULL,
	priority       TEXT NOT NULL,
	payload        JSONB,
	metadata       JSONB,
	correlation_id TEXT,
	causation_id   TEXT,
	schema_version TEXT,
	ts             TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS events_topic_ts_idx ON events (topic, ts);
CREATE INDEX IF NOT EXISTS events_ts_idx ON events (ts);

CREATE TABLE IF NOT EXISTS subscriptions (
	id         TEXT PRIMARY KEY,
	caller_id  TEXT NOT NULL,
	status     TEXT NOT NULL,
	record     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS subscriptions_caller_idx ON subscriptions (caller_id);
CREATE INDEX IF NOT EXISTS subscriptions_status_idx ON subscriptions (status);

CREATE TABLE IF NOT EXISTS dead_letters (
	id              TEXT PRIMARY KEY,
	subscription_id TEXT NOT NULL,
	failed_at       TIMESTAMPTZ NOT NULL,
	record          JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS dead_letters_sub_idx ON dead_letters (subscription_id, failed_at);
`
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Append inserts the event and reads back its assigned sequence.
func (p *Postgres) Append(ctx context.Context, event *domain.Event) error {
	meta, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	row := p.pool.QueryRow(ctx,
		`INSERT INTO events (id, type, source, topic, priority, payload, metadata,
		                     correlation_id, causation_id, schema_version, ts)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 RETURNING seq`,
		event.ID, event.Type, event.Source, event.Topic, string(event.Priority),
		event.Payload, meta, event.CorrelationID, event.CausationID,
		event.SchemaVersion, event.Timestamp,
	)
	if err := row.Scan(&event.Seq); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func scanEvent(rows pgx.Rows) (*domain.Event, error) {
	var (
		e        domain.Event
		priority string
		meta     []byte
	)
	if err := rows.Scan(&e.Seq, &e.ID, &e.Type, &e.Source, &e.Topic, &priority,
		&e.Payload, &meta, &e.CorrelationID, &e.CausationID, &e.SchemaVersion, &e.Timestamp); err != nil {
		return nil, err
	}
	e.Priority = domain.Priority(priority)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}

const eventColumns = `seq, id, type, source, topic, priority, payload, metadata,
	COALESCE(correlation_id,''), COALESCE(causation_id,''), COALESCE(schema_version,''), ts`

// Query returns matching events and the total match count.
func (p *Postgres) Query(ctx context.Context, q EventQuery) ([]*domain.Event, int, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	where := " WHERE 1=1"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.Topic != "" {
		where += " AND topic = " + arg(q.Topic)
	}
	if q.Type != "" {
		where += " AND type = " + arg(q.Type)
	}
	if q.Source != "" {
		where += " AND source = " + arg(q.Source)
	}
	if !q.Since.IsZero() {
		where += " AND ts >= " + arg(q.Since)
	}
	if !q.Until.IsZero() {
		where += " AND ts < " + arg(q.Until)
	}

	var total int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	sql := "SELECT " + eventColumns + " FROM events" + where +
		" ORDER BY ts, seq LIMIT " + arg(q.Limit) + " OFFSET " + arg(q.Offset)
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}

// Range streams events in [from, to) ordered by (ts, seq).
func (p *Postgres) Range(ctx context.Context, from, to time.Time, fn func(*domain.Event) error) error {
	sql := "SELECT " + eventColumns + " FROM events WHERE 1=1"
	args := []any{}
	if !from.IsZero() {
		args = append(args, from)
		sql += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		sql += fmt.Sprintf(" AND ts < $%d", len(args))
	}
	sql += " ORDER BY ts, seq"

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("range events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Save upserts the subscription record.
func (p *Postgres) Save(ctx context.Context, sub *domain.Subscription) error {
	record, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO subscriptions (id, caller_id, status, record, created_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, record = EXCLUDED.record`,
		sub.ID, sub.CallerID, string(sub.Status), record, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

func unmarshalSubscription(record []byte) (*domain.Subscription, error) {
	var sub domain.Subscription
	if err := json.Unmarshal(record, &sub); err != nil {
		return nil, fmt.Errorf("unmarshal subscription: %w", err)
	}
	return &sub, nil
}

// Get returns the subscription or a NotFoundError.
func (p *Postgres) Get(ctx context.Context, id string) (*domain.Subscription, error) {
	var record []byte
	err := p.pool.QueryRow(ctx, `SELECT record FROM subscriptions WHERE id = $1`, id).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFoundf("subscription %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return unmarshalSubscription(record)
}

func (p *Postgres) listSubscriptions(ctx context.Context, sql string, args ...any) ([]*domain.Subscription, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Subscription
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		sub, err := unmarshalSubscription(record)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// ListByCaller returns the caller's subscriptions, newest first.
func (p *Postgres) ListByCaller(ctx context.Context, callerID string) ([]*domain.Subscription, error) {
	return p.listSubscriptions(ctx,
		`SELECT record FROM subscriptions WHERE caller_id = $1 ORDER BY created_at DESC`, callerID)
}

// ListActive returns all active subscriptions.
func (p *Postgres) ListActive(ctx context.Context) ([]*domain.Subscription, error) {
	return p.listSubscriptions(ctx,
		`SELECT record FROM subscriptions WHERE status = $1`, string(domain.StatusActive))
}

// DeadLetters returns the dead-letter view of this store.
func (p *Postgres) DeadLetters() DeadLetterStore { return postgresDLQ{p} }

type postgresDLQ struct{ p *Postgres }

func (v postgresDLQ) Append(ctx context.Context, entry *domain.DeadLetterEntry) error {
	record, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead-letter entry: %w", err)
	}
	_, err = v.p.pool.Exec(ctx,
		`INSERT INTO dead_letters (id, subscription_id, failed_at, record) VALUES ($1,$2,$3,$4)`,
		entry.ID, entry.SubscriptionID, entry.FailedAt, record,
	)
	if err != nil {
		return fmt.Errorf("append dead-letter entry: %w", err)
	}
	return nil
}

func (v postgresDLQ) Get(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	var record []byte
	err := v.p.pool.QueryRow(ctx, `SELECT record FROM dead_letters WHERE id = $1`, id).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFoundf("dead-letter entry %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get dead-letter entry: %w", err)
	}
	var entry domain.DeadLetterEntry
	if err := json.Unmarshal(record, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal dead-letter entry: %w", err)
	}
	return &entry, nil
}

func (v postgresDLQ) List(ctx context.Context, q DeadLetterQuery) ([]*domain.DeadLetterEntry, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	sql := `SELECT record FROM dead_letters WHERE 1=1`
	args := []any{}
	if q.SubscriptionID != "" {
		args = append(args, q.SubscriptionID)
		sql += fmt.Sprintf(" AND subscription_id = $%d", len(args))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		sql += fmt.Sprintf(" AND failed_at >= $%d", len(args))
	}
	if !q.Until.IsZero() {
		args = append(args, q.Until)
		sql += fmt.Sprintf(" AND failed_at < $%d", len(args))
	}
	args = append(args, q.Limit)
	sql += fmt.Sprintf(" ORDER BY failed_at DESC LIMIT $%d", len(args))

	rows, err := v.p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead-letter entries: %w", err)
	}
	defer rows.Close()

	var out []*domain.DeadLetterEntry
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		var entry domain.DeadLetterEntry
		if err := json.Unmarshal(record, &entry); err != nil {
			return nil, fmt.Errorf("unmarshal dead-letter entry: %w", err)
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

func (v postgresDLQ) Delete(ctx context.Context, id string) error {
	tag, err := v.p.pool.Exec(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dead-letter entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("dead-letter entry %s not found", id)
	}
	return nil
}

func (v postgresDLQ) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := v.p.pool.Exec(ctx, `DELETE FROM dead_letters WHERE failed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge dead-letter entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
