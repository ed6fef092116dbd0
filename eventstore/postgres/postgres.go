// Package postgres is an event store backend on PostgreSQL.
//
// Appends to one stream serialise on a transaction-scoped advisory lock
// keyed by the stream id. Playheads come from a sequence while the append
// holds the row lock on event_store_playhead until it commits, so records
// become visible in playhead order and a rolled back append only leaves a
// gap.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmSql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"

	"github.com/GabrielCarpr/eventcore/eventstore"
	"github.com/GabrielCarpr/eventcore/publish"
)

const (
	uniqueViolation = "23505"

	defaultPageSize = 256

	eventColumns = `"playhead", "event_id", "stream_id", "stream_version", "event_type", "payload_version", "payload", "metadata", "recorded_at"`
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	_ eventstore.Backend = (*Backend)(nil)
)

type Option func(*Backend)

// WithOutbox writes every appended record to topic in the append's
// transaction, for a watermill-sql subscriber to relay.
func WithOutbox(topic string) Option {
	return func(b *Backend) {
		b.outbox = topic
	}
}

// WithPageSize sets how many records a read fetches per query.
func WithPageSize(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.pageSize = n
		}
	}
}

func WithLogger(l watermill.LoggerAdapter) Option {
	return func(b *Backend) {
		b.logger = l
	}
}

type Backend struct {
	db       *sqlx.DB
	outbox   string
	pageSize int
	logger   watermill.LoggerAdapter
}

// Open connects with c and makes sure the schema exists.
func Open(ctx context.Context, c Config, opts ...Option) (*Backend, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.DBDsn())
	if err != nil {
		return nil, eventstore.Failure("connect", err)
	}
	if c.Outbox != "" {
		opts = append([]Option{WithOutbox(c.Outbox)}, opts...)
	}
	b := New(db, opts...)
	if err := b.Schema().Make(ctx); err != nil {
		db.Close()
		return nil, eventstore.Failure("schema", err)
	}
	return b, nil
}

func New(db *sqlx.DB, opts ...Option) *Backend {
	b := &Backend{db: db, pageSize: defaultPageSize, logger: publish.NewLogger()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Schema() Schema {
	return Schema{DB: b.db, Outbox: b.outbox}
}

func (b *Backend) DB() *sqlx.DB {
	return b.db
}

func (b *Backend) Close() error {
	return b.db.Close()
}

type eventRow struct {
	Playhead       int64     `db:"playhead"`
	EventID        uuid.UUID `db:"event_id"`
	StreamID       string    `db:"stream_id"`
	StreamVersion  int64     `db:"stream_version"`
	EventType      string    `db:"event_type"`
	PayloadVersion int       `db:"payload_version"`
	Payload        []byte    `db:"payload"`
	Metadata       []byte    `db:"metadata"`
	RecordedAt     time.Time `db:"recorded_at"`
}

func (r eventRow) record() (eventstore.Record, error) {
	md := eventstore.Metadata{}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &md); err != nil {
			return eventstore.Record{}, err
		}
	}
	return eventstore.Record{
		EventID:        r.EventID,
		StreamID:       eventstore.StreamID(r.StreamID),
		StreamVersion:  r.StreamVersion,
		Playhead:       r.Playhead,
		EventType:      r.EventType,
		PayloadVersion: r.PayloadVersion,
		Payload:        r.Payload,
		Metadata:       md,
		RecordedAt:     r.RecordedAt.UTC(),
	}, nil
}

func (b *Backend) Append(ctx context.Context, batch eventstore.AppendBatch) ([]eventstore.Record, error) {
	sc, err := b.scope(ctx)
	if err != nil {
		return nil, err
	}
	if sc != nil {
		return b.appendInScope(ctx, sc.tx, batch)
	}

	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, eventstore.Failure("begin append", err)
	}
	records, err := b.append(ctx, tx, batch)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eventstore.Failure("commit append", err)
	}
	return records, nil
}

// appendInScope wraps the append in a savepoint, so a rejected batch leaves
// the surrounding transaction usable.
func (b *Backend) appendInScope(ctx context.Context, tx *sqlx.Tx, batch eventstore.AppendBatch) ([]eventstore.Record, error) {
	if _, err := tx.ExecContext(ctx, `SAVEPOINT eventcore_append`); err != nil {
		return nil, eventstore.Failure("savepoint", err)
	}
	records, err := b.append(ctx, tx, batch)
	if err != nil {
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT eventcore_append`); rbErr != nil {
			return nil, eventstore.Failure("rollback to savepoint", rbErr)
		}
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT eventcore_append`); err != nil {
		return nil, eventstore.Failure("release savepoint", err)
	}
	return records, nil
}

func (b *Backend) append(ctx context.Context, tx *sqlx.Tx, batch eventstore.AppendBatch) ([]eventstore.Record, error) {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, batch.Stream.String()); err != nil {
		return nil, eventstore.Failure("lock stream", err)
	}

	var last sql.NullInt64
	err := tx.GetContext(ctx, &last, `SELECT MAX("stream_version") FROM event_store_events WHERE "stream_id" = $1`, batch.Stream.String())
	if err != nil {
		return nil, eventstore.Failure("stream version", err)
	}
	current := eventstore.CurrentVersion(last.Int64, last.Valid, batch.Origin)
	if err := eventstore.CheckExpectedVersion(batch.Stream, batch.Expected, current, last.Valid); err != nil {
		return nil, err
	}

	// Held until commit: the next appender draws its playheads after
	// these records are visible.
	if _, err := tx.ExecContext(ctx, `SELECT "id" FROM event_store_playhead WHERE "id" = 1 FOR UPDATE`); err != nil {
		return nil, eventstore.Failure("lock playhead", err)
	}
	var playheads []int64
	err = tx.SelectContext(ctx, &playheads,
		`SELECT nextval('event_store_playhead_seq') FROM generate_series(1, $1) ORDER BY 1`,
		len(batch.Records),
	)
	if err != nil {
		return nil, eventstore.Failure("allocate playheads", err)
	}
	if len(playheads) != len(batch.Records) {
		return nil, eventstore.Failure("allocate playheads", fmt.Errorf("got %d playheads for %d records", len(playheads), len(batch.Records)))
	}

	out := make([]eventstore.Record, len(batch.Records))
	for i, r := range batch.Records {
		r.StreamID = batch.Stream
		r.StreamVersion = current + int64(i) + 1
		r.Playhead = playheads[i]

		md, err := json.Marshal(r.Metadata)
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO event_store_events (`+eventColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			r.Playhead,
			r.EventID,
			r.StreamID.String(),
			r.StreamVersion,
			r.EventType,
			r.PayloadVersion,
			string(r.Payload),
			string(md),
			r.RecordedAt,
		)
		if err != nil {
			return nil, appendError(err, batch, current)
		}
		out[i] = r
	}

	if b.outbox != "" {
		if err := b.publishOutbox(tx, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (b *Backend) publishOutbox(tx *sqlx.Tx, records []eventstore.Record) error {
	publisher, err := wmSql.NewPublisher(tx.Tx, wmSql.PublisherConfig{
		SchemaAdapter: outboxSchema{},
	}, b.logger)
	if err != nil {
		return eventstore.Failure("outbox", err)
	}
	msgs, err := publish.Messages(records)
	if err != nil {
		return err
	}
	if err := publisher.Publish(b.outbox, msgs...); err != nil {
		return eventstore.Failure("outbox", err)
	}
	return nil
}

// appendError maps unique violations, which only happen when something
// bypassed the stream lock or reused an event id.
func appendError(err error, batch eventstore.AppendBatch, current int64) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		switch pqErr.Constraint {
		case "event_store_events_event_id_key":
			return fmt.Errorf("%w: %s", eventstore.ErrDuplicateEvent, pqErr.Detail)
		case "event_store_events_stream_version_key":
			return &eventstore.ConcurrencyError{Stream: batch.Stream, Expected: batch.Expected, Actual: current}
		}
	}
	return eventstore.Failure("insert event", err)
}

func (b *Backend) Read(ctx context.Context, q eventstore.Query) (eventstore.RecordCursor, error) {
	if _, err := b.scope(ctx); err != nil {
		return nil, err
	}
	return eventstore.NewPagedCursor(q, b.pageSize, func(ctx context.Context, after int64, limit int) ([]eventstore.Record, error) {
		return b.page(ctx, q, after, limit)
	}), nil
}

func (b *Backend) page(ctx context.Context, q eventstore.Query, after int64, limit int) ([]eventstore.Record, error) {
	ex, err := b.conn(ctx)
	if err != nil {
		return nil, err
	}

	query := []string{"SELECT " + eventColumns + " FROM event_store_events"}
	where := []string{}
	args := []interface{}{}
	if !q.Stream.IsGlobal() {
		args = append(args, q.Stream.String())
		where = append(where, fmt.Sprintf(`"stream_id" = $%d`, len(args)))
	}
	order := "ASC"
	if after > 0 {
		args = append(args, after)
		if q.Direction == eventstore.Backward {
			where = append(where, fmt.Sprintf(`"playhead" < $%d`, len(args)))
		} else {
			where = append(where, fmt.Sprintf(`"playhead" > $%d`, len(args)))
		}
	}
	if q.Direction == eventstore.Backward {
		order = "DESC"
	}
	if len(where) > 0 {
		query = append(query, "WHERE", strings.Join(where, " AND "))
	}
	args = append(args, limit)
	query = append(query, `ORDER BY "playhead" `+order, fmt.Sprintf("LIMIT $%d", len(args)))

	var rows []eventRow
	if err := sqlx.SelectContext(ctx, ex, &rows, strings.Join(query, " "), args...); err != nil {
		return nil, eventstore.Failure("read", err)
	}
	out := make([]eventstore.Record, 0, len(rows))
	for _, row := range rows {
		r, err := row.record()
		if err != nil {
			return nil, eventstore.Failure("read", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (b *Backend) StreamVersion(ctx context.Context, stream eventstore.StreamID) (int64, bool, error) {
	ex, err := b.conn(ctx)
	if err != nil {
		return 0, false, err
	}
	var last sql.NullInt64
	err = sqlx.GetContext(ctx, ex, &last, `SELECT MAX("stream_version") FROM event_store_events WHERE "stream_id" = $1`, stream.String())
	if err != nil {
		return 0, false, eventstore.Failure("stream version", err)
	}
	return last.Int64, last.Valid, nil
}

func (b *Backend) RecordAt(ctx context.Context, stream eventstore.StreamID, version int64) (eventstore.Record, bool, error) {
	return b.one(ctx, `SELECT `+eventColumns+` FROM event_store_events WHERE "stream_id" = $1 AND "stream_version" = $2`, stream.String(), version)
}

func (b *Backend) RecordByID(ctx context.Context, id uuid.UUID) (eventstore.Record, bool, error) {
	return b.one(ctx, `SELECT `+eventColumns+` FROM event_store_events WHERE "event_id" = $1`, id)
}

func (b *Backend) one(ctx context.Context, query string, args ...interface{}) (eventstore.Record, bool, error) {
	ex, err := b.conn(ctx)
	if err != nil {
		return eventstore.Record{}, false, err
	}
	var row eventRow
	err = sqlx.GetContext(ctx, ex, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return eventstore.Record{}, false, nil
	}
	if err != nil {
		return eventstore.Record{}, false, eventstore.Failure("lookup", err)
	}
	r, err := row.record()
	if err != nil {
		return eventstore.Record{}, false, eventstore.Failure("lookup", err)
	}
	return r, true, nil
}

func (b *Backend) Head(ctx context.Context) (int64, error) {
	ex, err := b.conn(ctx)
	if err != nil {
		return 0, err
	}
	var head int64
	if err := sqlx.GetContext(ctx, ex, &head, `SELECT COALESCE(MAX("playhead"), 0) FROM event_store_events`); err != nil {
		return 0, eventstore.Failure("head", err)
	}
	return head, nil
}
