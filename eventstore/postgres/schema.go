package postgres

import (
	"context"
	"strings"

	wmSql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/jmoiron/sqlx"

	"github.com/GabrielCarpr/eventcore/log"
)

var tables = []string{
	`CREATE TABLE IF NOT EXISTS event_store_events (
		"playhead" BIGINT NOT NULL,
		"event_id" UUID NOT NULL,
		"stream_id" TEXT NOT NULL,
		"stream_version" BIGINT NOT NULL,
		"event_type" VARCHAR(255) NOT NULL,
		"payload_version" INT NOT NULL DEFAULT 0,
		"payload" JSONB NOT NULL,
		"metadata" JSONB NOT NULL DEFAULT '{}',
		"recorded_at" TIMESTAMPTZ NOT NULL,
		CONSTRAINT event_store_events_pkey PRIMARY KEY ("playhead"),
		CONSTRAINT event_store_events_event_id_key UNIQUE ("event_id"),
		CONSTRAINT event_store_events_stream_version_key UNIQUE ("stream_id", "stream_version")
	);`,
	`CREATE SEQUENCE IF NOT EXISTS event_store_playhead_seq START 1;`,
	`CREATE TABLE IF NOT EXISTS event_store_playhead (
		"id" INT PRIMARY KEY CHECK ("id" = 1)
	);`,
	`INSERT INTO event_store_playhead ("id") VALUES (1) ON CONFLICT DO NOTHING;`,
	`CREATE TABLE IF NOT EXISTS event_store_subscriptions (
		"id" TEXT PRIMARY KEY,
		"stream_id" TEXT NOT NULL,
		"types" TEXT[] NOT NULL DEFAULT '{}',
		"catch_up" BOOLEAN NOT NULL,
		"state" VARCHAR(16) NOT NULL,
		"last_read_event_id" UUID NULL,
		"created_at" TIMESTAMPTZ NOT NULL
	);`,
}

// outboxSchema stores envelopes in the watermill-sql message table layout.
type outboxSchema struct {
	wmSql.DefaultPostgreSQLSchema
}

func (s outboxSchema) SchemaInitializingQueries(topic string) []string {
	createMessagesTable := strings.Join([]string{
		`CREATE TABLE IF NOT EXISTS ` + s.MessagesTable(topic) + ` (`,
		`"offset" SERIAL,`,
		`"uuid" VARCHAR(36) NOT NULL,`,
		`"created_at" TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,`,
		`"payload" JSONB DEFAULT NULL,`,
		`"metadata" JSON DEFAULT NULL`,
		`);`,
	}, "\n")

	return []string{createMessagesTable}
}

// Schema creates and clears the store's tables.
type Schema struct {
	DB     *sqlx.DB
	Outbox string
}

func (s Schema) Make(ctx context.Context) error {
	log.Info(ctx, "creating event store schema", log.F{"outbox": s.Outbox})
	queries := tables
	if s.Outbox != "" {
		queries = append(append([]string{}, tables...), outboxSchema{}.SchemaInitializingQueries(s.Outbox)...)
	}
	for _, q := range queries {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Reset empties every table. Playheads restart at 1.
func (s Schema) Reset(ctx context.Context) error {
	log.Info(ctx, "resetting event store", log.F{})
	queries := []string{
		`TRUNCATE event_store_events, event_store_subscriptions`,
		`ALTER SEQUENCE event_store_playhead_seq RESTART WITH 1`,
	}
	if s.Outbox != "" {
		queries = append(queries, `TRUNCATE `+outboxSchema{}.MessagesTable(s.Outbox))
	}
	for _, q := range queries {
		_, err := s.DB.ExecContext(ctx, q)
		if err != nil && !strings.Contains(err.Error(), "does not exist") {
			return err
		}
	}
	return nil
}
