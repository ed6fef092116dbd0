package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/GabrielCarpr/eventcore/eventstore"
)

const subscriptionColumns = `"id", "stream_id", "types", "catch_up", "state", "last_read_event_id", "created_at"`

type subscriptionRow struct {
	ID              string         `db:"id"`
	StreamID        string         `db:"stream_id"`
	Types           pq.StringArray `db:"types"`
	CatchUp         bool           `db:"catch_up"`
	State           string         `db:"state"`
	LastReadEventID uuid.NullUUID  `db:"last_read_event_id"`
	CreatedAt       time.Time      `db:"created_at"`
}

func (r subscriptionRow) subscription() eventstore.Subscription {
	var types []string
	if len(r.Types) > 0 {
		types = []string(r.Types)
	}
	return eventstore.Subscription{
		ID:              r.ID,
		Stream:          eventstore.StreamID(r.StreamID),
		Types:           types,
		CatchUp:         r.CatchUp,
		State:           eventstore.SubscriptionState(r.State),
		LastReadEventID: r.LastReadEventID,
		CreatedAt:       r.CreatedAt.UTC(),
	}
}

func typesArray(types []string) pq.StringArray {
	if types == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(types)
}

// CreateSubscription uses ON CONFLICT so a duplicate does not abort the
// surrounding transaction.
func (b *Backend) CreateSubscription(ctx context.Context, sub eventstore.Subscription) error {
	ex, err := b.conn(ctx)
	if err != nil {
		return err
	}
	res, err := ex.ExecContext(ctx, `INSERT INTO event_store_subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ("id") DO NOTHING`,
		sub.ID,
		sub.Stream.String(),
		typesArray(sub.Types),
		sub.CatchUp,
		string(sub.State),
		sub.LastReadEventID,
		sub.CreatedAt,
	)
	if err != nil {
		return eventstore.Failure("create subscription", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return eventstore.Failure("create subscription", err)
	} else if n == 0 {
		return eventstore.ErrSubscriptionAlreadyExists
	}
	return nil
}

func (b *Backend) Subscription(ctx context.Context, id string) (eventstore.Subscription, bool, error) {
	ex, err := b.conn(ctx)
	if err != nil {
		return eventstore.Subscription{}, false, err
	}
	var row subscriptionRow
	err = sqlx.GetContext(ctx, ex, &row, `SELECT `+subscriptionColumns+` FROM event_store_subscriptions WHERE "id" = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return eventstore.Subscription{}, false, nil
	}
	if err != nil {
		return eventstore.Subscription{}, false, eventstore.Failure("get subscription", err)
	}
	return row.subscription(), true, nil
}

func (b *Backend) Subscriptions(ctx context.Context) ([]eventstore.Subscription, error) {
	ex, err := b.conn(ctx)
	if err != nil {
		return nil, err
	}
	var rows []subscriptionRow
	err = sqlx.SelectContext(ctx, ex, &rows, `SELECT `+subscriptionColumns+` FROM event_store_subscriptions ORDER BY "id" ASC`)
	if err != nil {
		return nil, eventstore.Failure("list subscriptions", err)
	}
	out := make([]eventstore.Subscription, len(rows))
	for i, row := range rows {
		out[i] = row.subscription()
	}
	return out, nil
}

func (b *Backend) UpdateSubscription(ctx context.Context, sub eventstore.Subscription) error {
	ex, err := b.conn(ctx)
	if err != nil {
		return err
	}
	res, err := ex.ExecContext(ctx, `UPDATE event_store_subscriptions
		SET "stream_id" = $2, "types" = $3, "catch_up" = $4, "state" = $5, "last_read_event_id" = $6
		WHERE "id" = $1`,
		sub.ID,
		sub.Stream.String(),
		typesArray(sub.Types),
		sub.CatchUp,
		string(sub.State),
		sub.LastReadEventID,
	)
	if err != nil {
		return eventstore.Failure("update subscription", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return eventstore.Failure("update subscription", err)
	} else if n == 0 {
		return eventstore.ErrSubscriptionNotFound
	}
	return nil
}

func (b *Backend) DeleteSubscription(ctx context.Context, id string) error {
	ex, err := b.conn(ctx)
	if err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, `DELETE FROM event_store_subscriptions WHERE "id" = $1`, id); err != nil {
		return eventstore.Failure("delete subscription", err)
	}
	return nil
}
