// Package subscription manages durable catch-up cursors over event streams
// and runs the workers that consume them.
//
// A subscription moves from created to active on its first advance, and is
// gone once cancelled. Reset clears the cursor without changing the state.
//
// Cursors are advisory: nothing serialises two consumers sharing one
// subscription id, the last advance wins. Run one worker per id.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/GabrielCarpr/eventcore/eventstore"
	"github.com/GabrielCarpr/eventcore/log"
)

var ErrEmptyID = errors.New("eventcore.subscription: empty subscription id")

// Registry is the subscription API. Operations given a context carrying a
// scope join it.
type Registry struct {
	store *eventstore.Store
	subs  eventstore.SubscriptionStorage
	now   func() time.Time
}

func New(store *eventstore.Store) *Registry {
	return &Registry{
		store: store,
		subs:  store.Subscriptions(),
		now:   time.Now,
	}
}

// Start creates a subscription to stream. Every tag in types must be
// registered; an empty filter lets every type through. The stream does not
// need to exist yet.
func (r *Registry) Start(ctx context.Context, id string, stream eventstore.StreamID, types []string, catchUp bool) error {
	if id == "" {
		return ErrEmptyID
	}
	if stream == "" {
		return eventstore.ErrEmptyStreamID
	}
	for _, tag := range types {
		if _, err := r.store.Registry().Resolve(tag); err != nil {
			return fmt.Errorf("eventcore.subscription: filter of %s: %w", id, err)
		}
	}

	sub := eventstore.Subscription{
		ID:        id,
		Stream:    stream,
		Types:     append([]string(nil), types...),
		CatchUp:   catchUp,
		State:     eventstore.SubscriptionCreated,
		CreatedAt: r.now().UTC().Truncate(time.Microsecond),
	}
	if err := r.subs.CreateSubscription(ctx, sub); err != nil {
		return err
	}
	log.Info(ctx, "subscription started", log.F{"subscription": id, "stream": stream, "catch_up": catchUp})
	return nil
}

// Get returns the subscription, or ErrSubscriptionNotFound.
func (r *Registry) Get(ctx context.Context, id string) (eventstore.Subscription, error) {
	sub, found, err := r.subs.Subscription(ctx, id)
	if err != nil {
		return eventstore.Subscription{}, err
	}
	if !found {
		return eventstore.Subscription{}, fmt.Errorf("%w: %s", eventstore.ErrSubscriptionNotFound, id)
	}
	return sub, nil
}

func (r *Registry) List(ctx context.Context) ([]eventstore.Subscription, error) {
	return r.subs.Subscriptions(ctx)
}

// Advance moves the cursor of a catch-up subscription to eventID, which must
// be an event of the subscribed stream. Moving backwards is allowed, for
// replays.
func (r *Registry) Advance(ctx context.Context, id string, eventID uuid.UUID) error {
	sub, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if !sub.CatchUp {
		return fmt.Errorf("%w: %s", eventstore.ErrNotACatchupSubscription, id)
	}
	rec, found, err := r.store.RecordByID(ctx, eventID)
	if err != nil {
		return err
	}
	if !found || (!sub.Stream.IsGlobal() && rec.StreamID != sub.Stream) {
		return fmt.Errorf("%w: %s in %s", eventstore.ErrEventNotFound, eventID, sub.Stream)
	}

	sub.LastReadEventID = uuid.NullUUID{UUID: eventID, Valid: true}
	sub.State = eventstore.SubscriptionActive
	if err := r.subs.UpdateSubscription(ctx, sub); err != nil {
		return err
	}
	r.store.Metrics().Advanced(id)
	return nil
}

// Reset moves the cursor back to the beginning of the stream.
func (r *Registry) Reset(ctx context.Context, id string) error {
	sub, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	sub.LastReadEventID = uuid.NullUUID{}
	if err := r.subs.UpdateSubscription(ctx, sub); err != nil {
		return err
	}
	log.Info(ctx, "subscription reset", log.F{"subscription": id})
	return nil
}

// Cancel deletes the subscription. Cancelling a missing one does nothing.
func (r *Registry) Cancel(ctx context.Context, id string) error {
	if err := r.subs.DeleteSubscription(ctx, id); err != nil {
		return err
	}
	log.Info(ctx, "subscription cancelled", log.F{"subscription": id})
	return nil
}

// Batch is one catch-up read. Last is the last record read, whether the
// filter kept it or not, so advancing to it skips what was filtered out.
type Batch struct {
	Events []eventstore.Descriptor
	Last   uuid.NullUUID
}

// CatchUp returns up to limit events after the cursor that pass the type
// filter. Events split from one record are never separated, so a batch can
// run over limit. A limit of 0 reads to the end.
func (r *Registry) CatchUp(ctx context.Context, id string, limit int) ([]eventstore.Descriptor, error) {
	batch, err := r.Read(ctx, id, limit)
	return batch.Events, err
}

// Read is CatchUp that also reports how far it read.
func (r *Registry) Read(ctx context.Context, id string, limit int) (Batch, error) {
	sub, err := r.Get(ctx, id)
	if err != nil {
		return Batch{}, err
	}
	if !sub.CatchUp {
		return Batch{}, fmt.Errorf("%w: %s", eventstore.ErrNotACatchupSubscription, id)
	}

	it, err := r.store.ReadStreamForward(ctx, sub.Stream, eventstore.ReadOptions{After: sub.LastReadEventID.UUID})
	if errors.Is(err, eventstore.ErrStreamNotFound) {
		return Batch{}, nil
	}
	if err != nil {
		return Batch{}, err
	}
	defer it.Close()

	var batch Batch
	for it.Next() {
		d := it.Descriptor()
		if limit > 0 && len(batch.Events) >= limit && d.EventID != batch.Last.UUID {
			break
		}
		batch.Last = uuid.NullUUID{UUID: d.EventID, Valid: true}
		if sub.Wants(d.EventType) {
			batch.Events = append(batch.Events, d)
		}
	}
	if err := it.Err(); err != nil {
		return Batch{}, err
	}
	return batch, nil
}
