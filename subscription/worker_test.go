package subscription_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielCarpr/eventcore/eventstore"
	"github.com/GabrielCarpr/eventcore/subscription"
)

type recorder struct {
	mx     sync.Mutex
	events []eventstore.Descriptor
	fail   func(eventstore.Descriptor) error
}

func (r *recorder) Handle(ctx context.Context, e eventstore.Descriptor) error {
	if r.fail != nil {
		if err := r.fail(e); err != nil {
			return err
		}
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) seen() []eventstore.Descriptor {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]eventstore.Descriptor(nil), r.events...)
}

func TestPollHandlesAndAdvances(t *testing.T) {
	ctx := context.Background()
	store, subs := setup(t)
	e1 := eventstore.NewEvent(OrderPlaced{OrderID: "1"}, nil)
	e2 := eventstore.NewEvent(OrderPlacedAndShipped{OrderID: "1"}, nil)
	require.NoError(t, store.AppendToStream(ctx, "order-1", eventstore.NoStream, e1, e2))
	require.NoError(t, subs.Start(ctx, "sub-A", "order-1", nil, true))

	h := &recorder{}
	w := &subscription.Worker{Subscription: "sub-A", Handler: h, Registry: subs, BatchSize: 10}
	n, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, h.seen(), 3)

	sub, err := subs.Get(ctx, "sub-A")
	require.NoError(t, err)
	assert.Equal(t, e2.ID, sub.LastReadEventID.UUID)

	n, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPollStopsAtFailure(t *testing.T) {
	ctx := context.Background()
	store, subs := setup(t)
	e1 := eventstore.NewEvent(OrderPlaced{OrderID: "1"}, nil)
	e2 := eventstore.NewEvent(OrderShipped{OrderID: "1"}, nil)
	require.NoError(t, store.AppendToStream(ctx, "order-1", eventstore.NoStream, e1, e2))
	require.NoError(t, subs.Start(ctx, "sub-A", "order-1", nil, true))

	boom := errors.New("boom")
	h := &recorder{fail: func(e eventstore.Descriptor) error {
		if e.EventID == e2.ID {
			return boom
		}
		return nil
	}}
	w := &subscription.Worker{Subscription: "sub-A", Handler: h, Registry: subs}
	n, err := w.Poll(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)

	sub, err := subs.Get(ctx, "sub-A")
	require.NoError(t, err)
	assert.Equal(t, e1.ID, sub.LastReadEventID.UUID)

	h.fail = nil
	n, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, e2.ID, h.seen()[1].EventID)
}

func TestRunStopsAfterMaxFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*3)
	defer cancel()
	store, subs := setup(t)
	require.NoError(t, store.AppendToStream(ctx, "order-1", eventstore.NoStream, eventstore.NewEvent(OrderPlaced{}, nil)))
	require.NoError(t, subs.Start(ctx, "sub-A", "order-1", nil, true))

	boom := errors.New("boom")
	w := &subscription.Worker{
		Subscription: "sub-A",
		Handler:      subscription.HandlerFunc(func(context.Context, eventstore.Descriptor) error { return boom }),
		Registry:     subs,
		PollInterval: time.Millisecond,
		MaxFailures:  3,
	}
	err := w.Run(ctx)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, ctx.Err())
}

func TestRunConsumesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, subs := setup(t)
	require.NoError(t, subs.Start(ctx, "sub-A", eventstore.GlobalStream, []string{"OrderPlaced"}, true))

	h := &recorder{}
	w := &subscription.Worker{Subscription: "sub-A", Handler: h, Registry: subs, PollInterval: time.Millisecond * 5}
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx)
	}()

	require.NoError(t, store.AppendToStream(ctx, "order-1", eventstore.NoStream, eventstore.NewEvent(OrderPlaced{OrderID: "1"}, nil)))
	require.NoError(t, store.AppendToStream(ctx, "order-2", eventstore.NoStream, eventstore.NewEvent(OrderShipped{OrderID: "2"}, nil)))
	require.NoError(t, store.AppendToStream(ctx, "order-3", eventstore.NoStream, eventstore.NewEvent(OrderPlaced{OrderID: "3"}, nil)))

	assert.Eventually(t, func() bool {
		return len(h.seen()) == 2
	}, time.Second*2, time.Millisecond*5)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, OrderPlaced{OrderID: "3"}, h.seen()[1].Event)
}

func TestPollSkipsFilteredRecords(t *testing.T) {
	ctx := context.Background()
	store, subs := setup(t)
	shipped := eventstore.NewEvent(OrderShipped{OrderID: "1"}, nil)
	tail := eventstore.NewEvent(OrderPlaced{OrderID: "1"}, nil)
	require.NoError(t, store.AppendToStream(ctx, "order-1", eventstore.NoStream,
		eventstore.NewEvent(OrderPlaced{OrderID: "1"}, nil), shipped, eventstore.NewEvent(OrderPlaced{OrderID: "1"}, nil), tail))
	require.NoError(t, subs.Start(ctx, "shipping", "order-1", []string{"OrderShipped"}, true))

	h := &recorder{}
	w := &subscription.Worker{Subscription: "shipping", Handler: h, Registry: subs}
	n, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, shipped.ID, h.seen()[0].EventID)

	sub, err := subs.Get(ctx, "shipping")
	require.NoError(t, err)
	assert.Equal(t, tail.ID, sub.LastReadEventID.UUID)

	batch, err := subs.Read(ctx, "shipping", 0)
	require.NoError(t, err)
	assert.False(t, batch.Last.Valid)
}
