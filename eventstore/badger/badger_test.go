package badger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielCarpr/eventcore/eventstore"
	"github.com/GabrielCarpr/eventcore/registry"
)

type ItemAdded struct {
	Sku string `json:"sku"`
}

func open(t *testing.T, origin int64) *eventstore.Store {
	t.Helper()
	b, err := Open(t.TempDir())
	require.NoError(t, err)
	b.pageSize = 2

	reg := registry.New()
	reg.Register(ItemAdded{})
	store, err := eventstore.New(b, eventstore.WithRegistry(reg), eventstore.WithOrigin(origin))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func ids(t *testing.T) func(it *eventstore.Iterator, err error) []uuid.UUID {
	return func(it *eventstore.Iterator, err error) []uuid.UUID {
		t.Helper()
		require.NoError(t, err)
		ds, err := it.All()
		require.NoError(t, err)
		out := make([]uuid.UUID, len(ds))
		for i, d := range ds {
			out[i] = d.EventID
		}
		return out
	}
}

func TestStreamPagesSeekPastTheBound(t *testing.T) {
	ctx := context.Background()
	store := open(t, 1)

	var cart []uuid.UUID
	var other uuid.UUID
	for i := 0; i < 5; i++ {
		e := eventstore.NewEvent(ItemAdded{Sku: "a"}, nil)
		require.NoError(t, store.AppendToStream(ctx, "cart-1", eventstore.Any, e))
		cart = append(cart, e.ID)
		if i == 1 {
			o := eventstore.NewEvent(ItemAdded{Sku: "b"}, nil)
			require.NoError(t, store.AppendToStream(ctx, "cart-2", eventstore.Any, o))
			other = o.ID
		}
	}

	assert.Equal(t, cart, ids(t)(store.ReadStreamForward(ctx, "cart-1", eventstore.ReadOptions{})))
	assert.Equal(t, []uuid.UUID{cart[4], cart[3], cart[2], cart[1], cart[0]},
		ids(t)(store.ReadStreamBackward(ctx, "cart-1", eventstore.ReadOptions{})))

	assert.Equal(t, cart[2:], ids(t)(store.ReadStreamForward(ctx, "cart-1", eventstore.ReadOptions{After: cart[1]})))
	assert.Equal(t, []uuid.UUID{cart[2], cart[1], cart[0]},
		ids(t)(store.ReadStreamBackward(ctx, "cart-1", eventstore.ReadOptions{After: cart[3]})))
	assert.Equal(t, cart[3:4], ids(t)(store.ReadStreamForward(ctx, "cart-1", eventstore.ReadOptions{After: cart[2], Limit: 1})))

	assert.Equal(t, cart[2:], ids(t)(store.ReadStreamForward(ctx, "cart-1", eventstore.ReadOptions{After: other})))
	assert.Equal(t, []uuid.UUID{cart[1], cart[0]},
		ids(t)(store.ReadStreamBackward(ctx, "cart-1", eventstore.ReadOptions{After: other})))
}

func TestNothingPrecedesVersionZero(t *testing.T) {
	ctx := context.Background()
	store := open(t, 0)
	first := eventstore.NewEvent(ItemAdded{Sku: "a"}, nil)
	require.NoError(t, store.AppendToStream(ctx, "cart-1", eventstore.NoStream, first, eventstore.NewEvent(ItemAdded{Sku: "b"}, nil)))

	assert.Empty(t, ids(t)(store.ReadStreamBackward(ctx, "cart-1", eventstore.ReadOptions{After: first.ID})))
	assert.Len(t, ids(t)(store.ReadStreamForward(ctx, "cart-1", eventstore.ReadOptions{After: first.ID})), 1)
}
