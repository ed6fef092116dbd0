package container_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielCarpr/eventcore/config"
	"github.com/GabrielCarpr/eventcore/container"
	"github.com/GabrielCarpr/eventcore/eventstore"
	"github.com/GabrielCarpr/eventcore/upcast"
)

type OrderPlaced struct {
	OrderID string `json:"order_id"`
	Total   int    `json:"total"`
}

var orders = container.Module{
	Events:    []interface{}{OrderPlaced{}},
	Upcasters: []upcast.Upcaster{upcast.AddField("OrderPlaced", 0, "total", 0)},
}

func TestBuildsMemoryStore(t *testing.T) {
	ctx := context.Background()
	c, err := container.Build(config.Default(), orders)
	require.NoError(t, err)
	defer c.Close()

	store := c.Store()
	require.NoError(t, store.AppendToStream(ctx, "order-1", eventstore.NoStream, eventstore.NewEvent(OrderPlaced{OrderID: "1", Total: 5}, nil)))
	it, err := store.ReadStreamForward(ctx, "order-1", eventstore.ReadOptions{})
	require.NoError(t, err)
	events, err := it.All()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].PayloadVersion)

	count, err := testutil.GatherAndCount(c.Gatherer(), "eventcore_eventstore_appended_events_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, c.Subscriptions().Start(ctx, "sub-A", "order-1", []string{"OrderPlaced"}, true))
	w := c.Worker("sub-A", nil)
	assert.Equal(t, config.Default().Subscriptions.BatchSize, w.BatchSize)
	assert.Same(t, c.Subscriptions(), w.Registry)
}

func TestBuildsBadgerStore(t *testing.T) {
	conf := config.Default()
	conf.Backend = config.BackendBadger
	conf.Badger.Dir = t.TempDir()
	conf.Metrics.Namespace = ""
	conf.Origin = 0

	c, err := container.Build(conf, orders)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Store().AppendToStream(ctx, "order-1", eventstore.NoStream, eventstore.NewEvent(OrderPlaced{OrderID: "1"}, nil)))
	version, err := c.Store().GetStreamVersion(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)
	require.NoError(t, c.Close())

	c, err = container.Build(conf, orders)
	require.NoError(t, err)
	defer c.Close()
	head, err := c.Store().Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), head)
}

func TestBuildFailsOnUnknownBackend(t *testing.T) {
	conf := config.Default()
	conf.Backend = "mongo"

	_, err := container.Build(conf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown backend "mongo"`)
}
