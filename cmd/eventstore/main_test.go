package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielCarpr/eventcore/eventstore"
	"github.com/GabrielCarpr/eventcore/eventstore/badger"
	"github.com/GabrielCarpr/eventcore/registry"
	"github.com/GabrielCarpr/eventcore/subscription"
)

type OrderPlaced struct {
	OrderID string `json:"order_id"`
}

// seed writes a badger store and returns a config pointing at it.
func seed(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	b, err := badger.Open(filepath.Join(dir, "data"))
	require.NoError(t, err)
	reg := registry.New()
	reg.Register(OrderPlaced{})
	store, err := eventstore.New(b, eventstore.WithRegistry(reg))
	require.NoError(t, err)
	require.NoError(t, store.AppendToStream(ctx, "order-1", eventstore.NoStream, eventstore.NewEvent(OrderPlaced{OrderID: "1"}, nil)))
	require.NoError(t, subscription.New(store).Start(ctx, "sub-A", "order-1", nil, true))
	require.NoError(t, store.Close())

	path := filepath.Join(dir, "eventcore.yml")
	conf := fmt.Sprintf("backend: badger\nbadger:\n  dir: %s\nlog_level: error\n", filepath.Join(dir, "data"))
	require.NoError(t, os.WriteFile(path, []byte(conf), 0o600))
	return path
}

func TestCommands(t *testing.T) {
	ctx := context.Background()
	path := seed(t)

	out := &bytes.Buffer{}
	require.NoError(t, run(ctx, []string{"-config", path, "head"}, out))
	assert.Equal(t, "1\n", out.String())

	out.Reset()
	require.NoError(t, run(ctx, []string{"-config", path, "stream", "order-1"}, out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "OrderPlaced@0")
	assert.Contains(t, lines[1], `{"order_id":"1"}`)

	out.Reset()
	require.NoError(t, run(ctx, []string{"-config", path, "subscriptions"}, out))
	assert.Contains(t, out.String(), "sub-A")

	require.NoError(t, run(ctx, []string{"-config", path, "cancel", "sub-A"}, out))
	out.Reset()
	require.NoError(t, run(ctx, []string{"-config", path, "subscriptions"}, out))
	assert.NotContains(t, out.String(), "sub-A")
}

func TestUsage(t *testing.T) {
	ctx := context.Background()
	out := &bytes.Buffer{}

	assert.ErrorIs(t, run(ctx, nil, out), errUsage)
	assert.ErrorIs(t, run(ctx, []string{"stream"}, out), errUsage)
	assert.ErrorIs(t, run(ctx, []string{"explode"}, out), errUsage)
	assert.ErrorIs(t, run(ctx, []string{"reset", "ghost"}, out), eventstore.ErrSubscriptionNotFound)
}
