package subscription_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielCarpr/eventcore/subscription"
)

type testRunner struct {
	exec func(context.Context) error
}

func (t testRunner) Run(ctx context.Context) error {
	return t.exec(ctx)
}

func waitForCancel(ran *int32) testRunner {
	return testRunner{exec: func(c context.Context) error {
		atomic.StoreInt32(ran, 1)
		select {
		case <-time.After(time.Second * 3):
			return errors.New("did not cancel")
		case <-c.Done():
			return nil
		}
	}}
}

func TestGroupRunsAndCancels(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
	defer cancel()

	var r1, r2 int32
	err := subscription.Group{waitForCancel(&r1), waitForCancel(&r2)}.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&r1))
	assert.Equal(t, int32(1), atomic.LoadInt32(&r2))
}

func TestGroupErrorCancelsAll(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	failing := testRunner{exec: func(c context.Context) error {
		return errors.New("error")
	}}
	var ran int32
	err := subscription.Group{failing, waitForCancel(&ran)}.Run(ctx)
	require.Error(t, err)
	assert.EqualError(t, err, "error")
	assert.NoError(t, ctx.Err())
}

func TestGroupGivesUpOnStuckRunners(t *testing.T) {
	old := subscription.ShutdownTimeout
	subscription.ShutdownTimeout = time.Millisecond * 20
	defer func() { subscription.ShutdownTimeout = old }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*10)
	defer cancel()

	stuck := testRunner{exec: func(c context.Context) error {
		time.Sleep(time.Millisecond * 500)
		return nil
	}}
	err := subscription.Group{stuck}.Run(ctx)
	assert.Error(t, err)
}
