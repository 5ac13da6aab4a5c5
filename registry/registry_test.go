package registry_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/paraglidehq/snowflake"
	"github.com/paraglidehq/snowflake/registry"
	"github.com/paraglidehq/snowflake/registry/memstore"
)

// flakyStore fails the first n heartbeats with a transient error.
type flakyStore struct {
	registry.Store
	failures atomic.Int32
	beats    atomic.Int32
}

func (f *flakyStore) Heartbeat(ctx context.Context, l registry.Lease) error {
	f.beats.Add(1)
	if f.failures.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return f.Store.Heartbeat(ctx, l)
}

func TestAcquire(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	gen, lease, err := registry.Acquire(ctx, store, "api-1", snowflake.DefaultEpoch)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), lease.WorkerID)

	id, err := gen.Generate()
	require.NoError(t, err)
	assert.Equal(t, lease.WorkerID, id.WorkerID())

	_, second, err := registry.Acquire(ctx, store, "api-2", snowflake.DefaultEpoch)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), second.WorkerID)
}

func TestAcquireReleasesOnInvalidWorker(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(memstore.WithMaxWorkerID(snowflake.MaxWorkerID))
	for i := 0; i < 512; i++ {
		_, err := store.Claim(ctx, "filler")
		require.NoError(t, err)
	}

	_, _, err := registry.Acquire(ctx, store, "dual", snowflake.DefaultEpoch, snowflake.WithDualLane())
	require.ErrorIs(t, err, snowflake.ErrInvalidWorkerID)

	nodes, err := store.Nodes(ctx)
	require.NoError(t, err)
	for _, n := range nodes {
		if n.WorkerID == 512 {
			assert.False(t, n.Online, "worker 512 should have been released")
		}
	}
}

func TestKeeperHeartbeatsAndReleases(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &flakyStore{Store: memstore.New()}
	store.failures.Store(2)

	lease, err := store.Claim(ctx, "worker")
	require.NoError(t, err)

	k := registry.NewKeeper(store, lease,
		registry.WithInterval(10*time.Millisecond),
		registry.WithLogger(zaptest.NewLogger(t)),
		registry.WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }),
	)

	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	require.Eventually(t, func() bool { return store.beats.Load() >= 5 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("keeper did not stop")
	}
	assert.ErrorIs(t, store.Store.Heartbeat(context.Background(), lease), registry.ErrLeaseLost)
}

func TestKeeperLeaseLost(t *testing.T) {
	store := memstore.New()
	lease, err := store.Claim(context.Background(), "worker")
	require.NoError(t, err)
	require.NoError(t, store.Release(context.Background(), lease))

	lost := make(chan registry.Lease, 1)
	k := registry.NewKeeper(store, lease,
		registry.WithInterval(5*time.Millisecond),
		registry.WithOnLost(func(l registry.Lease, err error) { lost <- l }),
	)

	err = k.Run(context.Background())
	require.ErrorIs(t, err, registry.ErrLeaseLost)
	select {
	case l := <-lost:
		assert.Equal(t, lease.WorkerID, l.WorkerID)
	default:
		t.Fatal("OnLost was not called")
	}
}
