package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paraglidehq/snowflake/registry"
	"github.com/paraglidehq/snowflake/registry/memstore"
	"github.com/paraglidehq/snowflake/registry/registrytest"
)

func TestStore(t *testing.T) {
	registrytest.TestStore(t, func(t *testing.T, maxWorkerID uint16) registry.Store {
		return memstore.New(memstore.WithMaxWorkerID(maxWorkerID))
	})
}

func TestStaleReclaim(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := memstore.New(
		memstore.WithMaxWorkerID(0),
		memstore.WithStaleAfter(10*time.Second),
		memstore.WithNow(func() time.Time { return now }),
	)
	ctx := context.Background()

	old, err := s.Claim(ctx, "old")
	require.NoError(t, err)
	_, err = s.Claim(ctx, "new")
	require.ErrorIs(t, err, registry.ErrNoFreeWorker)

	now = now.Add(11 * time.Second)
	taken, err := s.Claim(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, old.WorkerID, taken.WorkerID)
	assert.ErrorIs(t, s.Heartbeat(ctx, old), registry.ErrLeaseLost)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := memstore.New().Claim(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
