// Package registrytest checks that a registry.Store implementation behaves
// the way generators rely on.
package registrytest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paraglidehq/snowflake/registry"
)

// NewStore returns an empty store that hands out IDs in [0, maxWorkerID].
type NewStore func(t *testing.T, maxWorkerID uint16) registry.Store

// TestStore runs the conformance suite against stores built by newStore.
func TestStore(t *testing.T, newStore NewStore) {
	t.Run("ClaimDistinct", func(t *testing.T) { testClaimDistinct(t, newStore(t, 7)) })
	t.Run("Exhausted", func(t *testing.T) { testExhausted(t, newStore(t, 1)) })
	t.Run("HeartbeatAndBusy", func(t *testing.T) { testHeartbeatAndBusy(t, newStore(t, 7)) })
	t.Run("ForeignToken", func(t *testing.T) { testForeignToken(t, newStore(t, 7)) })
	t.Run("ReleaseAndReclaim", func(t *testing.T) { testReleaseAndReclaim(t, newStore(t, 7)) })
}

func testClaimDistinct(t *testing.T, s registry.Store) {
	ctx := context.Background()
	seen := make(map[uint16]bool)
	for i := 0; i < 8; i++ {
		l, err := s.Claim(ctx, "node")
		require.NoError(t, err)
		assert.LessOrEqual(t, l.WorkerID, uint16(7))
		assert.NotEmpty(t, l.Token)
		assert.False(t, seen[l.WorkerID], "worker %d claimed twice", l.WorkerID)
		seen[l.WorkerID] = true
	}
}

func testExhausted(t *testing.T, s registry.Store) {
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := s.Claim(ctx, "node")
		require.NoError(t, err)
	}
	_, err := s.Claim(ctx, "node")
	require.ErrorIs(t, err, registry.ErrNoFreeWorker)
}

func testHeartbeatAndBusy(t *testing.T, s registry.Store) {
	ctx := context.Background()
	l, err := s.Claim(ctx, "api-1")
	require.NoError(t, err)

	require.NoError(t, s.Heartbeat(ctx, l))
	require.NoError(t, s.SetBusy(ctx, l, false))

	n := findNode(t, s, l.WorkerID)
	assert.True(t, n.Online)
	assert.False(t, n.Busy)
	assert.Equal(t, "api-1", n.Owner)
	assert.False(t, n.LastSeen.IsZero())

	require.NoError(t, s.SetBusy(ctx, l, true))
	assert.True(t, findNode(t, s, l.WorkerID).Busy)
}

func testForeignToken(t *testing.T, s registry.Store) {
	ctx := context.Background()
	l, err := s.Claim(ctx, "node")
	require.NoError(t, err)

	forged := l
	forged.Token = "not-the-token"
	assert.ErrorIs(t, s.Heartbeat(ctx, forged), registry.ErrLeaseLost)
	assert.ErrorIs(t, s.SetBusy(ctx, forged, false), registry.ErrLeaseLost)
	assert.ErrorIs(t, s.Release(ctx, forged), registry.ErrLeaseLost)

	// the real owner is unaffected
	assert.NoError(t, s.Heartbeat(ctx, l))
}

func testReleaseAndReclaim(t *testing.T, s registry.Store) {
	ctx := context.Background()
	a, err := s.Claim(ctx, "a")
	require.NoError(t, err)
	b, err := s.Claim(ctx, "b")
	require.NoError(t, err)
	require.NotEqual(t, a.WorkerID, b.WorkerID)

	require.NoError(t, s.Release(ctx, a))
	assert.ErrorIs(t, s.Heartbeat(ctx, a), registry.ErrLeaseLost)

	c, err := s.Claim(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, a.WorkerID, c.WorkerID, "released ID should be reused first")
	assert.NotEqual(t, a.Token, c.Token)
	assert.ErrorIs(t, s.Heartbeat(ctx, a), registry.ErrLeaseLost)

	n := findNode(t, s, c.WorkerID)
	assert.Equal(t, "c", n.Owner)
	assert.True(t, n.Online)
}

func findNode(t *testing.T, s registry.Store, id uint16) registry.Node {
	t.Helper()
	nodes, err := s.Nodes(context.Background())
	require.NoError(t, err)
	for _, n := range nodes {
		if n.WorkerID == id {
			return n
		}
	}
	t.Fatalf("worker %d not in Nodes()", id)
	return registry.Node{}
}
