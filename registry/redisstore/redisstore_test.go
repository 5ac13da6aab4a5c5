package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/paraglidehq/snowflake/registry"
	"github.com/paraglidehq/snowflake/registry/redisstore"
	"github.com/paraglidehq/snowflake/registry/registrytest"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	addr, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestStore(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	rdb := setupRedis(t)

	registrytest.TestStore(t, func(t *testing.T, maxWorkerID uint16) registry.Store {
		return redisstore.New(rdb,
			redisstore.WithPrefix("test-"+uuid.NewString()),
			redisstore.WithMaxWorkerID(maxWorkerID),
		)
	})

	t.Run("Expiry", func(t *testing.T) {
		ctx := context.Background()
		s := redisstore.New(rdb,
			redisstore.WithPrefix("test-"+uuid.NewString()),
			redisstore.WithMaxWorkerID(0),
			redisstore.WithTTL(200*time.Millisecond),
		)
		old, err := s.Claim(ctx, "old")
		require.NoError(t, err)
		_, err = s.Claim(ctx, "new")
		require.ErrorIs(t, err, registry.ErrNoFreeWorker)

		require.Eventually(t, func() bool {
			_, err := s.Claim(ctx, "new")
			return err == nil
		}, 3*time.Second, 50*time.Millisecond)
		assert.ErrorIs(t, s.Heartbeat(ctx, old), registry.ErrLeaseLost)
	})

	t.Run("HeartbeatExtendsTTL", func(t *testing.T) {
		ctx := context.Background()
		s := redisstore.New(rdb,
			redisstore.WithPrefix("test-"+uuid.NewString()),
			redisstore.WithTTL(300*time.Millisecond),
		)
		l, err := s.Claim(ctx, "live")
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			time.Sleep(100 * time.Millisecond)
			require.NoError(t, s.Heartbeat(ctx, l))
		}
	})
}
