package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestClaim_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	key := "test-claim-" + time.Now().Format("150405.000000")
	defer adapter.Release(ctx, key)

	var claimed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.Claim(ctx, key, time.Minute)
			if err == nil && ok {
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), claimed.Load())
}

func TestClaim_ReleaseAllowsRetry(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	key := "test-release-" + time.Now().Format("150405.000000")

	ok, err := adapter.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, adapter.Release(ctx, key))

	ok, err = adapter.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	adapter.Release(ctx, key)
}

func TestSnapshotCache(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)

	stock, err := domain.NewStock("PRD-1", "CACHE-001", "LOC-A", domain.UnitKilogram)
	require.NoError(t, err)
	snap := stock.Snapshot()
	snap.Version = 2
	snap.Available = domain.MustQuantity("12.5")
	defer adapter.Evict(ctx, snap.ID)

	_, hit, err := adapter.Get(ctx, snap.ID)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, adapter.Set(ctx, snap))

	got, hit, err := adapter.Get(ctx, snap.ID)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "12.5000", got.Available.String())
	assert.Equal(t, int64(2), got.Version)

	t.Run("older version does not overwrite", func(t *testing.T) {
		stale := snap
		stale.Version = 1
		stale.Available = domain.MustQuantity("99")
		require.NoError(t, adapter.Set(ctx, stale))

		got, _, err := adapter.Get(ctx, snap.ID)
		require.NoError(t, err)
		assert.Equal(t, "12.5000", got.Available.String())
	})

	require.NoError(t, adapter.Evict(ctx, snap.ID))
	_, hit, err = adapter.Get(ctx, snap.ID)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestSnapshotCache_EvictBlocksLateSet(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)

	stock, err := domain.NewStock("PRD-1", "CACHE-002", "LOC-A", domain.UnitPiece)
	require.NoError(t, err)
	snap := stock.Snapshot()
	snap.Version = 3
	defer client.Del(ctx, stockKeyPrefix+snap.ID)

	require.NoError(t, adapter.Set(ctx, snap))
	require.NoError(t, adapter.Evict(ctx, snap.ID))

	// a read-through that loaded the row before the delete
	require.NoError(t, adapter.Set(ctx, snap))

	_, hit, err := adapter.Get(ctx, snap.ID)
	require.NoError(t, err)
	assert.False(t, hit)

	ttl, err := client.PTTL(ctx, stockKeyPrefix+snap.ID).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
