package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const (
	stockKeyPrefix       = "stock:"
	idempotencyKeyPrefix = "idempotency:"
	defaultSnapshotTTL   = 10 * time.Minute
)

// setSnapshotScript writes a snapshot only if it is newer than the cached one
// and the stock has not been evicted, so a slow writer cannot put an older
// version or a deleted stock back.
var setSnapshotScript = redis.NewScript(`
local key = KEYS[1]
local version = tonumber(ARGV[1])

if redis.call('HEXISTS', key, 'deleted') == 1 then
	return 0
end

local current = redis.call('HGET', key, 'version')
if current and tonumber(current) >= version then
	return 0
end

redis.call('HSET', key, 'version', version, 'data', ARGV[2])
redis.call('PEXPIRE', key, ARGV[3])
return 1
`)

// evictSnapshotScript replaces the snapshot with a tombstone that lives as
// long as a snapshot would.
var evictSnapshotScript = redis.NewScript(`
local key = KEYS[1]
redis.call('DEL', key)
redis.call('HSET', key, 'deleted', 1)
redis.call('PEXPIRE', key, ARGV[1])
return 1
`)

type RedisAdapter struct {
	client      *redis.Client
	snapshotTTL time.Duration
}

func NewRedisAdapter(client *redis.Client, snapshotTTL time.Duration) *RedisAdapter {
	if snapshotTTL <= 0 {
		snapshotTTL = defaultSnapshotTTL
	}
	return &RedisAdapter{client: client, snapshotTTL: snapshotTTL}
}

func (r *RedisAdapter) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "claim idempotency key")
	}

	return ok, nil
}

func (r *RedisAdapter) Release(ctx context.Context, key string) error {
	return errors.Wrap(r.client.Del(ctx, idempotencyKeyPrefix+key).Err(), "release idempotency key")
}

func (r *RedisAdapter) Get(ctx context.Context, id string) (domain.StockSnapshot, bool, error) {
	data, err := r.client.HGet(ctx, stockKeyPrefix+id, "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.StockSnapshot{}, false, nil
	}
	if err != nil {
		return domain.StockSnapshot{}, false, errors.Wrap(err, "get stock snapshot")
	}

	var snap domain.StockSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.StockSnapshot{}, false, errors.Wrap(err, "decode stock snapshot")
	}
	return snap, true, nil
}

func (r *RedisAdapter) Set(ctx context.Context, snap domain.StockSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encode stock snapshot")
	}

	key := stockKeyPrefix + snap.ID
	err = setSnapshotScript.Run(ctx, r.client, []string{key}, snap.Version, data, r.snapshotTTL.Milliseconds()).Err()
	return errors.Wrap(err, "set stock snapshot")
}

// Evict leaves a tombstone that blocks Set until it expires. Get sees a
// tombstone as a miss since it has no data field.
func (r *RedisAdapter) Evict(ctx context.Context, id string) error {
	err := evictSnapshotScript.Run(ctx, r.client, []string{stockKeyPrefix + id}, r.snapshotTTL.Milliseconds()).Err()
	return errors.Wrap(err, "evict stock snapshot")
}
