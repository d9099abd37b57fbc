package port

import (
	"context"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type IdempotencyStore interface {
	// Claim sets a key for idempotency check, returns false if already exists
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release frees a claimed key so a failed command can be retried
	Release(ctx context.Context, key string) error
}

type StockCache interface {
	// Get returns (snapshot, false, nil) on a cache miss
	Get(ctx context.Context, id string) (domain.StockSnapshot, bool, error)

	// Set keeps the newer version and ignores evicted ids
	Set(ctx context.Context, stock domain.StockSnapshot) error

	// Evict drops the snapshot and stops later Sets of the id from
	// bringing a deleted stock back
	Evict(ctx context.Context, id string) error
}
