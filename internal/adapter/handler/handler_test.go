package handler

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

type memoryClaims struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemoryClaims() *memoryClaims {
	return &memoryClaims{keys: make(map[string]bool)}
}

func (m *memoryClaims) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memoryClaims) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func newServices(t *testing.T, opts ...service.Option) (*service.StockService, *service.QueryService) {
	t.Helper()
	store := storage.NewMemoryStore()
	logger := zap.NewNop()
	policy := domain.NewReservationPolicy(domain.DefaultLowStockThreshold)

	opts = append([]service.Option{service.WithEventHandlers(service.NewMovementRecorder(store, store, logger))}, opts...)
	commands := service.NewStockService(store, store, logger, service.StockServiceConfig{Policy: policy}, opts...)
	queries := service.NewQueryService(store, store, nil, policy, logger)
	return commands, queries
}
