package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type mockCache struct {
	mu      sync.Mutex
	snaps   map[string]domain.StockSnapshot
	evicted map[string]bool
	gets    int
}

func newMockCache() *mockCache {
	return &mockCache{
		snaps:   make(map[string]domain.StockSnapshot),
		evicted: make(map[string]bool),
	}
}

func (c *mockCache) Get(ctx context.Context, id string) (domain.StockSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	snap, ok := c.snaps[id]
	return snap, ok, nil
}

func (c *mockCache) Set(ctx context.Context, snap domain.StockSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evicted[snap.ID] {
		return nil
	}
	if cur, ok := c.snaps[snap.ID]; ok && cur.Version >= snap.Version {
		return nil
	}
	c.snaps[snap.ID] = snap
	return nil
}

func (c *mockCache) Evict(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, id)
	c.evicted[id] = true
	return nil
}

// racingRepo runs onFind after a FindByID has loaded its row, as if a
// concurrent command got in before the caller used the result.
type racingRepo struct {
	*flakyRepo
	onFind func()
}

func (r *racingRepo) FindByID(ctx context.Context, id string) (domain.Stock, error) {
	stock, err := r.flakyRepo.FindByID(ctx, id)
	if r.onFind != nil {
		hook := r.onFind
		r.onFind = nil
		hook()
	}
	return stock, err
}

func TestQueryService_GetStockReadsThroughCache(t *testing.T) {
	cache := newMockCache()
	f := setup(t, WithStockCache(cache))
	ctx := context.Background()
	stock := f.receive(t, "7")

	require.Contains(t, cache.snaps, stock.ID())

	query := NewQueryService(f.repo, f.store, cache, domain.NewReservationPolicy(domain.DefaultLowStockThreshold), zap.NewNop())
	got, err := query.GetStock(ctx, stock.ID())
	require.NoError(t, err)
	assert.Equal(t, "7.0000", got.Available().String())
	assert.Equal(t, stock.Version(), got.Version())

	require.NoError(t, f.svc.DeleteStock(ctx, stock.ID()))
	assert.NotContains(t, cache.snaps, stock.ID())

	_, err = query.GetStock(ctx, stock.ID())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueryService_GetStockRacingDelete(t *testing.T) {
	cache := newMockCache()
	f := setup(t, WithStockCache(cache))
	ctx := context.Background()
	stock := f.receive(t, "5")

	// force the next read through the repo
	cache.mu.Lock()
	delete(cache.snaps, stock.ID())
	cache.mu.Unlock()

	repo := &racingRepo{flakyRepo: f.repo}
	repo.onFind = func() {
		require.NoError(t, f.svc.DeleteStock(ctx, stock.ID()))
	}
	query := NewQueryService(repo, f.store, cache, domain.NewReservationPolicy(domain.DefaultLowStockThreshold), zap.NewNop())

	got, err := query.GetStock(ctx, stock.ID())
	require.NoError(t, err)
	assert.Equal(t, stock.ID(), got.ID())

	_, err = f.repo.FindByID(ctx, stock.ID())
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = query.GetStock(ctx, stock.ID())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotContains(t, cache.snaps, stock.ID())
}

func TestQueryService_Lookups(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	stock := f.receive(t, "3")

	_, err := f.svc.Receive(ctx, ReceiveCommand{SKU: "SKU-001", LocationRef: "LOC-B", Quantity: "4", Unit: "PIECE"})
	require.NoError(t, err)
	_, err = f.svc.Receive(ctx, ReceiveCommand{SKU: "SKU-002", LocationRef: "LOC-A", Quantity: "1", Unit: "PIECE"})
	require.NoError(t, err)

	found, err := f.query.FindBySKUAndLocation(ctx, " sku-001 ", "LOC-A")
	require.NoError(t, err)
	assert.Equal(t, stock.ID(), found.ID())

	bySKU, err := f.query.ListBySKU(ctx, "SKU-001")
	require.NoError(t, err)
	assert.Len(t, bySKU, 2)

	byLocation, err := f.query.ListByLocation(ctx, "LOC-A")
	require.NoError(t, err)
	assert.Len(t, byLocation, 2)

	_, err = f.query.ListByLocation(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	_, err = f.query.FindBySKUAndLocation(ctx, "SKU-001", "LOC-Z")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueryService_Availability(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	stock := f.receive(t, "12")

	tests := []struct {
		name       string
		quantity   string
		canReserve bool
	}{
		{"within available", "5", true},
		{"all of it", "12", true},
		{"more than available", "12.0001", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.query.Availability(ctx, stock.ID(), tt.quantity)
			require.NoError(t, err)
			assert.Equal(t, tt.canReserve, got.CanReserve)
			assert.Equal(t, "12.0000", got.Reservable.String())
			assert.False(t, got.LowStock)
		})
	}

	_, err := f.svc.Reserve(ctx, ReserveCommand{SKU: "SKU-001", LocationRef: "LOC-A", Quantity: "5", OrderID: "ORD-1"})
	require.NoError(t, err)

	got, err := f.query.Availability(ctx, stock.ID(), "1")
	require.NoError(t, err)
	assert.True(t, got.LowStock)
	assert.Equal(t, "7.0000", got.Available.String())

	_, err = f.query.Availability(ctx, stock.ID(), "-1")
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
}

func TestMovementRecorder_UnknownStock(t *testing.T) {
	f := setup(t)
	events := receivedEvents(t, 1)

	recorder := NewMovementRecorder(f.repo, f.store, zap.NewNop())
	err := recorder.Handle(context.Background(), events[0])
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
