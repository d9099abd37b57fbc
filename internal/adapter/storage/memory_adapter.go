package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type memTxKey struct{}

type memTx struct {
	undo []func()
}

// MemoryStore is an in-process StockRepository, MovementRepository and
// Transactor. Transactions are serialized and rolled back by replaying undo
// steps. Reads do not observe isolation from an open transaction.
type MemoryStore struct {
	txMu      sync.Mutex
	mu        sync.RWMutex
	stocks    map[string]domain.StockSnapshot
	keys      map[string]string
	movements map[string][]domain.StockMovement
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stocks:    make(map[string]domain.StockSnapshot),
		keys:      make(map[string]string),
		movements: make(map[string][]domain.StockMovement),
	}
}

func naturalKey(sku domain.SKU, locationRef string) string {
	return string(sku) + "|" + locationRef
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &memTx{}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		m.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MemoryStore) recordUndo(ctx context.Context, step func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, step)
	}
}

func (m *MemoryStore) Save(ctx context.Context, stock domain.Stock) (domain.Stock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := stock.Snapshot()
	key := naturalKey(snap.SKU, snap.LocationRef)

	if stock.IsNew() {
		if _, taken := m.keys[key]; taken {
			return domain.Stock{}, fmt.Errorf("%w: sku %s at %s", domain.ErrDuplicateKey, snap.SKU, snap.LocationRef)
		}
		snap.Version = 1
		m.stocks[snap.ID] = snap
		m.keys[key] = snap.ID
		m.recordUndo(ctx, func() {
			delete(m.stocks, snap.ID)
			delete(m.keys, key)
		})
		return domain.ReconstituteStock(snap), nil
	}

	current, ok := m.stocks[snap.ID]
	if !ok || current.Version != snap.Version {
		return domain.Stock{}, fmt.Errorf("%w: stock %s version %d", domain.ErrConcurrencyConflict, snap.ID, snap.Version)
	}

	snap.Version++
	m.stocks[snap.ID] = snap
	m.recordUndo(ctx, func() {
		m.stocks[snap.ID] = current
	})
	return domain.ReconstituteStock(snap), nil
}

func (m *MemoryStore) FindByID(ctx context.Context, id string) (domain.Stock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.stocks[id]
	if !ok {
		return domain.Stock{}, fmt.Errorf("%w: id %s", domain.ErrNotFound, id)
	}
	return domain.ReconstituteStock(snap), nil
}

func (m *MemoryStore) FindBySKUAndLocation(ctx context.Context, sku domain.SKU, locationRef string) (domain.Stock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.keys[naturalKey(sku, locationRef)]
	if !ok {
		return domain.Stock{}, fmt.Errorf("%w: sku %s at %s", domain.ErrNotFound, sku, locationRef)
	}
	return domain.ReconstituteStock(m.stocks[id]), nil
}

func (m *MemoryStore) filter(keep func(domain.StockSnapshot) bool) []domain.Stock {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Stock
	for _, snap := range m.stocks {
		if keep(snap) {
			out = append(out, domain.ReconstituteStock(snap))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt().Equal(out[j].CreatedAt()) {
			return out[i].CreatedAt().Before(out[j].CreatedAt())
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

func (m *MemoryStore) FindBySKU(ctx context.Context, sku domain.SKU) ([]domain.Stock, error) {
	return m.filter(func(s domain.StockSnapshot) bool { return s.SKU == sku }), nil
}

func (m *MemoryStore) FindByLocation(ctx context.Context, locationRef string) ([]domain.Stock, error) {
	return m.filter(func(s domain.StockSnapshot) bool { return s.LocationRef == locationRef }), nil
}

func (m *MemoryStore) Exists(ctx context.Context, sku domain.SKU, locationRef string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.keys[naturalKey(sku, locationRef)]
	return ok, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.stocks[id]
	if !ok {
		return fmt.Errorf("%w: id %s", domain.ErrNotFound, id)
	}
	key := naturalKey(snap.SKU, snap.LocationRef)
	movements := m.movements[id]

	delete(m.stocks, id)
	delete(m.keys, key)
	delete(m.movements, id)
	m.recordUndo(ctx, func() {
		m.stocks[id] = snap
		m.keys[key] = id
		m.movements[id] = movements
	})
	return nil
}

func (m *MemoryStore) Append(ctx context.Context, movement domain.StockMovement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stocks[movement.StockID]; !ok {
		return fmt.Errorf("%w: movement references stock %s", domain.ErrNotFound, movement.StockID)
	}
	n := len(m.movements[movement.StockID])
	m.movements[movement.StockID] = append(m.movements[movement.StockID], movement)
	m.recordUndo(ctx, func() {
		m.movements[movement.StockID] = m.movements[movement.StockID][:n]
	})
	return nil
}

func (m *MemoryStore) ListByStock(ctx context.Context, stockID string) ([]domain.StockMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.movements[stockID]
	out := make([]domain.StockMovement, len(rows))
	for i, mv := range rows {
		out[len(rows)-1-i] = mv
	}
	return out, nil
}
