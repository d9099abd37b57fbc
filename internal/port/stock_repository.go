package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type StockRepository interface {
	// Save inserts a new stock (version 0) and stamps version 1, or updates an
	// existing one guarded by its held version. A stale version yields
	// domain.ErrConcurrencyConflict; a second row for the same sku and
	// location yields domain.ErrDuplicateKey.
	Save(ctx context.Context, stock domain.Stock) (domain.Stock, error)

	// FindByID returns domain.ErrNotFound when no stock has the id
	FindByID(ctx context.Context, id string) (domain.Stock, error)

	// FindBySKUAndLocation returns domain.ErrNotFound when the pair is unknown
	FindBySKUAndLocation(ctx context.Context, sku domain.SKU, locationRef string) (domain.Stock, error)

	FindBySKU(ctx context.Context, sku domain.SKU) ([]domain.Stock, error)

	FindByLocation(ctx context.Context, locationRef string) ([]domain.Stock, error)

	Exists(ctx context.Context, sku domain.SKU, locationRef string) (bool, error)

	// Delete removes the stock and its movements
	Delete(ctx context.Context, id string) error
}
