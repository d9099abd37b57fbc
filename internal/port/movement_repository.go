package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type MovementRepository interface {
	// Append writes one ledger row, inside the transaction carried by ctx if any
	Append(ctx context.Context, movement domain.StockMovement) error

	// ListByStock returns movements of a stock, newest first
	ListByStock(ctx context.Context, stockID string) ([]domain.StockMovement, error)
}
