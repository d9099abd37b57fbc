package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// MovementRecorder writes one ledger row per stock event. It must be
// dispatched inside the command's transaction so the row commits or rolls
// back together with the stock change.
type MovementRecorder struct {
	stocks    port.StockRepository
	movements port.MovementRepository
	logger    *zap.Logger
}

func NewMovementRecorder(stocks port.StockRepository, movements port.MovementRepository, logger *zap.Logger) *MovementRecorder {
	return &MovementRecorder{stocks: stocks, movements: movements, logger: logger}
}

func (r *MovementRecorder) Handle(ctx context.Context, event domain.Event) error {
	meta := event.Meta()
	if _, err := r.stocks.FindByID(ctx, meta.StockID); err != nil {
		return fmt.Errorf("resolve stock for %s: %w", event.Type(), err)
	}

	movement, err := domain.MovementFromEvent(event)
	if err != nil {
		return err
	}

	if err := r.movements.Append(ctx, movement); err != nil {
		return fmt.Errorf("record %s movement: %w", movement.Type, err)
	}

	r.logger.Debug("recorded stock movement",
		zap.String("movement_id", movement.ID),
		zap.String("stock_id", movement.StockID),
		zap.String("type", string(movement.Type)),
		zap.String("quantity", movement.Quantity.String()))
	return nil
}
