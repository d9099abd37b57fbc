package storage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type movementRow struct {
	ID          string          `db:"id"`
	StockID     string          `db:"stock_id"`
	Type        string          `db:"movement_type"`
	Quantity    decimal.Decimal `db:"quantity"`
	Reason      string          `db:"reason"`
	ReferenceID *string         `db:"reference_id"`
	PerformedBy string          `db:"performed_by"`
	PerformedAt time.Time       `db:"performed_at"`
}

func (m *MySQLAdapter) Append(ctx context.Context, mv domain.StockMovement) error {
	_, err := sqlx.NamedExecContext(ctx, m.ext(ctx), `
		INSERT INTO stock_movements
			(id, stock_id, movement_type, quantity, reason, reference_id, performed_by, performed_at)
		VALUES (:id, :stock_id, :movement_type, :quantity, :reason, :reference_id, :performed_by, :performed_at)`,
		movementRow{
			ID:          mv.ID,
			StockID:     mv.StockID,
			Type:        string(mv.Type),
			Quantity:    mv.Quantity,
			Reason:      mv.Reason,
			ReferenceID: mv.ReferenceID,
			PerformedBy: mv.PerformedBy,
			PerformedAt: mv.PerformedAt,
		})
	return errors.Wrapf(err, "insert movement for stock %s", mv.StockID)
}

func (m *MySQLAdapter) ListByStock(ctx context.Context, stockID string) ([]domain.StockMovement, error) {
	var rows []movementRow
	err := sqlx.SelectContext(ctx, m.ext(ctx), &rows, `
		SELECT id, stock_id, movement_type, quantity, reason, reference_id, performed_by, performed_at
		FROM stock_movements WHERE stock_id = ?
		ORDER BY performed_at DESC`, stockID)
	if err != nil {
		return nil, errors.Wrap(err, "list movements")
	}

	movements := make([]domain.StockMovement, 0, len(rows))
	for _, r := range rows {
		movements = append(movements, domain.StockMovement{
			ID:          r.ID,
			StockID:     r.StockID,
			Type:        domain.MovementType(r.Type),
			Quantity:    r.Quantity,
			Reason:      r.Reason,
			ReferenceID: r.ReferenceID,
			PerformedBy: r.PerformedBy,
			PerformedAt: r.PerformedAt.UTC(),
		})
	}
	return movements, nil
}
