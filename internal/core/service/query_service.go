package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

type QueryService struct {
	repo      port.StockRepository
	movements port.MovementRepository
	cache     port.StockCache
	policy    domain.ReservationPolicy
	logger    *zap.Logger
}

// NewQueryService builds the read side. cache may be nil.
func NewQueryService(repo port.StockRepository, movements port.MovementRepository, cache port.StockCache, policy domain.ReservationPolicy, logger *zap.Logger) *QueryService {
	return &QueryService{
		repo:      repo,
		movements: movements,
		cache:     cache,
		policy:    policy,
		logger:    logger,
	}
}

// Availability answers whether a quantity could be reserved right now. It
// is advisory; a later Reserve may still fail.
type Availability struct {
	StockID    string          `json:"stockId"`
	Requested  domain.Quantity `json:"requestedQuantity"`
	Available  domain.Quantity `json:"availableQuantity"`
	Reservable domain.Quantity `json:"reservableQuantity"`
	CanReserve bool            `json:"canReserve"`
	LowStock   bool            `json:"lowStock"`
}

// GetStock reads through the snapshot cache when one is configured.
func (q *QueryService) GetStock(ctx context.Context, id string) (domain.Stock, error) {
	if q.cache != nil {
		snap, hit, err := q.cache.Get(ctx, id)
		if err != nil {
			q.logger.Warn("stock cache read failed", zap.String("stock_id", id), zap.Error(err))
		}
		if hit {
			return domain.ReconstituteStock(snap), nil
		}
	}

	stock, err := q.repo.FindByID(ctx, id)
	if err != nil {
		return domain.Stock{}, err
	}

	if q.cache != nil {
		if err := q.cache.Set(ctx, stock.Snapshot()); err != nil {
			q.logger.Warn("stock cache write failed", zap.String("stock_id", id), zap.Error(err))
		}
	}
	return stock, nil
}

func (q *QueryService) FindBySKUAndLocation(ctx context.Context, sku, locationRef string) (domain.Stock, error) {
	parsed, err := domain.ParseSKU(sku)
	if err != nil {
		return domain.Stock{}, err
	}
	return q.repo.FindBySKUAndLocation(ctx, parsed, locationRef)
}

func (q *QueryService) ListBySKU(ctx context.Context, sku string) ([]domain.Stock, error) {
	parsed, err := domain.ParseSKU(sku)
	if err != nil {
		return nil, err
	}
	return q.repo.FindBySKU(ctx, parsed)
}

func (q *QueryService) ListByLocation(ctx context.Context, locationRef string) ([]domain.Stock, error) {
	if err := required("location", locationRef); err != nil {
		return nil, err
	}
	return q.repo.FindByLocation(ctx, locationRef)
}

// Movements returns the ledger of a stock, newest first.
func (q *QueryService) Movements(ctx context.Context, stockID string) ([]domain.StockMovement, error) {
	if _, err := q.repo.FindByID(ctx, stockID); err != nil {
		return nil, err
	}
	return q.movements.ListByStock(ctx, stockID)
}

func (q *QueryService) Availability(ctx context.Context, stockID, quantity string) (Availability, error) {
	requested, err := parseQuantity("quantity", quantity)
	if err != nil {
		return Availability{}, err
	}

	stock, err := q.repo.FindByID(ctx, stockID)
	if err != nil {
		return Availability{}, err
	}

	return Availability{
		StockID:    stock.ID(),
		Requested:  requested,
		Available:  stock.Available(),
		Reservable: q.policy.ReservableQuantity(stock),
		CanReserve: q.policy.CanReserve(stock, requested),
		LowStock:   q.policy.IsBelowThreshold(stock),
	}, nil
}
