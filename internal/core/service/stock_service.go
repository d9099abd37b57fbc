package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const tracerName = "github.com/rl1809/stock-ledger/internal/core/service"

var ErrDuplicateRequest = errors.New("duplicate request")

// EventSink receives events after their transaction committed.
type EventSink interface {
	Enqueue(events ...domain.Event)
}

type StockServiceConfig struct {
	Retry          RetryPolicy
	IdempotencyTTL time.Duration
	Policy         domain.ReservationPolicy
}

type Option func(*StockService)

// WithEventHandlers registers handlers run inside the command transaction.
func WithEventHandlers(handlers ...port.EventHandler) Option {
	return func(s *StockService) { s.handlers = append(s.handlers, handlers...) }
}

func WithEventSink(sink EventSink) Option {
	return func(s *StockService) { s.sink = sink }
}

func WithIdempotency(store port.IdempotencyStore) Option {
	return func(s *StockService) { s.idempotency = store }
}

func WithStockCache(cache port.StockCache) Option {
	return func(s *StockService) { s.cache = cache }
}

// StockService runs stock commands: load, apply one operation, save with the
// version check and record movements in one transaction, then publish.
type StockService struct {
	repo        port.StockRepository
	tx          port.Transactor
	handlers    []port.EventHandler
	sink        EventSink
	idempotency port.IdempotencyStore
	cache       port.StockCache
	cfg         StockServiceConfig
	logger      *zap.Logger
	tracer      trace.Tracer
}

func NewStockService(repo port.StockRepository, tx port.Transactor, logger *zap.Logger, cfg StockServiceConfig, opts ...Option) *StockService {
	cfg.Retry = cfg.Retry.withDefaults()
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}

	s := &StockService{
		repo:   repo,
		tx:     tx,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type loadFunc func(ctx context.Context) (domain.Stock, error)

func (s *StockService) byID(id string) loadFunc {
	return func(ctx context.Context) (domain.Stock, error) {
		return s.repo.FindByID(ctx, id)
	}
}

// Receive adds stock to a sku at a location, creating the record on first
// receipt. A concurrent first receipt loses the insert race with
// ErrDuplicateKey and is retried as a lookup.
func (s *StockService) Receive(ctx context.Context, cmd ReceiveCommand) (domain.Stock, error) {
	sku, err := domain.ParseSKU(cmd.SKU)
	if err != nil {
		return domain.Stock{}, err
	}
	unit, err := domain.ParseUnitOfMeasure(cmd.Unit)
	if err != nil {
		return domain.Stock{}, err
	}
	qty, err := parseQuantity("quantity", cmd.Quantity)
	if err != nil {
		return domain.Stock{}, err
	}
	if err := required("locationRef", cmd.LocationRef); err != nil {
		return domain.Stock{}, err
	}

	load := func(ctx context.Context) (domain.Stock, error) {
		stock, err := s.repo.FindBySKUAndLocation(ctx, sku, cmd.LocationRef)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewStock(cmd.ProductRef, sku, cmd.LocationRef, unit)
		}
		return stock, err
	}

	return s.execute(ctx, "Receive", cmd.RequestID, load, func(st domain.Stock) (domain.Stock, domain.Event, error) {
		return st.ReceiveStock(qty, cmd.Reason, cmd.PerformedBy)
	}, attribute.String("sku", sku.String()), attribute.String("location", cmd.LocationRef))
}

func (s *StockService) Reserve(ctx context.Context, cmd ReserveCommand) (domain.Stock, error) {
	sku, err := domain.ParseSKU(cmd.SKU)
	if err != nil {
		return domain.Stock{}, err
	}
	qty, err := parseQuantity("quantity", cmd.Quantity)
	if err := firstErr(err, required("locationRef", cmd.LocationRef), required("orderId", cmd.OrderID)); err != nil {
		return domain.Stock{}, err
	}

	load := func(ctx context.Context) (domain.Stock, error) {
		return s.repo.FindBySKUAndLocation(ctx, sku, cmd.LocationRef)
	}

	return s.execute(ctx, "Reserve", cmd.RequestID, load, func(st domain.Stock) (domain.Stock, domain.Event, error) {
		if err := s.precheck(st, qty); err != nil {
			return st, nil, err
		}
		return st.Reserve(qty, cmd.OrderID)
	}, attribute.String("sku", sku.String()), attribute.String("order_id", cmd.OrderID))
}

func (s *StockService) Release(ctx context.Context, cmd ReservationCommand) (domain.Stock, error) {
	qty, err := parseQuantity("quantity", cmd.Quantity)
	if err := firstErr(err, required("stockId", cmd.StockID), required("orderId", cmd.OrderID)); err != nil {
		return domain.Stock{}, err
	}

	return s.execute(ctx, "Release", cmd.RequestID, s.byID(cmd.StockID), func(st domain.Stock) (domain.Stock, domain.Event, error) {
		return st.ReleaseReservation(qty, cmd.OrderID)
	}, attribute.String("stock_id", cmd.StockID), attribute.String("order_id", cmd.OrderID))
}

func (s *StockService) Confirm(ctx context.Context, cmd ReservationCommand) (domain.Stock, error) {
	qty, err := parseQuantity("quantity", cmd.Quantity)
	if err := firstErr(err, required("stockId", cmd.StockID), required("orderId", cmd.OrderID)); err != nil {
		return domain.Stock{}, err
	}

	return s.execute(ctx, "Confirm", cmd.RequestID, s.byID(cmd.StockID), func(st domain.Stock) (domain.Stock, domain.Event, error) {
		return st.ConfirmReservation(qty, cmd.OrderID)
	}, attribute.String("stock_id", cmd.StockID), attribute.String("order_id", cmd.OrderID))
}

func (s *StockService) Adjust(ctx context.Context, cmd AdjustCommand) (domain.Stock, error) {
	qty, err := parseQuantity("newQuantity", cmd.NewQuantity)
	if err := firstErr(err, required("stockId", cmd.StockID), required("reason", cmd.Reason)); err != nil {
		return domain.Stock{}, err
	}

	return s.execute(ctx, "Adjust", cmd.RequestID, s.byID(cmd.StockID), func(st domain.Stock) (domain.Stock, domain.Event, error) {
		return st.AdjustStock(qty, cmd.Reason, cmd.PerformedBy)
	}, attribute.String("stock_id", cmd.StockID))
}

func (s *StockService) Withdraw(ctx context.Context, cmd WithdrawCommand) (domain.Stock, error) {
	qty, err := parseQuantity("quantity", cmd.Quantity)
	if err := firstErr(err, required("stockId", cmd.StockID), required("department", cmd.Department)); err != nil {
		return domain.Stock{}, err
	}

	return s.execute(ctx, "Withdraw", cmd.RequestID, s.byID(cmd.StockID), func(st domain.Stock) (domain.Stock, domain.Event, error) {
		return st.Withdraw(qty, cmd.Department, cmd.Reason, cmd.PerformedBy)
	}, attribute.String("stock_id", cmd.StockID), attribute.String("department", cmd.Department))
}

func (s *StockService) QuickSale(ctx context.Context, cmd QuickSaleCommand) (domain.Stock, error) {
	qty, err := parseQuantity("quantity", cmd.Quantity)
	if err := firstErr(err, required("stockId", cmd.StockID), required("orderId", cmd.OrderID)); err != nil {
		return domain.Stock{}, err
	}

	return s.execute(ctx, "QuickSale", cmd.RequestID, s.byID(cmd.StockID), func(st domain.Stock) (domain.Stock, domain.Event, error) {
		if err := s.precheck(st, qty); err != nil {
			return st, nil, err
		}
		return st.QuickSale(qty, cmd.OrderID, cmd.PerformedBy)
	}, attribute.String("stock_id", cmd.StockID), attribute.String("order_id", cmd.OrderID))
}

// DeleteStock removes a stock record together with its movements.
func (s *StockService) DeleteStock(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "StockService.DeleteStock", trace.WithAttributes(attribute.String("stock_id", id)))
	defer span.End()

	if err := s.repo.Delete(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if s.cache != nil {
		if err := s.cache.Evict(ctx, id); err != nil {
			s.logger.Warn("failed to evict stock snapshot", zap.String("stock_id", id), zap.Error(err))
		}
	}

	s.logger.Info("stock deleted", zap.String("stock_id", id))
	return nil
}

func (s *StockService) precheck(st domain.Stock, qty domain.Quantity) error {
	if s.cfg.Policy.CanReserve(st, qty) {
		return nil
	}
	return fmt.Errorf("%w. Available: %s, Requested: %s", domain.ErrInsufficientStock, st.Available(), qty)
}

func (s *StockService) execute(ctx context.Context, op, requestID string, load loadFunc, apply domain.Operation, attrs ...attribute.KeyValue) (domain.Stock, error) {
	ctx, span := s.tracer.Start(ctx, "StockService."+op, trace.WithAttributes(attrs...))
	defer span.End()

	fail := func(err error) (domain.Stock, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Info("stock command rejected",
			zap.String("op", op),
			zap.String("request_id", requestID),
			zap.Error(err))
		return domain.Stock{}, err
	}

	claimed, err := s.claim(ctx, requestID)
	if err != nil {
		return fail(err)
	}

	var (
		saved  domain.Stock
		events []domain.Event
	)
	err = s.cfg.Retry.run(ctx, s.logger, op, func(ctx context.Context) error {
		var err error
		saved, events, err = s.attempt(ctx, load, apply)
		return err
	})
	if err != nil {
		if claimed {
			s.release(ctx, requestID)
		}
		return fail(err)
	}

	s.afterCommit(ctx, saved, events)

	span.SetAttributes(
		attribute.String("stock_id", saved.ID()),
		attribute.Int64("version", saved.Version()),
	)
	span.SetStatus(codes.Ok, "")
	s.logger.Info("stock command applied",
		zap.String("op", op),
		zap.String("stock_id", saved.ID()),
		zap.String("available", saved.Available().String()),
		zap.String("reserved", saved.Reserved().String()),
		zap.Int64("version", saved.Version()))

	return saved, nil
}

// attempt performs one load-apply-save round. Events are drained only after
// the save succeeded and are dispatched in the same transaction.
func (s *StockService) attempt(ctx context.Context, load loadFunc, apply domain.Operation) (domain.Stock, []domain.Event, error) {
	stock, err := load(ctx)
	if err != nil {
		return domain.Stock{}, nil, err
	}

	var changes domain.Changes
	next, err := changes.Apply(stock, apply)
	if err != nil {
		return domain.Stock{}, nil, err
	}

	var (
		saved  domain.Stock
		events []domain.Event
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		saved, err = s.repo.Save(ctx, next)
		if err != nil {
			return err
		}

		events = changes.Drain()
		return s.dispatch(ctx, events)
	})
	if err != nil {
		return domain.Stock{}, nil, err
	}
	return saved, events, nil
}

func (s *StockService) dispatch(ctx context.Context, events []domain.Event) error {
	for _, event := range events {
		for _, h := range s.handlers {
			if err := h.Handle(ctx, event); err != nil {
				return fmt.Errorf("handle %s: %w", event.Type(), err)
			}
		}
	}
	return nil
}

func (s *StockService) afterCommit(ctx context.Context, saved domain.Stock, events []domain.Event) {
	if s.sink != nil {
		s.sink.Enqueue(events...)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, saved.Snapshot()); err != nil {
			s.logger.Warn("failed to cache stock snapshot", zap.String("stock_id", saved.ID()), zap.Error(err))
		}
	}
}

func (s *StockService) claim(ctx context.Context, requestID string) (bool, error) {
	if requestID == "" || s.idempotency == nil {
		return false, nil
	}

	ok, err := s.idempotency.Claim(ctx, requestID, s.cfg.IdempotencyTTL)
	if err != nil {
		return false, fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return false, ErrDuplicateRequest
	}
	return true, nil
}

func (s *StockService) release(ctx context.Context, requestID string) {
	if err := s.idempotency.Release(ctx, requestID); err != nil {
		s.logger.Warn("failed to release idempotency key", zap.String("request_id", requestID), zap.Error(err))
	}
}
