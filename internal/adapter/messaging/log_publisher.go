package messaging

import (
	"context"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event domain.Event) error {
	env, err := NewEnvelope(event)
	if err != nil {
		return err
	}

	p.logger.Info("stock event",
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.String("stock_id", env.StockID),
		zap.String("sku", env.SKU),
		zap.String("location_ref", env.LocationRef),
		zap.String("quantity", env.Quantity),
		zap.Time("occurred_at", env.OccurredAt))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
