package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// EventHandler reacts to a stock event inside the command's transaction.
type EventHandler interface {
	Handle(ctx context.Context, event domain.Event) error
}

// EventPublisher delivers committed events outside the process.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
	Close() error
}
