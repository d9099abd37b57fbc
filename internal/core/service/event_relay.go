package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const publishTimeout = 5 * time.Second

// EventRelay hands committed events to a publisher from a pool of workers.
// Delivery is best effort: a full queue drops the event and logs it.
type EventRelay struct {
	publisher port.EventPublisher
	queue     chan domain.Event
	workers   int
	logger    *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewEventRelay(publisher port.EventPublisher, queueSize, workers int, logger *zap.Logger) *EventRelay {
	if workers <= 0 {
		workers = 1
	}
	return &EventRelay{
		publisher: publisher,
		queue:     make(chan domain.Event, queueSize),
		workers:   workers,
		logger:    logger,
	}
}

func (r *EventRelay) Start() {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go func(id int) {
			defer r.wg.Done()
			r.workerLoop(id)
		}(i)
	}
	r.logger.Info("event relay started", zap.Int("workers", r.workers))
}

func (r *EventRelay) Enqueue(events ...domain.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, event := range events {
		if r.closed {
			r.logger.Error("event relay closed, dropping event",
				zap.String("event_id", event.Meta().EventID),
				zap.String("event_type", event.Type()))
			continue
		}

		select {
		case r.queue <- event:
		default:
			r.logger.Error("event relay queue full, dropping event",
				zap.String("event_id", event.Meta().EventID),
				zap.String("event_type", event.Type()))
		}
	}
}

// Close stops intake, drains the queue and waits for in-flight publishes.
func (r *EventRelay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *EventRelay) workerLoop(id int) {
	for event := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)

		if err := r.publisher.Publish(ctx, event); err != nil {
			r.logger.Error("failed to publish event",
				zap.Int("worker", id),
				zap.String("event_id", event.Meta().EventID),
				zap.String("event_type", event.Type()),
				zap.String("stock_id", event.Meta().StockID),
				zap.Error(err))
		} else {
			r.logger.Debug("published event",
				zap.Int("worker", id),
				zap.String("event_id", event.Meta().EventID),
				zap.String("event_type", event.Type()))
		}

		cancel()
	}
}
