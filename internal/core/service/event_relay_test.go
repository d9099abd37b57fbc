package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type mockPublisher struct {
	mu        sync.Mutex
	published []domain.Event
	fail      bool
	block     chan struct{}
}

func (m *mockPublisher) Publish(ctx context.Context, event domain.Event) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail {
		return errors.New("broker down")
	}
	m.published = append(m.published, event)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

func receivedEvents(t *testing.T, n int) []domain.Event {
	t.Helper()
	stock, err := domain.NewStock("PRD-1", "SKU-001", "LOC-A", domain.UnitPiece)
	require.NoError(t, err)

	events := make([]domain.Event, 0, n)
	for i := 0; i < n; i++ {
		var event domain.Event
		stock, event, err = stock.ReceiveStock(domain.MustQuantity("1"), "delivery", "alice")
		require.NoError(t, err)
		events = append(events, event)
	}
	return events
}

func TestEventRelay_DrainsOnClose(t *testing.T) {
	pub := &mockPublisher{}
	relay := NewEventRelay(pub, 100, 4, zap.NewNop())
	relay.Start()

	relay.Enqueue(receivedEvents(t, 50)...)
	relay.Close()

	assert.Equal(t, 50, pub.count())
}

func TestEventRelay_DropsWhenFull(t *testing.T) {
	pub := &mockPublisher{block: make(chan struct{})}
	relay := NewEventRelay(pub, 2, 1, zap.NewNop())
	relay.Start()

	// one event in flight in the worker, two buffered, the rest dropped
	relay.Enqueue(receivedEvents(t, 10)...)
	close(pub.block)
	relay.Close()

	assert.LessOrEqual(t, pub.count(), 3)
	assert.GreaterOrEqual(t, pub.count(), 2)
}

func TestEventRelay_EnqueueAfterClose(t *testing.T) {
	pub := &mockPublisher{}
	relay := NewEventRelay(pub, 10, 1, zap.NewNop())
	relay.Start()
	relay.Close()
	relay.Close()

	assert.NotPanics(t, func() { relay.Enqueue(receivedEvents(t, 1)...) })
	assert.Zero(t, pub.count())
}

func TestEventRelay_PublishFailureIsLogged(t *testing.T) {
	pub := &mockPublisher{fail: true}
	relay := NewEventRelay(pub, 10, 2, zap.NewNop())
	relay.Start()

	relay.Enqueue(receivedEvents(t, 3)...)
	relay.Close()

	assert.Zero(t, pub.count())
}

func TestStockService_RelaysCommittedEvents(t *testing.T) {
	pub := &mockPublisher{}
	relay := NewEventRelay(pub, 10, 1, zap.NewNop())
	relay.Start()

	f := setup(t, WithEventSink(relay))
	f.receive(t, "5")
	_, err := f.svc.Reserve(context.Background(), ReserveCommand{SKU: "SKU-001", LocationRef: "LOC-A", Quantity: "50", OrderID: "ORD-1"})
	require.Error(t, err)

	relay.Close()

	require.Equal(t, 1, pub.count())
	assert.Equal(t, domain.EventStockReceived, pub.published[0].Type())
}
