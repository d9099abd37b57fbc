package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type mockProducer struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (m *mockProducer) WriteMessage(ctx context.Context, msg kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockProducer) Close() error {
	m.closed = true
	return nil
}

func newStock(t *testing.T) domain.Stock {
	t.Helper()
	stock, err := domain.NewStock("PRD-1", "SKU-001", "LOC-A", domain.UnitKilogram)
	require.NoError(t, err)
	stock, _, err = stock.ReceiveStock(domain.MustQuantity("10"), "delivery", "alice")
	require.NoError(t, err)
	return stock
}

func TestNewEnvelope(t *testing.T) {
	stock := newStock(t)

	_, reserved, err := stock.Reserve(domain.MustQuantity("2.5"), "ORD-1")
	require.NoError(t, err)
	_, adjusted, err := stock.AdjustStock(domain.MustQuantity("7"), "count", "bob")
	require.NoError(t, err)
	_, withdrawn, err := stock.Withdraw(domain.MustQuantity("1"), "Eng", "samples", "carol")
	require.NoError(t, err)

	t.Run("reservation", func(t *testing.T) {
		env, err := NewEnvelope(reserved)
		require.NoError(t, err)
		assert.Equal(t, domain.EventStockReserved, env.EventType)
		assert.Equal(t, "2.5000", env.Quantity)
		assert.Equal(t, "ORD-1", env.OrderID)
		assert.Equal(t, domain.SystemActor, env.PerformedBy)
		assert.Equal(t, "SKU-001", env.SKU)
	})

	t.Run("adjustment carries the signed difference", func(t *testing.T) {
		env, err := NewEnvelope(adjusted)
		require.NoError(t, err)
		assert.Equal(t, "7.0000", env.Quantity)
		assert.Equal(t, "10.0000", env.Previous)
		assert.Equal(t, "-3.0000", env.Difference)
	})

	t.Run("withdrawal", func(t *testing.T) {
		env, err := NewEnvelope(withdrawn)
		require.NoError(t, err)
		assert.Equal(t, "Eng", env.Department)
		assert.Empty(t, env.OrderID)
	})
}

func TestKafkaPublisher_Publish(t *testing.T) {
	stock := newStock(t)
	_, event, err := stock.QuickSale(domain.MustQuantity("3"), "POS-9", "till")
	require.NoError(t, err)

	producer := &mockProducer{}
	pub := NewKafkaPublisher(producer, zap.NewNop())
	require.NoError(t, pub.Publish(context.Background(), event))
	require.Len(t, producer.messages, 1)

	msg := producer.messages[0]
	assert.Equal(t, stock.ID(), string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, eventTypeHeader, msg.Headers[0].Key)
	assert.Equal(t, domain.EventStockSold, string(msg.Headers[0].Value))

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "3.0000", body["quantity"])
	assert.Equal(t, "POS-9", body["order_id"])
	assert.Equal(t, event.Meta().EventID, body["event_id"])

	require.NoError(t, pub.Close())
	assert.True(t, producer.closed)
}

func TestKafkaPublisher_WriteFailure(t *testing.T) {
	stock := newStock(t)
	_, event, err := stock.Reserve(domain.MustQuantity("1"), "ORD-1")
	require.NoError(t, err)

	broker := errors.New("leader not available")
	pub := NewKafkaPublisher(&mockProducer{err: broker}, zap.NewNop())

	err = pub.Publish(context.Background(), event)
	assert.ErrorIs(t, err, broker)
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	pub := NewLogPublisher(zap.New(core))

	stock := newStock(t)
	_, event, err := stock.Reserve(domain.MustQuantity("1"), "ORD-1")
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), event))
	entries := logs.FilterMessage("stock event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EventStockReserved, entries[0].ContextMap()["event_type"])
}
