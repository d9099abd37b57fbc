package domain

import (
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStock(t *testing.T) Stock {
	t.Helper()
	s, err := NewStock("PRD-1", SKU("SKU-001"), "LOC-A", UnitPiece)
	require.NoError(t, err)
	return s
}

func stockWith(t *testing.T, available, reserved string) Stock {
	t.Helper()
	snap := newTestStock(t).Snapshot()
	snap.Available = MustQuantity(available)
	snap.Reserved = MustQuantity(reserved)
	snap.Version = 3
	return ReconstituteStock(snap)
}

func TestNewStock(t *testing.T) {
	s := newTestStock(t)

	assert.NotEmpty(t, s.ID())
	assert.True(t, s.IsNew())
	assert.True(t, s.Available().IsZero())
	assert.True(t, s.Reserved().IsZero())
	assert.Equal(t, UnitPiece, s.Unit())

	_, err := NewStock("PRD-1", "", "LOC-A", UnitPiece)
	assert.ErrorIs(t, err, ErrInvalidSKU)

	_, err = NewStock("PRD-1", "SKU-001", " ", UnitPiece)
	assert.ErrorIs(t, err, ErrInvalidOperation)

	_, err = NewStock("PRD-1", "SKU-001", "LOC-A", UnitOfMeasure("DOZEN"))
	assert.ErrorIs(t, err, ErrInvalidUnit)
}

func TestStockScenario(t *testing.T) {
	var changes Changes
	s := newTestStock(t)

	s, err := changes.Apply(s, func(s Stock) (Stock, Event, error) {
		return s.ReceiveStock(MustQuantity("50"), "initial", "alice")
	})
	require.NoError(t, err)
	assert.Equal(t, "50.0000", s.Available().String())
	assert.True(t, s.Reserved().IsZero())

	s, err = changes.Apply(s, func(s Stock) (Stock, Event, error) {
		return s.Reserve(MustQuantity("20"), "ORD-1")
	})
	require.NoError(t, err)
	assert.Equal(t, "30.0000", s.Available().String())
	assert.Equal(t, "20.0000", s.Reserved().String())

	s, err = changes.Apply(s, func(s Stock) (Stock, Event, error) {
		return s.ConfirmReservation(MustQuantity("20"), "ORD-1")
	})
	require.NoError(t, err)
	assert.Equal(t, "30.0000", s.Available().String())
	assert.True(t, s.Reserved().IsZero())

	s, err = changes.Apply(s, func(s Stock) (Stock, Event, error) {
		return s.Withdraw(MustQuantity("5"), "Eng", "restock", "bob")
	})
	require.NoError(t, err)
	assert.Equal(t, "25.0000", s.Available().String())

	s, err = changes.Apply(s, func(s Stock) (Stock, Event, error) {
		return s.AdjustStock(MustQuantity("22"), "cycle count", "alice")
	})
	require.NoError(t, err)
	assert.Equal(t, "22.0000", s.Available().String())

	events := changes.Drain()
	require.Len(t, events, 5)
	assert.Empty(t, changes.Drain())

	reserved := events[1].(StockReserved)
	assert.Equal(t, "20.0000", reserved.Quantity.String())
	assert.Equal(t, "ORD-1", reserved.OrderID)
	assert.Equal(t, s.ID(), reserved.Meta().StockID)

	confirmed := events[2].(ReservationConfirmed)
	assert.Equal(t, "20.0000", confirmed.Quantity.String())

	adjusted := events[4].(StockAdjusted)
	assert.True(t, adjusted.Difference.Equal(decimal.NewFromInt(-3)), adjusted.Difference.String())
	assert.Equal(t, "25.0000", adjusted.PreviousQuantity.String())
}

func TestStockRoundTripLaws(t *testing.T) {
	s := stockWith(t, "40", "5")
	q := MustQuantity("12.5")

	reserved, _, err := s.Reserve(q, "ORD-9")
	require.NoError(t, err)

	released, _, err := reserved.ReleaseReservation(q, "ORD-9")
	require.NoError(t, err)
	assert.True(t, released.Available().Equal(s.Available()))
	assert.True(t, released.Reserved().Equal(s.Reserved()))

	confirmed, _, err := reserved.ConfirmReservation(q, "ORD-9")
	require.NoError(t, err)
	assert.True(t, confirmed.Available().Equal(reserved.Available()))
	expected, err := reserved.Reserved().Subtract(q)
	require.NoError(t, err)
	assert.True(t, confirmed.Reserved().Equal(expected))
}

func TestStockRejectsNonPositiveQuantity(t *testing.T) {
	s := stockWith(t, "10", "10")
	zero := ZeroQuantity()

	ops := map[string]Operation{
		"receive":  func(s Stock) (Stock, Event, error) { return s.ReceiveStock(zero, "r", "a") },
		"reserve":  func(s Stock) (Stock, Event, error) { return s.Reserve(zero, "o") },
		"release":  func(s Stock) (Stock, Event, error) { return s.ReleaseReservation(zero, "o") },
		"confirm":  func(s Stock) (Stock, Event, error) { return s.ConfirmReservation(zero, "o") },
		"withdraw": func(s Stock) (Stock, Event, error) { return s.Withdraw(zero, "d", "r", "a") },
		"sale":     func(s Stock) (Stock, Event, error) { return s.QuickSale(zero, "o", "a") },
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			var changes Changes
			next, err := changes.Apply(s, op)
			assert.ErrorIs(t, err, ErrInvalidOperation)
			assert.Equal(t, s, next)
			assert.Zero(t, changes.Len())
		})
	}
}

func TestStockRejectsOverdraw(t *testing.T) {
	s := stockWith(t, "10", "4")
	tooMuch := MustQuantity("10.0001")
	overReserved := MustQuantity("4.5")

	ops := map[string]Operation{
		"reserve":  func(s Stock) (Stock, Event, error) { return s.Reserve(tooMuch, "o") },
		"withdraw": func(s Stock) (Stock, Event, error) { return s.Withdraw(tooMuch, "d", "r", "a") },
		"sale":     func(s Stock) (Stock, Event, error) { return s.QuickSale(tooMuch, "o", "a") },
		"release":  func(s Stock) (Stock, Event, error) { return s.ReleaseReservation(overReserved, "o") },
		"confirm":  func(s Stock) (Stock, Event, error) { return s.ConfirmReservation(overReserved, "o") },
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			next, event, err := op(s)
			assert.ErrorIs(t, err, ErrInsufficientStock)
			assert.Nil(t, event)
			assert.Equal(t, s, next)
		})
	}

	_, _, err := s.Reserve(tooMuch, "o")
	assert.EqualError(t, err, "insufficient stock. Available: 10.0000, Requested: 10.0001")
}

func TestStockAdjustToZero(t *testing.T) {
	s := stockWith(t, "7", "0")

	next, event, err := s.AdjustStock(ZeroQuantity(), "damaged", "carol")
	require.NoError(t, err)
	assert.True(t, next.Available().IsZero())
	assert.True(t, event.(StockAdjusted).Difference.Equal(decimal.NewFromInt(-7)))
}

func TestStockBalancesNeverNegative(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	s := newTestStock(t)

	amount := func() Quantity {
		q, err := QuantityOfInt(rng.Int64N(20))
		require.NoError(t, err)
		return q
	}

	for i := 0; i < 2000; i++ {
		var (
			next Stock
			err  error
		)
		switch rng.IntN(7) {
		case 0:
			next, _, err = s.ReceiveStock(amount(), "r", "a")
		case 1:
			next, _, err = s.Reserve(amount(), "o")
		case 2:
			next, _, err = s.ReleaseReservation(amount(), "o")
		case 3:
			next, _, err = s.ConfirmReservation(amount(), "o")
		case 4:
			next, _, err = s.AdjustStock(amount(), "count", "a")
		case 5:
			next, _, err = s.Withdraw(amount(), "d", "r", "a")
		case 6:
			next, _, err = s.QuickSale(amount(), "o", "a")
		}
		if err != nil {
			require.Equal(t, s, next)
			continue
		}
		require.GreaterOrEqual(t, next.Available().Decimal().Sign(), 0)
		require.GreaterOrEqual(t, next.Reserved().Decimal().Sign(), 0)
		s = next
	}
}
