package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SystemActor is recorded as the actor of reservation lifecycle events,
// which are driven by order management rather than an operator.
const SystemActor = "system"

const (
	EventStockReceived        = "StockReceived"
	EventStockReserved        = "StockReserved"
	EventReservationReleased  = "ReservationReleased"
	EventReservationConfirmed = "ReservationConfirmed"
	EventStockAdjusted        = "StockAdjusted"
	EventStockWithdrawn       = "StockWithdrawn"
	EventStockSold            = "StockSold"
)

type Event interface {
	Type() string
	Meta() EventMeta
}

type EventMeta struct {
	EventID     string
	StockID     string
	SKU         SKU
	LocationRef string
	OccurredAt  time.Time
}

func (m EventMeta) Meta() EventMeta { return m }

func newEventMeta(s Stock, at time.Time) EventMeta {
	return EventMeta{
		EventID:     uuid.NewString(),
		StockID:     s.id,
		SKU:         s.sku,
		LocationRef: s.locationRef,
		OccurredAt:  at,
	}
}

type StockReceived struct {
	EventMeta
	Quantity    Quantity
	Reason      string
	PerformedBy string
}

func (e StockReceived) Type() string { return EventStockReceived }

type StockReserved struct {
	EventMeta
	Quantity    Quantity
	OrderID     string
	PerformedBy string
}

func (e StockReserved) Type() string { return EventStockReserved }

type ReservationReleased struct {
	EventMeta
	Quantity    Quantity
	OrderID     string
	PerformedBy string
}

func (e ReservationReleased) Type() string { return EventReservationReleased }

type ReservationConfirmed struct {
	EventMeta
	Quantity    Quantity
	OrderID     string
	PerformedBy string
}

func (e ReservationConfirmed) Type() string { return EventReservationConfirmed }

// StockAdjusted carries the signed Difference, not only the new absolute value.
type StockAdjusted struct {
	EventMeta
	PreviousQuantity Quantity
	NewQuantity      Quantity
	Difference       decimal.Decimal
	Reason           string
	PerformedBy      string
}

func (e StockAdjusted) Type() string { return EventStockAdjusted }

type StockWithdrawn struct {
	EventMeta
	Quantity    Quantity
	Department  string
	Reason      string
	PerformedBy string
}

func (e StockWithdrawn) Type() string { return EventStockWithdrawn }

type StockSold struct {
	EventMeta
	Quantity    Quantity
	OrderID     string
	PerformedBy string
}

func (e StockSold) Type() string { return EventStockSold }
