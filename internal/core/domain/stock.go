package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// now is swapped in tests that need deterministic timestamps.
var now = func() time.Time { return time.Now().UTC() }

// Stock is the quantity record of one SKU at one location. Operations use
// value receivers and return the next state together with the event they
// produced, so a failed operation can never leave a partially mutated copy.
type Stock struct {
	id          string
	productRef  string
	sku         SKU
	locationRef string
	available   Quantity
	reserved    Quantity
	unit        UnitOfMeasure
	version     int64 // 0 until first persisted
	createdAt   time.Time
	updatedAt   time.Time
}

// StockSnapshot is the flat form of a Stock used by storage adapters and
// caches to move it across process boundaries.
type StockSnapshot struct {
	ID          string        `json:"id"`
	ProductRef  string        `json:"productRef"`
	SKU         SKU           `json:"sku"`
	LocationRef string        `json:"locationRef"`
	Available   Quantity      `json:"availableQuantity"`
	Reserved    Quantity      `json:"reservedQuantity"`
	Unit        UnitOfMeasure `json:"unitOfMeasure"`
	Version     int64         `json:"version"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// NewStock creates an unsaved stock record with zero balances.
func NewStock(productRef string, sku SKU, locationRef string, unit UnitOfMeasure) (Stock, error) {
	if sku == "" {
		return Stock{}, fmt.Errorf("%w: empty", ErrInvalidSKU)
	}
	if strings.TrimSpace(locationRef) == "" {
		return Stock{}, fmt.Errorf("%w: location is required", ErrInvalidOperation)
	}
	if !unit.Valid() {
		return Stock{}, fmt.Errorf("%w: %q", ErrInvalidUnit, unit)
	}

	ts := now()
	return Stock{
		id:          uuid.NewString(),
		productRef:  productRef,
		sku:         sku,
		locationRef: locationRef,
		available:   ZeroQuantity(),
		reserved:    ZeroQuantity(),
		unit:        unit,
		createdAt:   ts,
		updatedAt:   ts,
	}, nil
}

// ReconstituteStock rebuilds a Stock from persisted state without validation.
func ReconstituteStock(s StockSnapshot) Stock {
	return Stock{
		id:          s.ID,
		productRef:  s.ProductRef,
		sku:         s.SKU,
		locationRef: s.LocationRef,
		available:   s.Available,
		reserved:    s.Reserved,
		unit:        s.Unit,
		version:     s.Version,
		createdAt:   s.CreatedAt,
		updatedAt:   s.UpdatedAt,
	}
}

func (s Stock) Snapshot() StockSnapshot {
	return StockSnapshot{
		ID:          s.id,
		ProductRef:  s.productRef,
		SKU:         s.sku,
		LocationRef: s.locationRef,
		Available:   s.available,
		Reserved:    s.reserved,
		Unit:        s.unit,
		Version:     s.version,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
	}
}

func (s Stock) ID() string { return s.id }
func (s Stock) ProductRef() string { return s.productRef }
func (s Stock) SKU() SKU { return s.sku }
func (s Stock) LocationRef() string { return s.locationRef }
func (s Stock) Available() Quantity { return s.available }
func (s Stock) Reserved() Quantity { return s.reserved }
func (s Stock) Unit() UnitOfMeasure { return s.unit }
func (s Stock) Version() int64 { return s.version }
func (s Stock) CreatedAt() time.Time { return s.createdAt }
func (s Stock) UpdatedAt() time.Time { return s.updatedAt }
func (s Stock) IsNew() bool { return s.version == 0 }
func (s Stock) Total() Quantity { return s.available.Add(s.reserved) }

// WithVersion is used by repositories to stamp the stored version.
func (s Stock) WithVersion(v int64) Stock {
	s.version = v
	return s
}

func requirePositive(q Quantity) error {
	if !q.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrNonPositiveQuantity, q)
	}
	return nil
}

func (s Stock) ReceiveStock(qty Quantity, reason, performedBy string) (Stock, Event, error) {
	if err := requirePositive(qty); err != nil {
		return s, nil, err
	}

	next := s
	next.available = s.available.Add(qty)
	next.updatedAt = now()

	return next, StockReceived{
		EventMeta:   newEventMeta(next, next.updatedAt),
		Quantity:    qty,
		Reason:      reason,
		PerformedBy: performedBy,
	}, nil
}

func (s Stock) Reserve(qty Quantity, orderID string) (Stock, Event, error) {
	if err := requirePositive(qty); err != nil {
		return s, nil, err
	}
	if !s.available.IsGreaterThanOrEqual(qty) {
		return s, nil, insufficient("", "Available", s.available, qty)
	}

	next := s
	next.available, _ = s.available.Subtract(qty)
	next.reserved = s.reserved.Add(qty)
	next.updatedAt = now()

	return next, StockReserved{
		EventMeta:   newEventMeta(next, next.updatedAt),
		Quantity:    qty,
		OrderID:     orderID,
		PerformedBy: SystemActor,
	}, nil
}

func (s Stock) ReleaseReservation(qty Quantity, orderID string) (Stock, Event, error) {
	if err := requirePositive(qty); err != nil {
		return s, nil, err
	}
	if !s.reserved.IsGreaterThanOrEqual(qty) {
		return s, nil, insufficient(": cannot release more than reserved", "Reserved", s.reserved, qty)
	}

	next := s
	next.reserved, _ = s.reserved.Subtract(qty)
	next.available = s.available.Add(qty)
	next.updatedAt = now()

	return next, ReservationReleased{
		EventMeta:   newEventMeta(next, next.updatedAt),
		Quantity:    qty,
		OrderID:     orderID,
		PerformedBy: SystemActor,
	}, nil
}

// ConfirmReservation removes reserved stock from inventory for good.
func (s Stock) ConfirmReservation(qty Quantity, orderID string) (Stock, Event, error) {
	if err := requirePositive(qty); err != nil {
		return s, nil, err
	}
	if !s.reserved.IsGreaterThanOrEqual(qty) {
		return s, nil, insufficient(": cannot confirm more than reserved", "Reserved", s.reserved, qty)
	}

	next := s
	next.reserved, _ = s.reserved.Subtract(qty)
	next.updatedAt = now()

	return next, ReservationConfirmed{
		EventMeta:   newEventMeta(next, next.updatedAt),
		Quantity:    qty,
		OrderID:     orderID,
		PerformedBy: SystemActor,
	}, nil
}

// AdjustStock sets the available balance to an absolute counted value. Zero
// is a legal target. The event carries newQty minus the previous balance.
func (s Stock) AdjustStock(newQty Quantity, reason, performedBy string) (Stock, Event, error) {
	next := s
	next.available = newQty
	next.updatedAt = now()

	return next, StockAdjusted{
		EventMeta:        newEventMeta(next, next.updatedAt),
		PreviousQuantity: s.available,
		NewQuantity:      newQty,
		Difference:       newQty.Decimal().Sub(s.available.Decimal()),
		Reason:           reason,
		PerformedBy:      performedBy,
	}, nil
}

func (s Stock) Withdraw(qty Quantity, department, reason, performedBy string) (Stock, Event, error) {
	if err := requirePositive(qty); err != nil {
		return s, nil, err
	}
	if !s.available.IsGreaterThanOrEqual(qty) {
		return s, nil, insufficient(" for withdrawal", "Available", s.available, qty)
	}

	next := s
	next.available, _ = s.available.Subtract(qty)
	next.updatedAt = now()

	return next, StockWithdrawn{
		EventMeta:   newEventMeta(next, next.updatedAt),
		Quantity:    qty,
		Department:  department,
		Reason:      reason,
		PerformedBy: performedBy,
	}, nil
}

// QuickSale is reserve and confirm in one step, for point of sale.
func (s Stock) QuickSale(qty Quantity, orderID, performedBy string) (Stock, Event, error) {
	if err := requirePositive(qty); err != nil {
		return s, nil, err
	}
	if !s.available.IsGreaterThanOrEqual(qty) {
		return s, nil, insufficient(" for sale", "Available", s.available, qty)
	}

	next := s
	next.available, _ = s.available.Subtract(qty)
	next.updatedAt = now()

	return next, StockSold{
		EventMeta:   newEventMeta(next, next.updatedAt),
		Quantity:    qty,
		OrderID:     orderID,
		PerformedBy: performedBy,
	}, nil
}
