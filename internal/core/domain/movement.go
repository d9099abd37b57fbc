package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MovementType string

const (
	MovementReceipt      MovementType = "RECEIPT"
	MovementReservation  MovementType = "RESERVATION"
	MovementRelease      MovementType = "RELEASE"
	MovementConfirmation MovementType = "CONFIRMATION"
	MovementAdjustment   MovementType = "ADJUSTMENT"
	MovementWithdrawal   MovementType = "WITHDRAWAL"
	MovementSale         MovementType = "SALE"
)

const (
	reasonReservation  = "Order Reservation"
	reasonRelease      = "Order Cancellation"
	reasonConfirmation = "Order Confirmation"
	reasonSale         = "Quick Sale / POS"
)

// StockMovement is one immutable ledger row. Quantity is signed: inbound
// movements are positive, outbound ones negative.
type StockMovement struct {
	ID          string          `json:"id"`
	StockID     string          `json:"stockId"`
	Type        MovementType    `json:"movementType"`
	Quantity    decimal.Decimal `json:"quantity"`
	Reason      string          `json:"reason"`
	ReferenceID *string         `json:"referenceId,omitempty"`
	PerformedBy string          `json:"performedBy"`
	PerformedAt time.Time       `json:"performedAt"`
}

func ref(s string) *string {
	return &s
}

// MovementFromEvent projects a stock event into its ledger row.
func MovementFromEvent(event Event) (StockMovement, error) {
	meta := event.Meta()
	m := StockMovement{
		ID:          uuid.NewString(),
		StockID:     meta.StockID,
		PerformedAt: meta.OccurredAt,
	}

	switch e := event.(type) {
	case StockReceived:
		m.Type = MovementReceipt
		m.Quantity = e.Quantity.Decimal()
		m.Reason = e.Reason
		m.PerformedBy = e.PerformedBy
	case StockReserved:
		m.Type = MovementReservation
		m.Quantity = e.Quantity.Decimal().Neg()
		m.Reason = reasonReservation
		m.ReferenceID = ref(e.OrderID)
		m.PerformedBy = e.PerformedBy
	case ReservationReleased:
		m.Type = MovementRelease
		m.Quantity = e.Quantity.Decimal()
		m.Reason = reasonRelease
		m.ReferenceID = ref(e.OrderID)
		m.PerformedBy = e.PerformedBy
	case ReservationConfirmed:
		m.Type = MovementConfirmation
		m.Quantity = e.Quantity.Decimal().Neg()
		m.Reason = reasonConfirmation
		m.ReferenceID = ref(e.OrderID)
		m.PerformedBy = e.PerformedBy
	case StockAdjusted:
		m.Type = MovementAdjustment
		m.Quantity = e.Difference
		m.Reason = e.Reason
		m.PerformedBy = e.PerformedBy
	case StockWithdrawn:
		m.Type = MovementWithdrawal
		m.Quantity = e.Quantity.Decimal().Neg()
		m.Reason = e.Reason
		m.ReferenceID = ref(e.Department)
		m.PerformedBy = e.PerformedBy
	case StockSold:
		m.Type = MovementSale
		m.Quantity = e.Quantity.Decimal().Neg()
		m.Reason = reasonSale
		m.ReferenceID = ref(e.OrderID)
		m.PerformedBy = e.PerformedBy
	default:
		return StockMovement{}, fmt.Errorf("%w: no movement for event %s", ErrInvalidOperation, event.Type())
	}

	return m, nil
}
