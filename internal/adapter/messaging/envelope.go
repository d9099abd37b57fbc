package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// Envelope is the wire form of a stock event. Quantities travel as decimal
// strings so consumers never see float rounding.
type Envelope struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	StockID     string    `json:"stock_id"`
	SKU         string    `json:"sku"`
	LocationRef string    `json:"location_ref"`
	Quantity    string    `json:"quantity,omitempty"`
	Previous    string    `json:"previous_quantity,omitempty"`
	Difference  string    `json:"difference,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	Department  string    `json:"department,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	PerformedBy string    `json:"performed_by,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func NewEnvelope(event domain.Event) (Envelope, error) {
	meta := event.Meta()
	env := Envelope{
		EventID:     meta.EventID,
		EventType:   event.Type(),
		StockID:     meta.StockID,
		SKU:         meta.SKU.String(),
		LocationRef: meta.LocationRef,
		OccurredAt:  meta.OccurredAt,
	}

	switch e := event.(type) {
	case domain.StockReceived:
		env.Quantity, env.Reason, env.PerformedBy = e.Quantity.String(), e.Reason, e.PerformedBy
	case domain.StockReserved:
		env.Quantity, env.OrderID, env.PerformedBy = e.Quantity.String(), e.OrderID, e.PerformedBy
	case domain.ReservationReleased:
		env.Quantity, env.OrderID, env.PerformedBy = e.Quantity.String(), e.OrderID, e.PerformedBy
	case domain.ReservationConfirmed:
		env.Quantity, env.OrderID, env.PerformedBy = e.Quantity.String(), e.OrderID, e.PerformedBy
	case domain.StockAdjusted:
		env.Quantity = e.NewQuantity.String()
		env.Previous = e.PreviousQuantity.String()
		env.Difference = e.Difference.StringFixed(domain.QuantityScale)
		env.Reason, env.PerformedBy = e.Reason, e.PerformedBy
	case domain.StockWithdrawn:
		env.Quantity, env.Department = e.Quantity.String(), e.Department
		env.Reason, env.PerformedBy = e.Reason, e.PerformedBy
	case domain.StockSold:
		env.Quantity, env.OrderID, env.PerformedBy = e.Quantity.String(), e.OrderID, e.PerformedBy
	default:
		return Envelope{}, fmt.Errorf("unsupported event type %s", event.Type())
	}
	return env, nil
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
