package domain

// DefaultLowStockThreshold is the level under which a stock is reported as low.
var DefaultLowStockThreshold = MustQuantity("10")

// ReservationPolicy is an advisory pre-check. Stock.Reserve re-checks the
// same condition, so callers must still handle ErrInsufficientStock.
type ReservationPolicy struct {
	LowStockThreshold Quantity
}

func NewReservationPolicy(threshold Quantity) ReservationPolicy {
	return ReservationPolicy{LowStockThreshold: threshold}
}

func (ReservationPolicy) CanReserve(s Stock, requested Quantity) bool {
	return s.Available().IsGreaterThanOrEqual(requested)
}

func (ReservationPolicy) IsLowStock(s Stock, threshold Quantity) bool {
	return threshold.IsGreaterThan(s.Available())
}

// IsBelowThreshold applies the policy's configured threshold.
func (p ReservationPolicy) IsBelowThreshold(s Stock) bool {
	return p.IsLowStock(s, p.LowStockThreshold)
}

func (ReservationPolicy) ReservableQuantity(s Stock) Quantity {
	if s.Available().IsPositive() {
		return s.Available()
	}
	return ZeroQuantity()
}
