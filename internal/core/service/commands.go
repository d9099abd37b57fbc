package service

import (
	"fmt"
	"strings"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// Commands carry raw client input. The service parses them, so malformed
// values surface as domain.ErrInvalidOperation.

type ReceiveCommand struct {
	RequestID   string
	ProductRef  string
	SKU         string
	LocationRef string
	Quantity    string
	Unit        string
	Reason      string
	PerformedBy string
}

type ReserveCommand struct {
	RequestID   string
	SKU         string
	LocationRef string
	Quantity    string
	OrderID     string
}

// ReservationCommand releases or confirms part of an existing reservation.
type ReservationCommand struct {
	RequestID string
	StockID   string
	Quantity  string
	OrderID   string
}

type AdjustCommand struct {
	RequestID   string
	StockID     string
	NewQuantity string
	Reason      string
	PerformedBy string
}

type WithdrawCommand struct {
	RequestID   string
	StockID     string
	Quantity    string
	Department  string
	Reason      string
	PerformedBy string
}

type QuickSaleCommand struct {
	RequestID   string
	StockID     string
	Quantity    string
	OrderID     string
	PerformedBy string
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", domain.ErrInvalidOperation, field)
	}
	return nil
}

func parseQuantity(field, value string) (domain.Quantity, error) {
	if err := required(field, value); err != nil {
		return domain.Quantity{}, err
	}
	return domain.QuantityOf(strings.TrimSpace(value))
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
