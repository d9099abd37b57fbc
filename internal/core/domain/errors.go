package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("stock not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidOperation    = errors.New("invalid operation")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrDuplicateKey        = errors.New("duplicate key")
)

var (
	ErrNegativeQuantity    = fmt.Errorf("%w: quantity cannot be negative", ErrInvalidOperation)
	ErrNonPositiveQuantity = fmt.Errorf("%w: quantity must be positive", ErrInvalidOperation)
	ErrInvalidSKU          = fmt.Errorf("%w: invalid sku", ErrInvalidOperation)
	ErrInvalidUnit         = fmt.Errorf("%w: invalid unit of measure", ErrInvalidOperation)
)

// ErrNegativeResult is returned by Quantity.Subtract. Aggregate operations
// check capacity first and surface ErrInsufficientStock instead.
var ErrNegativeResult = fmt.Errorf("%w: subtraction result would be negative", ErrInsufficientStock)

func insufficient(detail, balance string, have, want Quantity) error {
	return fmt.Errorf("%w%s. %s: %s, Requested: %s", ErrInsufficientStock, detail, balance, have, want)
}
