package domain

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// QuantityScale is the number of fractional digits every Quantity carries.
const QuantityScale = 4

// Quantity is a non-negative decimal amount of stock. The zero value is a
// valid zero quantity. Arithmetic never mutates the receiver.
type Quantity struct {
	value decimal.Decimal
}

func normalize(d decimal.Decimal) (Quantity, error) {
	if d.Sign() < 0 {
		return Quantity{}, fmt.Errorf("%w: %s", ErrNegativeQuantity, d.String())
	}
	return Quantity{value: d.Round(QuantityScale)}, nil
}

// NewQuantity rounds d half-up to four digits. Negative values are rejected
// before rounding, so -0.00001 fails instead of collapsing to zero.
func NewQuantity(d decimal.Decimal) (Quantity, error) {
	return normalize(d)
}

// QuantityOf parses a plain decimal string such as "12.5".
func QuantityOf(s string) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, fmt.Errorf("%w: malformed quantity %q", ErrInvalidOperation, s)
	}
	return normalize(d)
}

func QuantityOfInt(n int64) (Quantity, error) {
	return normalize(decimal.NewFromInt(n))
}

// MustQuantity is QuantityOf for literals known to be valid.
func MustQuantity(s string) Quantity {
	q, err := QuantityOf(s)
	if err != nil {
		panic(err)
	}
	return q
}

func ZeroQuantity() Quantity {
	return Quantity{value: decimal.Zero}
}

func (q Quantity) Decimal() decimal.Decimal { return q.value }

func (q Quantity) Add(other Quantity) Quantity {
	return Quantity{value: q.value.Add(other.value).Round(QuantityScale)}
}

func (q Quantity) Subtract(other Quantity) (Quantity, error) {
	result := q.value.Sub(other.value)
	if result.Sign() < 0 {
		return Quantity{}, fmt.Errorf("%w: %s - %s", ErrNegativeResult, q, other)
	}
	return Quantity{value: result.Round(QuantityScale)}, nil
}

func (q Quantity) Multiply(factor decimal.Decimal) (Quantity, error) {
	return normalize(q.value.Mul(factor))
}

func (q Quantity) IsZero() bool { return q.value.IsZero() }
func (q Quantity) IsPositive() bool { return q.value.IsPositive() }

func (q Quantity) IsGreaterThan(other Quantity) bool {
	return q.value.GreaterThan(other.value)
}

func (q Quantity) IsGreaterThanOrEqual(other Quantity) bool {
	return q.value.GreaterThanOrEqual(other.value)
}

func (q Quantity) Cmp(other Quantity) int { return q.value.Cmp(other.value) }
func (q Quantity) Equal(other Quantity) bool { return q.value.Equal(other.value) }

func (q Quantity) String() string {
	return q.value.StringFixed(QuantityScale)
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + q.String() + `"`), nil
}

func (q *Quantity) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	parsed, err := normalize(d)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

func (q Quantity) Value() (driver.Value, error) {
	return q.String(), nil
}

func (q *Quantity) Scan(src interface{}) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return err
	}
	parsed, err := normalize(d)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}
