package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is a fixed-point money amount in hundredths of the currency unit.
// All prices and bid amounts are stored and compared as Cents; decimal
// conversion happens only at the API boundary.
type Cents int64

// Decimal returns the amount as a decimal value (e.g. 15000 -> 150.00).
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String formats the amount with exactly two fractional digits.
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// MarshalJSON emits the amount as a plain JSON number with two fractional
// digits, matching what bidding clients display.
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.Decimal().StringFixed(2)), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (c *Cents) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	v, err := CentsFromDecimal(d)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// CentsFromDecimal converts a decimal amount to Cents. Amounts with more than
// two fractional digits are rejected rather than silently rounded.
func CentsFromDecimal(d decimal.Decimal) (Cents, error) {
	shifted := d.Shift(2)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: amount %s has more than two decimal places", ErrInvalidInput, d)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: amount %s out of range", ErrInvalidInput, d)
	}
	return Cents(shifted.IntPart()), nil
}

// ParseCents converts a decimal string (e.g. "150" or "150.50") to Cents.
func ParseCents(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid amount %q", ErrInvalidInput, s)
	}
	return CentsFromDecimal(d)
}
