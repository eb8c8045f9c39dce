package domain

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned for amounts that are malformed, carry
// sub-cent precision, or are not strictly positive.
var ErrInvalidAmount = errors.New("invalid amount")

// Cents is a fixed-point monetary amount. Balances are whole cents so
// arithmetic never loses value to floating-point drift.
type Cents int64

// ParseCents parses a decimal string such as "2500.00" into cents.
// The amount must be strictly positive and have at most two fractional
// digits.
func ParseCents(s string) (Cents, error) {
	c, err := parseFixed(s)
	if err != nil {
		return 0, err
	}
	if c <= 0 {
		return 0, ErrInvalidAmount
	}
	return c, nil
}

// ParseBalance parses a decimal string into cents, allowing zero.
// Used for opening balances; transfer amounts go through ParseCents.
func ParseBalance(s string) (Cents, error) {
	c, err := parseFixed(s)
	if err != nil {
		return 0, err
	}
	if c < 0 {
		return 0, ErrInvalidAmount
	}
	return c, nil
}

func parseFixed(s string) (Cents, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, ErrInvalidAmount
	}

	shifted := d.Shift(2)
	if !shifted.IsInteger() {
		return 0, ErrInvalidAmount
	}
	if !shifted.BigInt().IsInt64() {
		return 0, ErrInvalidAmount
	}

	return Cents(shifted.IntPart()), nil
}

// String renders the amount as a decimal string with two fractional
// digits, e.g. 1000 -> "10.00".
func (c Cents) String() string {
	return decimal.New(int64(c), -2).StringFixed(2)
}
