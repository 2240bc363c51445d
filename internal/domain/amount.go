package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of smallest units in one whole unit.
const EtherDecimals = 18

// MaxAmountDigits bounds amounts to what the NUMERIC(78,0) columns hold,
// which covers every uint256 value.
const MaxAmountDigits = 78

var ErrInvalidAmount = errors.New("amount must be a non-negative integer in the smallest unit")

// ValidateAmount rejects negative, fractional and oversized amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() || !amount.Equal(amount.Truncate(0)) {
		return ErrInvalidAmount
	}
	if len(amount.BigInt().String()) > MaxAmountDigits {
		return ErrInvalidAmount
	}
	return nil
}

// ParseAmount parses a decimal string of smallest units.
func ParseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// FormatUnits renders amount in whole units, e.g. 10000000000000000 with 18
// decimals is "0.01".
func FormatUnits(amount decimal.Decimal, decimals int32) string {
	return amount.Shift(-decimals).String()
}

// ParseUnits is the inverse of FormatUnits. The result must be integral.
func ParseUnits(s string, decimals int32) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	amount := v.Shift(decimals)
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}
