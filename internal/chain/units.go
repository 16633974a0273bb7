package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount    = errors.New("amount must be a positive integer no larger than 2^256-1")
	ErrAmountTooPrecise = errors.New("amount has more fractional digits than the token supports")
)

// FormatUnits renders a base-unit integer as a decimal token amount.
func FormatUnits(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// ParseUnits converts a human token amount such as "1.5" to base units.
func ParseUnits(raw string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, ErrAmountTooPrecise
	}
	v := scaled.BigInt()
	if !validAmount(v) {
		return nil, ErrInvalidAmount
	}
	return v, nil
}

// ParseBaseUnits accepts only a positive decimal integer in base units.
func ParseBaseUnits(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "+") {
		return nil, ErrInvalidAmount
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || !validAmount(v) {
		return nil, ErrInvalidAmount
	}
	return v, nil
}

// validAmount bounds v to (0, 2^256). The ABI encoder truncates larger values
// silently.
func validAmount(v *big.Int) bool {
	return v.Sign() > 0 && v.BitLen() <= 256
}
