package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatCoins renders a base-unit amount as whole coins.
func FormatCoins(units uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -9).String()
}

// FormatSignedCoins renders a signed base-unit amount as whole coins.
func FormatSignedCoins(units int64) string {
	return decimal.New(units, -9).String()
}

// FormatPrice renders a fixed-point price.
func FormatPrice(price uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(price), -6).String()
}

// ParseCoins converts a decimal coin amount such as "1.25" to base units.
// Amounts finer than one base unit, negative or beyond uint64 are rejected.
func ParseCoins(s string) (uint64, error) {
	return parseScaled(s, 9, ErrInvalidAmount)
}

// ParsePrice converts a decimal price such as "0.42" to its fixed-point form.
func ParsePrice(s string) (uint64, error) {
	return parseScaled(s, 6, ErrInvalidPrice)
}

func parseScaled(s string, exp int32, kind error) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", kind, s)
	}
	scaled := d.Shift(exp)
	if scaled.IsNegative() || !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q", kind, s)
	}
	n := scaled.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: %q: %w", kind, s, ErrMathOverflow)
	}
	return n.Uint64(), nil
}
