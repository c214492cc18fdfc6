package domain

import (
	"math"
	"math/bits"
)

// CheckedAddU64 returns a+b or ErrMathOverflow.
func CheckedAddU64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrMathOverflow
	}
	return sum, nil
}

// CheckedAddI64 returns a+b or ErrMathOverflow.
func CheckedAddI64(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrMathOverflow
	}
	return a + b, nil
}

// CheckedPnL returns received-invested as a signed amount or ErrMathOverflow
// when the difference does not fit in an int64.
func CheckedPnL(received, invested uint64) (int64, error) {
	if received >= invested {
		d := received - invested
		if d > math.MaxInt64 {
			return 0, ErrMathOverflow
		}
		return int64(d), nil
	}
	d := invested - received
	if d > uint64(math.MaxInt64)+1 {
		return 0, ErrMathOverflow
	}
	if d == uint64(math.MaxInt64)+1 {
		return math.MinInt64, nil
	}
	return -int64(d), nil
}
