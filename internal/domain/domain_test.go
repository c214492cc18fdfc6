package domain

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckedPnL(t *testing.T) {
	tests := []struct {
		name               string
		received, invested uint64
		want               int64
		wantErr            bool
	}{
		{"break even", 100, 100, 0, false},
		{"profit", 150, 100, 50, false},
		{"loss", 40, 100, -60, false},
		{"max profit", math.MaxInt64, 0, math.MaxInt64, false},
		{"profit overflow", math.MaxUint64, 0, 0, true},
		{"min loss", 0, uint64(math.MaxInt64) + 1, math.MinInt64, false},
		{"loss overflow", 0, math.MaxUint64, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CheckedPnL(tt.received, tt.invested)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMathOverflow)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckedAdd(t *testing.T) {
	_, err := CheckedAddU64(math.MaxUint64, 1)
	assert.ErrorIs(t, err, ErrMathOverflow)

	_, err = CheckedAddI64(math.MaxInt64, 1)
	assert.ErrorIs(t, err, ErrMathOverflow)
	_, err = CheckedAddI64(math.MinInt64, -1)
	assert.ErrorIs(t, err, ErrMathOverflow)

	v, err := CheckedAddI64(-5, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), v)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "MaxTradesReached", ErrorCode(fmt.Errorf("service: open: %w", ErrMaxTradesReached)))
	assert.Equal(t, "NotFound", ErrorCode(ErrNotFound))
	assert.Equal(t, "Internal", ErrorCode(fmt.Errorf("boom")))
	assert.Equal(t, ErrLockHeld, ErrorForCode("LockHeld"))
	assert.Nil(t, ErrorForCode("Internal"))
}

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity("0x00000000000000000000000000000000000000a1")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xa1"), id)

	_, err = ParseIdentity("0x0000000000000000000000000000000000000000")
	assert.ErrorIs(t, err, ErrInvalidIdentity)
	_, err = ParseIdentity("not-an-address")
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestNewDelegationIDUniquePerIncarnation(t *testing.T) {
	user := common.HexToAddress("0xa1")
	t0 := time.Unix(1700000000, 0)
	a := NewDelegationID(user, t0)
	b := NewDelegationID(user, t0.Add(time.Nanosecond))
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, NewDelegationID(user, t0))
}

func TestStrategyNames(t *testing.T) {
	assert.Equal(t, "Conservative", StrategyConservative.String())
	assert.Equal(t, "Graduation Anticipator", StrategyGraduationAnticipator.String())
	assert.Equal(t, "Unknown", Strategy(9).String())
}

func TestFormatCoins(t *testing.T) {
	assert.Equal(t, "1.5", FormatCoins(1_500_000_000))
	assert.Equal(t, "-0.25", FormatSignedCoins(-250_000_000))
	assert.Equal(t, "0.000123", FormatPrice(123))
}

func TestParseCoins(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
		err  error
	}{
		{"1.5", 1_500_000_000, nil},
		{" 0.000000001 ", 1, nil},
		{"100", 100 * BaseUnitsPerCoin, nil},
		{"0.0000000001", 0, ErrInvalidAmount},
		{"-1", 0, ErrInvalidAmount},
		{"abc", 0, ErrInvalidAmount},
		{"18446744074", 0, ErrMathOverflow},
	}
	for _, tt := range tests {
		got, err := ParseCoins(tt.in)
		if tt.err != nil {
			assert.ErrorIs(t, err, tt.err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	p, err := ParsePrice("0.42")
	assert.NoError(t, err)
	assert.Equal(t, uint64(420_000), p)
	_, err = ParsePrice("0.0000001")
	assert.ErrorIs(t, err, ErrInvalidPrice)
}
