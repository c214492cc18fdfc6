package evm

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRPC struct {
	wei *big.Int
	err error
}

func (s stubRPC) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return s.wei, s.err
}

func TestWeiToBaseUnits(t *testing.T) {
	oneCoin, _ := new(big.Int).SetString("1000000000000000000", 10)
	huge := new(big.Int).Lsh(big.NewInt(1), 200)

	cases := []struct {
		name string
		wei  *big.Int
		want uint64
	}{
		{"nil", nil, 0},
		{"negative", big.NewInt(-5), 0},
		{"dust rounds down", big.NewInt(999_999_999), 0},
		{"one coin", oneCoin, 1_000_000_000},
		{"saturates", huge, math.MaxUint64},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, weiToBaseUnits(tc.wei))
		})
	}
}

func TestBalanceSource(t *testing.T) {
	user := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	b := &BalanceSource{rpc: stubRPC{wei: big.NewInt(5_000_000_000)}}
	got, err := b.Balance(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got)

	b = &BalanceSource{rpc: stubRPC{err: errors.New("node down")}}
	_, err = b.Balance(context.Background(), user)
	assert.ErrorContains(t, err, "node down")
	b.Close()
}
