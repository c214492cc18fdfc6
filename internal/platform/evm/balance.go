// Package evm reads user balances from an EVM JSON-RPC node for the
// insufficient-funds check on position opens.
package evm

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/botledger/internal/domain"
)

// weiPerBaseUnit converts 18-decimal native balances to 9-decimal base units.
var weiPerBaseUnit = big.NewInt(1_000_000_000)

type balanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// BalanceSource implements domain.BalanceSource over a node's native balance.
type BalanceSource struct {
	rpc    balanceReader
	closer func()
}

var _ domain.BalanceSource = (*BalanceSource)(nil)

// Dial connects to the node at rpcURL.
func Dial(ctx context.Context, rpcURL string) (*BalanceSource, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}
	return &BalanceSource{rpc: c, closer: c.Close}, nil
}

// Balance returns the user's latest native balance in base units, rounded
// down. Balances beyond the uint64 range saturate.
func (b *BalanceSource) Balance(ctx context.Context, user domain.Identity) (uint64, error) {
	wei, err := b.rpc.BalanceAt(ctx, user, nil)
	if err != nil {
		return 0, fmt.Errorf("evm: balance of %s: %w", user.Hex(), err)
	}
	return weiToBaseUnits(wei), nil
}

// Close releases the RPC connection.
func (b *BalanceSource) Close() {
	if b.closer != nil {
		b.closer()
	}
}

func weiToBaseUnits(wei *big.Int) uint64 {
	if wei == nil || wei.Sign() <= 0 {
		return 0
	}
	units := new(big.Int).Quo(wei, weiPerBaseUnit)
	if !units.IsUint64() {
		return math.MaxUint64
	}
	return units.Uint64()
}
