package domain

import (
	"fmt"
	"time"
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
	// PositionStatusLiquidated is terminal. No ledger operation produces it.
	PositionStatusLiquidated PositionStatus = "liquidated"
)

// Terminal reports whether no further transitions are allowed.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusClosed || s == PositionStatusLiquidated
}

// PositionKey identifies a position within its delegation.
type PositionKey struct {
	Delegation string `json:"delegation"`
	Seq        uint64 `json:"seq"`
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s:%d", k.Delegation, k.Seq)
}

// Position records one authorized trade. Once the status leaves open, the
// record is immutable.
type Position struct {
	Delegation      string         `json:"delegation"`
	Seq             uint64         `json:"seq"`
	User            Identity       `json:"user"`
	TokenID         string         `json:"token_id"`
	Amount          uint64         `json:"amount"`
	EntryPrice      uint64         `json:"entry_price"`
	CurrentPrice    uint64         `json:"current_price"`
	TakeProfitPrice uint64         `json:"take_profit_price"`
	StopLossPrice   uint64         `json:"stop_loss_price"`
	Status          PositionStatus `json:"status"`
	OpenedAt        time.Time      `json:"opened_at"`
	ClosedAt        *time.Time     `json:"closed_at,omitempty"`
	PnL             int64          `json:"pnl"`
	Version         int64          `json:"version"`
}

// Key returns the position's composite key.
func (p Position) Key() PositionKey {
	return PositionKey{Delegation: p.Delegation, Seq: p.Seq}
}
