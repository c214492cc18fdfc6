package domain

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// Strategy selects the bot's trading style. The ledger only stores it.
type Strategy uint8

const (
	StrategyConservative Strategy = iota
	StrategyUltraEarlySniper
	StrategyMomentumScalper
	StrategyGraduationAnticipator
)

// MaxStrategy is the highest recognized strategy value.
const MaxStrategy = StrategyGraduationAnticipator

var strategyNames = [...]string{
	"Conservative",
	"Ultra-Early Sniper",
	"Momentum Scalper",
	"Graduation Anticipator",
}

// Valid reports whether s is a recognized strategy.
func (s Strategy) Valid() bool { return s <= MaxStrategy }

func (s Strategy) String() string {
	if !s.Valid() {
		return "Unknown"
	}
	return strategyNames[s]
}

// Delegation is a user's grant of bounded trading authority to a bot.
type Delegation struct {
	ID                  string    `json:"id"`
	User                Identity  `json:"user"`
	BotAuthority        Identity  `json:"bot_authority"`
	Strategy            Strategy  `json:"strategy"`
	MaxPositionSize     uint64    `json:"max_position_size"`
	MaxConcurrentTrades uint8     `json:"max_concurrent_trades"`
	IsActive            bool      `json:"is_active"`
	ActiveTrades        uint8     `json:"active_trades"`
	TotalTrades         uint64    `json:"total_trades"`
	ProfitableTrades    uint64    `json:"profitable_trades"`
	TotalPnL            int64     `json:"total_pnl"`
	TotalVolume         uint64    `json:"total_volume"`
	PositionSeq         uint64    `json:"position_seq"`
	CreatedAt           time.Time `json:"created_at"`
	LastTradeAt         time.Time `json:"last_trade_at"`
	Version             int64     `json:"version"`
}

// NewDelegationID derives a grant ID that is unique per user and creation
// instant, so a re-created grant never shares position keys with a closed one.
func NewDelegationID(user Identity, createdAt time.Time) string {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(createdAt.UnixNano()))
	h := crypto.Keccak256([]byte("delegation"), user.Bytes(), ts[:])
	return hex.EncodeToString(h)
}

// DelegationStats is the read-only performance summary of a grant.
type DelegationStats struct {
	User             Identity `json:"user"`
	Strategy         Strategy `json:"strategy"`
	StrategyName     string   `json:"strategy_name"`
	IsActive         bool     `json:"is_active"`
	ActiveTrades     uint8    `json:"active_trades"`
	TotalTrades      uint64   `json:"total_trades"`
	ProfitableTrades uint64   `json:"profitable_trades"`
	WinRateBps       uint64   `json:"win_rate_bps"`
	TotalPnL         int64    `json:"total_pnl"`
	TotalVolume      uint64   `json:"total_volume"`
	TotalPnLCoins    string   `json:"total_pnl_coins"`
	TotalVolumeCoins string   `json:"total_volume_coins"`
}
