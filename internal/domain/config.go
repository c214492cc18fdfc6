package domain

import "time"

const (
	// BaseUnitsPerCoin is the number of base units in one coin of the
	// settlement currency (lamport-equivalent).
	BaseUnitsPerCoin uint64 = 1_000_000_000

	// MaxPositionCeiling caps the per-position size any grant may allow.
	MaxPositionCeiling = 100 * BaseUnitsPerCoin

	// MaxConcurrentTradesLimit is the upper bound of a grant's concurrency.
	MaxConcurrentTradesLimit uint8 = 10

	// PriceScale is the fixed-point scale of every price field.
	PriceScale uint64 = 1_000_000
)

// GlobalConfig is the process-wide singleton consulted by every mutating
// ledger operation.
type GlobalConfig struct {
	ProtocolAuthority  Identity  `json:"protocol_authority"`
	EmergencyAuthority Identity  `json:"emergency_authority"`
	IsPaused           bool      `json:"is_paused"`
	TotalDelegations   uint64    `json:"total_delegations"`
	TotalPositions     uint64    `json:"total_positions"`
	InitializedAt      time.Time `json:"initialized_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// CanPause reports whether caller may toggle the pause flag.
func (c GlobalConfig) CanPause(caller Identity) bool {
	return caller == c.ProtocolAuthority || caller == c.EmergencyAuthority
}
