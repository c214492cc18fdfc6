// Package guard holds the authorization and bound checks every ledger
// mutation runs before touching state. Checks are pure: they read the values
// they were built from and return the matching domain error.
package guard

import (
	"fmt"

	"github.com/alanyoungcy/botledger/internal/domain"
)

// Check is a single deferred validation.
type Check func() error

// All runs checks in order and returns the first failure unchanged.
func All(checks ...Check) error {
	for _, c := range checks {
		if err := c(); err != nil {
			return err
		}
	}
	return nil
}

// NotPaused fails with ErrSystemPaused while the kill switch is set.
func NotPaused(cfg domain.GlobalConfig) Check {
	return func() error {
		if cfg.IsPaused {
			return domain.ErrSystemPaused
		}
		return nil
	}
}

// Signer requires caller to be exactly expected.
func Signer(expected, caller domain.Identity) Check {
	return func() error {
		if domain.IsZeroIdentity(caller) || caller != expected {
			return fmt.Errorf("%w: signer %s", domain.ErrUnauthorized, caller.Hex())
		}
		return nil
	}
}

// OneOf requires caller to be one of allowed.
func OneOf(caller domain.Identity, allowed ...domain.Identity) Check {
	return func() error {
		if domain.IsZeroIdentity(caller) {
			return domain.ErrUnauthorized
		}
		for _, a := range allowed {
			if caller == a {
				return nil
			}
		}
		return fmt.Errorf("%w: signer %s", domain.ErrUnauthorized, caller.Hex())
	}
}

// ValidIdentity rejects the zero address.
func ValidIdentity(id domain.Identity) Check {
	return func() error {
		if domain.IsZeroIdentity(id) {
			return fmt.Errorf("%w: zero address", domain.ErrInvalidIdentity)
		}
		return nil
	}
}

// Active requires an active grant.
func Active(d domain.Delegation) Check {
	return func() error {
		if !d.IsActive {
			return domain.ErrDelegationNotActive
		}
		return nil
	}
}

// CapacityAvailable requires a free concurrency slot.
func CapacityAvailable(d domain.Delegation) Check {
	return func() error {
		if d.ActiveTrades >= d.MaxConcurrentTrades {
			return fmt.Errorf("%w: %d/%d", domain.ErrMaxTradesReached, d.ActiveTrades, d.MaxConcurrentTrades)
		}
		return nil
	}
}

// PositionSize requires 0 < amount <= max.
func PositionSize(amount, max uint64) Check {
	return func() error {
		if amount == 0 {
			return domain.ErrInvalidAmount
		}
		if amount > max {
			return fmt.Errorf("%w: %d > %d", domain.ErrPositionTooLarge, amount, max)
		}
		return nil
	}
}

// GrantSize bounds a grant's per-position cap to (0, MaxPositionCeiling].
func GrantSize(maxPositionSize uint64) Check {
	return PositionSize(maxPositionSize, domain.MaxPositionCeiling)
}

// ConcurrencyLimit requires n in [1, MaxConcurrentTradesLimit].
func ConcurrencyLimit(n uint8) Check {
	return func() error {
		if n == 0 || n > domain.MaxConcurrentTradesLimit {
			return fmt.Errorf("%w: max concurrent trades %d", domain.ErrInvalidAmount, n)
		}
		return nil
	}
}

// Strategy requires a recognized strategy value.
func Strategy(s domain.Strategy) Check {
	return func() error {
		if !s.Valid() {
			return fmt.Errorf("%w: %d", domain.ErrInvalidStrategy, s)
		}
		return nil
	}
}

// Prices requires entry > 0, takeProfit > entry and 0 < stopLoss < entry.
func Prices(entry, takeProfit, stopLoss uint64) Check {
	return func() error {
		switch {
		case entry == 0:
			return fmt.Errorf("%w: entry price must be positive", domain.ErrInvalidPrice)
		case takeProfit <= entry:
			return fmt.Errorf("%w: take profit must exceed entry", domain.ErrInvalidPrice)
		case stopLoss == 0 || stopLoss >= entry:
			return fmt.Errorf("%w: stop loss must be below entry", domain.ErrInvalidPrice)
		}
		return nil
	}
}

// PositionOpen requires an open position.
func PositionOpen(p domain.Position) Check {
	return func() error {
		if p.Status != domain.PositionStatusOpen {
			return fmt.Errorf("%w: status %s", domain.ErrPositionNotOpen, p.Status)
		}
		return nil
	}
}

// PositionTerminal requires a closed or liquidated position.
func PositionTerminal(p domain.Position) Check {
	return func() error {
		if !p.Status.Terminal() {
			return domain.ErrPositionStillOpen
		}
		return nil
	}
}

// SameDelegation requires p to belong to d.
func SameDelegation(p domain.Position, d domain.Delegation) Check {
	return func() error {
		if p.Delegation != d.ID || p.User != d.User {
			return domain.ErrInvalidPosition
		}
		return nil
	}
}

// NoActiveTrades requires a grant with no open positions.
func NoActiveTrades(d domain.Delegation) Check {
	return func() error {
		if d.ActiveTrades != 0 {
			return fmt.Errorf("%w: %d open", domain.ErrHasActiveTrades, d.ActiveTrades)
		}
		return nil
	}
}

// NotBelowActive requires a new concurrency limit of at least the number of
// currently open positions.
func NotBelowActive(d domain.Delegation, n uint8) Check {
	return func() error {
		if n < d.ActiveTrades {
			return fmt.Errorf("%w: %d < %d", domain.ErrCannotReduceBelowActive, n, d.ActiveTrades)
		}
		return nil
	}
}
