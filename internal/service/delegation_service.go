package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/botledger/internal/domain"
	"github.com/alanyoungcy/botledger/internal/guard"
)

// CreateDelegationRequest carries the terms of a new grant.
type CreateDelegationRequest struct {
	User                domain.Identity
	Caller              domain.Identity
	BotAuthority        domain.Identity
	Strategy            domain.Strategy
	MaxPositionSize     uint64
	MaxConcurrentTrades uint8
}

// UpdateDelegationRequest changes the non-nil fields of a grant.
type UpdateDelegationRequest struct {
	User                domain.Identity
	Caller              domain.Identity
	Strategy            *domain.Strategy
	MaxPositionSize     *uint64
	MaxConcurrentTrades *uint8
	IsActive            *bool
}

// DelegationService manages the lifecycle of user grants. Every mutation of
// a grant runs under the grant's entity lock.
type DelegationService struct {
	config      *ConfigService
	delegations domain.DelegationStore
	locks       domain.LockManager
	lockTTL     time.Duration
	sink        domain.EventSink
	logger      *slog.Logger
	now         func() time.Time
}

// NewDelegationService creates a DelegationService.
func NewDelegationService(
	config *ConfigService,
	delegations domain.DelegationStore,
	locks domain.LockManager,
	lockTTL time.Duration,
	sink domain.EventSink,
	logger *slog.Logger,
) *DelegationService {
	return &DelegationService{
		config:      config,
		delegations: delegations,
		locks:       locks,
		lockTTL:     lockTTL,
		sink:        sink,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *DelegationService) lock(ctx context.Context, user domain.Identity) (func(), error) {
	return s.locks.Acquire(ctx, domain.DelegationLockKey(user), s.lockTTL)
}

// Create registers a new active grant for req.User.
func (s *DelegationService) Create(ctx context.Context, req CreateDelegationRequest) (domain.Delegation, error) {
	unlock, err := s.lock(ctx, req.User)
	if err != nil {
		return domain.Delegation{}, fmt.Errorf("delegation_service: create: %w", err)
	}
	defer unlock()

	cfg, err := s.config.Get(ctx)
	if err != nil {
		return domain.Delegation{}, fmt.Errorf("delegation_service: create: %w", err)
	}
	if err := guard.All(
		guard.NotPaused(cfg),
		guard.ValidIdentity(req.User),
		guard.Signer(req.User, req.Caller),
		guard.ValidIdentity(req.BotAuthority),
		guard.GrantSize(req.MaxPositionSize),
		guard.ConcurrencyLimit(req.MaxConcurrentTrades),
		guard.Strategy(req.Strategy),
	); err != nil {
		return domain.Delegation{}, fmt.Errorf("delegation_service: create: %w", err)
	}

	// One grant per user, active or not.
	if _, err := s.delegations.Get(ctx, req.User); err == nil {
		return domain.Delegation{}, fmt.Errorf("delegation_service: create: %w", domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Delegation{}, fmt.Errorf("delegation_service: create: %w", err)
	}

	now := s.now()
	d, err := s.delegations.Create(ctx, domain.Delegation{
		ID:                  domain.NewDelegationID(req.User, now),
		User:                req.User,
		BotAuthority:        req.BotAuthority,
		Strategy:            req.Strategy,
		MaxPositionSize:     req.MaxPositionSize,
		MaxConcurrentTrades: req.MaxConcurrentTrades,
		IsActive:            true,
		CreatedAt:           now,
	})
	if err != nil {
		return domain.Delegation{}, fmt.Errorf("delegation_service: create: %w", err)
	}

	emitEvent(ctx, s.sink, s.logger, domain.Event{
		Name:       domain.EventDelegationCreated,
		Actor:      req.Caller,
		User:       userRef(d.User),
		Delegation: d.ID,
		Fields: map[string]any{
			"bot_authority":         d.BotAuthority.Hex(),
			"strategy":              uint8(d.Strategy),
			"max_position_size":     d.MaxPositionSize,
			"max_concurrent_trades": d.MaxConcurrentTrades,
		},
		At: now,
	})
	s.logger.InfoContext(ctx, "delegation_service: delegation created",
		slog.String("user", d.User.Hex()),
		slog.String("delegation", d.ID),
		slog.String("bot_authority", d.BotAuthority.Hex()),
	)
	return d, nil
}

// Update applies the non-nil fields of req with the same bounds as Create.
// The concurrency limit may not drop below the number of open positions.
func (s *DelegationService) Update(ctx context.Context, req UpdateDelegationRequest) (domain.Delegation, error) {
	unlock, err := s.lock(ctx, req.User)
	if err != nil {
		return domain.Delegation{}, fmt.Errorf("delegation_service: update: %w", err)
	}
	defer unlock()

	cfg, err := s.config.Get(ctx)
	if err != nil {
		return domain.Delegation{}, fmt.Errorf("delegation_service: update: %w", err)
	}
	if err := guard.NotPaused(cfg)(); err != nil {
		return domain.Delegation{}, fmt.Errorf("delegation_service: update: %w", err)
	}
	d, err := s.delegations.Get(ctx, req.User)
	if err != nil {
		return domain.Delegation{}, fmt.Errorf("delegation_service: update: %w", err)
	}

	checks := []guard.Check{guard.Signer(d.User, req.Caller)}
	if req.Strategy != nil {
		checks = append(checks, guard.Strategy(*req.Strategy))
	}
	if req.MaxPositionSize != nil {
		checks = append(checks, guard.GrantSize(*req.MaxPositionSize))
	}
	if req.MaxConcurrentTrades != nil {
		checks = append(checks,
			guard.ConcurrencyLimit(*req.MaxConcurrentTrades),
			guard.NotBelowActive(d, *req.MaxConcurrentTrades),
		)
	}
	if err := guard.All(checks...); err != nil {
		return domain.Delegation{}, fmt.Errorf("delegation_service: update: %w", err)
	}

	changed := map[string]any{}
	if req.Strategy != nil {
		d.Strategy = *req.Strategy
		changed["strategy"] = uint8(d.Strategy)
	}
	if req.MaxPositionSize != nil {
		d.MaxPositionSize = *req.MaxPositionSize
		changed["max_position_size"] = d.MaxPositionSize
	}
	if req.MaxConcurrentTrades != nil {
		d.MaxConcurrentTrades = *req.MaxConcurrentTrades
		changed["max_concurrent_trades"] = d.MaxConcurrentTrades
	}
	if req.IsActive != nil {
		d.IsActive = *req.IsActive
		changed["is_active"] = d.IsActive
	}

	d, err = s.delegations.Update(ctx, d)
	if err != nil {
		return domain.Delegation{}, fmt.Errorf("delegation_service: update: %w", err)
	}

	emitEvent(ctx, s.sink, s.logger, domain.Event{
		Name:       domain.EventDelegationUpdated,
		Actor:      req.Caller,
		User:       userRef(d.User),
		Delegation: d.ID,
		Fields:     changed,
		At:         s.now(),
	})
	return d, nil
}

// Revoke deactivates the grant. Open positions are untouched. Revoking an
// inactive grant is a no-op that reports changed=false.
//
// Revoke is the one mutating operation that does not require the ledger to
// be unpaused: a user can always cut off their bot, including during an
// incident pause. Revocation only ever reduces authority.
func (s *DelegationService) Revoke(ctx context.Context, user, caller domain.Identity) (bool, error) {
	unlock, err := s.lock(ctx, user)
	if err != nil {
		return false, fmt.Errorf("delegation_service: revoke: %w", err)
	}
	defer unlock()

	d, err := s.delegations.Get(ctx, user)
	if err != nil {
		return false, fmt.Errorf("delegation_service: revoke: %w", err)
	}
	if err := guard.Signer(d.User, caller)(); err != nil {
		return false, fmt.Errorf("delegation_service: revoke: %w", err)
	}
	if !d.IsActive {
		return false, nil
	}

	d.IsActive = false
	d, err = s.delegations.Update(ctx, d)
	if err != nil {
		return false, fmt.Errorf("delegation_service: revoke: %w", err)
	}

	emitEvent(ctx, s.sink, s.logger, domain.Event{
		Name:       domain.EventDelegationRevoked,
		Actor:      caller,
		User:       userRef(d.User),
		Delegation: d.ID,
		Fields:     map[string]any{"active_trades": d.ActiveTrades},
		At:         s.now(),
	})
	s.logger.InfoContext(ctx, "delegation_service: delegation revoked",
		slog.String("user", d.User.Hex()),
		slog.Int("active_trades", int(d.ActiveTrades)),
	)
	return true, nil
}

// RotateBotAuthority swaps the bot identity of an idle grant.
func (s *DelegationService) RotateBotAuthority(ctx context.Context, user, caller, newAuthority domain.Identity) (domain.Identity, domain.Identity, error) {
	unlock, err := s.lock(ctx, user)
	if err != nil {
		return domain.Identity{}, domain.Identity{}, fmt.Errorf("delegation_service: rotate: %w", err)
	}
	defer unlock()

	cfg, err := s.config.Get(ctx)
	if err != nil {
		return domain.Identity{}, domain.Identity{}, fmt.Errorf("delegation_service: rotate: %w", err)
	}
	if err := guard.NotPaused(cfg)(); err != nil {
		return domain.Identity{}, domain.Identity{}, fmt.Errorf("delegation_service: rotate: %w", err)
	}
	d, err := s.delegations.Get(ctx, user)
	if err != nil {
		return domain.Identity{}, domain.Identity{}, fmt.Errorf("delegation_service: rotate: %w", err)
	}
	if err := guard.All(
		guard.Signer(d.User, caller),
		guard.ValidIdentity(newAuthority),
		guard.NoActiveTrades(d),
	); err != nil {
		return domain.Identity{}, domain.Identity{}, fmt.Errorf("delegation_service: rotate: %w", err)
	}

	old := d.BotAuthority
	d.BotAuthority = newAuthority
	d, err = s.delegations.Update(ctx, d)
	if err != nil {
		return domain.Identity{}, domain.Identity{}, fmt.Errorf("delegation_service: rotate: %w", err)
	}

	emitEvent(ctx, s.sink, s.logger, domain.Event{
		Name:       domain.EventBotAuthorityRotated,
		Actor:      caller,
		User:       userRef(d.User),
		Delegation: d.ID,
		Fields: map[string]any{
			"old_authority": old.Hex(),
			"new_authority": newAuthority.Hex(),
		},
		At: s.now(),
	})
	s.logger.InfoContext(ctx, "delegation_service: bot authority rotated",
		slog.String("user", d.User.Hex()),
		slog.String("old_authority", old.Hex()),
		slog.String("new_authority", newAuthority.Hex()),
	)
	return old, newAuthority, nil
}

// Close deletes an idle grant and returns its final state.
func (s *DelegationService) Close(ctx context.Context, user, caller domain.Identity) (domain.Delegation, error) {
	unlock, err := s.lock(ctx, user)
	if err != nil {
		return domain.Delegation{}, fmt.Errorf("delegation_service: close: %w", err)
	}
	defer unlock()

	cfg, err := s.config.Get(ctx)
	if err != nil {
		return domain.Delegation{}, fmt.Errorf("delegation_service: close: %w", err)
	}
	if err := guard.NotPaused(cfg)(); err != nil {
		return domain.Delegation{}, fmt.Errorf("delegation_service: close: %w", err)
	}
	d, err := s.delegations.Get(ctx, user)
	if err != nil {
		return domain.Delegation{}, fmt.Errorf("delegation_service: close: %w", err)
	}
	if err := guard.All(guard.Signer(d.User, caller), guard.NoActiveTrades(d)); err != nil {
		return domain.Delegation{}, fmt.Errorf("delegation_service: close: %w", err)
	}

	if err := s.delegations.Delete(ctx, user, d.Version); err != nil {
		return domain.Delegation{}, fmt.Errorf("delegation_service: close: %w", err)
	}

	emitEvent(ctx, s.sink, s.logger, domain.Event{
		Name:       domain.EventDelegationClosed,
		Actor:      caller,
		User:       userRef(d.User),
		Delegation: d.ID,
		Fields: map[string]any{
			"total_trades": d.TotalTrades,
			"total_pnl":    d.TotalPnL,
		},
		At: s.now(),
	})
	return d, nil
}

// Get returns the grant of user.
func (s *DelegationService) Get(ctx context.Context, user domain.Identity) (domain.Delegation, error) {
	d, err := s.delegations.Get(ctx, user)
	if err != nil {
		return domain.Delegation{}, fmt.Errorf("delegation_service: get %s: %w", user.Hex(), err)
	}
	return d, nil
}

// Stats summarizes the performance of user's grant.
func (s *DelegationService) Stats(ctx context.Context, user domain.Identity) (domain.DelegationStats, error) {
	d, err := s.Get(ctx, user)
	if err != nil {
		return domain.DelegationStats{}, err
	}

	var winRate uint64
	if d.TotalTrades > 0 {
		winRate = d.ProfitableTrades * 10_000 / d.TotalTrades
	}
	return domain.DelegationStats{
		User:             d.User,
		Strategy:         d.Strategy,
		StrategyName:     d.Strategy.String(),
		IsActive:         d.IsActive,
		ActiveTrades:     d.ActiveTrades,
		TotalTrades:      d.TotalTrades,
		ProfitableTrades: d.ProfitableTrades,
		WinRateBps:       winRate,
		TotalPnL:         d.TotalPnL,
		TotalVolume:      d.TotalVolume,
		TotalPnLCoins:    domain.FormatSignedCoins(d.TotalPnL),
		TotalVolumeCoins: domain.FormatCoins(d.TotalVolume),
	}, nil
}

// List returns grants ordered by creation time.
func (s *DelegationService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Delegation, error) {
	out, err := s.delegations.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("delegation_service: list: %w", err)
	}
	return out, nil
}
