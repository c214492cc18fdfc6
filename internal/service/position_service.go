package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/botledger/internal/domain"
	"github.com/alanyoungcy/botledger/internal/guard"
)

// OpenPositionRequest is a bot's request to record a new trade.
type OpenPositionRequest struct {
	User       domain.Identity
	Caller     domain.Identity
	TokenID    string
	Amount     uint64
	EntryPrice uint64
	TakeProfit uint64
	StopLoss   uint64
}

// ClosePositionRequest settles an open position with the execution result.
type ClosePositionRequest struct {
	User           domain.Identity
	Key            domain.PositionKey
	Caller         domain.Identity
	ExitPrice      uint64
	AmountReceived uint64
}

// PositionService records trades made under a grant. Open and close run
// under the grant's entity lock so concurrency limits and counters cannot
// be lost to a race.
type PositionService struct {
	config      *ConfigService
	delegations domain.DelegationStore
	positions   domain.PositionStore
	balances    domain.BalanceSource
	locks       domain.LockManager
	lockTTL     time.Duration
	sink        domain.EventSink
	logger      *slog.Logger
	now         func() time.Time
}

// NewPositionService creates a PositionService. balances may be nil, in
// which case no funds check is made on open.
func NewPositionService(
	config *ConfigService,
	delegations domain.DelegationStore,
	positions domain.PositionStore,
	balances domain.BalanceSource,
	locks domain.LockManager,
	lockTTL time.Duration,
	sink domain.EventSink,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		config:      config,
		delegations: delegations,
		positions:   positions,
		balances:    balances,
		locks:       locks,
		lockTTL:     lockTTL,
		sink:        sink,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Open records a new position for req.User's grant and returns it.
//
// Checks, in order: pause flag, grant exists, grant active, caller is the
// bot authority, free concurrency slot, amount bounds, price bounds, funds.
// The balance lookup happens before the lock is taken.
func (s *PositionService) Open(ctx context.Context, req OpenPositionRequest) (domain.Position, error) {
	var (
		balance    uint64
		hasBalance bool
	)
	if s.balances != nil {
		b, err := s.balances.Balance(ctx, req.User)
		if err != nil {
			return domain.Position{}, fmt.Errorf("position_service: open: balance lookup: %w", err)
		}
		balance, hasBalance = b, true
	}

	unlock, err := s.locks.Acquire(ctx, domain.DelegationLockKey(req.User), s.lockTTL)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: open: %w", err)
	}
	defer unlock()

	cfg, err := s.config.Get(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: open: %w", err)
	}
	if err := guard.NotPaused(cfg)(); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: open: %w", err)
	}
	d, err := s.delegations.Get(ctx, req.User)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: open: %w", err)
	}
	if err := guard.All(
		guard.Active(d),
		guard.Signer(d.BotAuthority, req.Caller),
		guard.CapacityAvailable(d),
		guard.PositionSize(req.Amount, d.MaxPositionSize),
		guard.Prices(req.EntryPrice, req.TakeProfit, req.StopLoss),
		sufficientFunds(hasBalance, balance, req.Amount),
	); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: open: %w", err)
	}

	now := s.now()
	seq := d.PositionSeq
	if d.PositionSeq, err = domain.CheckedAddU64(d.PositionSeq, 1); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: open: position seq: %w", err)
	}
	if d.TotalTrades, err = domain.CheckedAddU64(d.TotalTrades, 1); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: open: total trades: %w", err)
	}
	if d.TotalVolume, err = domain.CheckedAddU64(d.TotalVolume, req.Amount); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: open: total volume: %w", err)
	}
	d.ActiveTrades++
	d.LastTradeAt = now

	pos := domain.Position{
		Delegation:      d.ID,
		Seq:             seq,
		User:            d.User,
		TokenID:         req.TokenID,
		Amount:          req.Amount,
		EntryPrice:      req.EntryPrice,
		CurrentPrice:    req.EntryPrice,
		TakeProfitPrice: req.TakeProfit,
		StopLossPrice:   req.StopLoss,
		Status:          domain.PositionStatusOpen,
		OpenedAt:        now,
	}
	pos, d, err = s.positions.Open(ctx, pos, d)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: open: %w", err)
	}

	emitEvent(ctx, s.sink, s.logger, domain.Event{
		Name:        domain.EventPositionOpened,
		Actor:       req.Caller,
		User:        userRef(pos.User),
		Delegation:  pos.Delegation,
		PositionSeq: seqRef(pos.Seq),
		Fields: map[string]any{
			"token_id":      pos.TokenID,
			"amount":        pos.Amount,
			"entry_price":   pos.EntryPrice,
			"take_profit":   pos.TakeProfitPrice,
			"stop_loss":     pos.StopLossPrice,
			"active_trades": d.ActiveTrades,
		},
		At: now,
	})
	s.logger.InfoContext(ctx, "position_service: position opened",
		slog.String("user", pos.User.Hex()),
		slog.String("position", pos.Key().String()),
		slog.String("token_id", pos.TokenID),
		slog.Uint64("amount", pos.Amount),
		slog.Uint64("entry_price", pos.EntryPrice),
	)
	return pos, nil
}

func sufficientFunds(known bool, balance, amount uint64) guard.Check {
	return func() error {
		if known && balance < amount {
			return fmt.Errorf("%w: balance %d < %d", domain.ErrInsufficientFunds, balance, amount)
		}
		return nil
	}
}

// Close settles an open position and returns the realized pnl, computed as
// AmountReceived minus the invested amount.
func (s *PositionService) Close(ctx context.Context, req ClosePositionRequest) (int64, error) {
	unlock, err := s.locks.Acquire(ctx, domain.DelegationLockKey(req.User), s.lockTTL)
	if err != nil {
		return 0, fmt.Errorf("position_service: close: %w", err)
	}
	defer unlock()

	cfg, err := s.config.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("position_service: close: %w", err)
	}
	if err := guard.NotPaused(cfg)(); err != nil {
		return 0, fmt.Errorf("position_service: close: %w", err)
	}
	pos, err := s.positions.Get(ctx, req.Key)
	if err != nil {
		return 0, fmt.Errorf("position_service: close %s: %w", req.Key, err)
	}
	if err := guard.PositionOpen(pos)(); err != nil {
		return 0, fmt.Errorf("position_service: close %s: %w", req.Key, err)
	}
	d, err := s.delegations.Get(ctx, req.User)
	if err != nil {
		return 0, fmt.Errorf("position_service: close %s: %w", req.Key, err)
	}
	if err := guard.All(
		guard.SameDelegation(pos, d),
		guard.Signer(d.BotAuthority, req.Caller),
	); err != nil {
		return 0, fmt.Errorf("position_service: close %s: %w", req.Key, err)
	}

	pnl, err := domain.CheckedPnL(req.AmountReceived, pos.Amount)
	if err != nil {
		return 0, fmt.Errorf("position_service: close %s: pnl: %w", req.Key, err)
	}
	if d.TotalPnL, err = domain.CheckedAddI64(d.TotalPnL, pnl); err != nil {
		return 0, fmt.Errorf("position_service: close %s: total pnl: %w", req.Key, err)
	}
	if pnl > 0 {
		if d.ProfitableTrades, err = domain.CheckedAddU64(d.ProfitableTrades, 1); err != nil {
			return 0, fmt.Errorf("position_service: close %s: profitable trades: %w", req.Key, err)
		}
	}
	if d.ActiveTrades == 0 {
		return 0, fmt.Errorf("position_service: close %s: active trades: %w", req.Key, domain.ErrMathOverflow)
	}
	d.ActiveTrades--

	now := s.now()
	pos.CurrentPrice = req.ExitPrice
	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = &now
	pos.PnL = pnl

	pos, d, err = s.positions.Close(ctx, pos, d)
	if err != nil {
		return 0, fmt.Errorf("position_service: close %s: %w", req.Key, err)
	}

	emitEvent(ctx, s.sink, s.logger, domain.Event{
		Name:        domain.EventPositionClosed,
		Actor:       req.Caller,
		User:        userRef(pos.User),
		Delegation:  pos.Delegation,
		PositionSeq: seqRef(pos.Seq),
		Fields: map[string]any{
			"token_id":        pos.TokenID,
			"amount":          pos.Amount,
			"amount_received": req.AmountReceived,
			"entry_price":     pos.EntryPrice,
			"exit_price":      req.ExitPrice,
			"pnl":             pnl,
			"active_trades":   d.ActiveTrades,
		},
		At: now,
	})
	s.logger.InfoContext(ctx, "position_service: position closed",
		slog.String("user", pos.User.Hex()),
		slog.String("position", pos.Key().String()),
		slog.Uint64("exit_price", req.ExitPrice),
		slog.Int64("pnl", pnl),
	)
	return pnl, nil
}

// CloseRecord deletes a terminal position. Only the position's user may
// call it.
func (s *PositionService) CloseRecord(ctx context.Context, key domain.PositionKey, caller domain.Identity) error {
	unlock, err := s.locks.Acquire(ctx, domain.PositionLockKey(key), s.lockTTL)
	if err != nil {
		return fmt.Errorf("position_service: close record: %w", err)
	}
	defer unlock()

	cfg, err := s.config.Get(ctx)
	if err != nil {
		return fmt.Errorf("position_service: close record: %w", err)
	}
	if err := guard.NotPaused(cfg)(); err != nil {
		return fmt.Errorf("position_service: close record: %w", err)
	}
	pos, err := s.positions.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("position_service: close record %s: %w", key, err)
	}
	if err := guard.All(
		guard.PositionTerminal(pos),
		guard.Signer(pos.User, caller),
	); err != nil {
		return fmt.Errorf("position_service: close record %s: %w", key, err)
	}

	if err := s.positions.Delete(ctx, key, pos.Version); err != nil {
		return fmt.Errorf("position_service: close record %s: %w", key, err)
	}

	emitEvent(ctx, s.sink, s.logger, domain.Event{
		Name:        domain.EventPositionRecordDeleted,
		Actor:       caller,
		User:        userRef(pos.User),
		Delegation:  pos.Delegation,
		PositionSeq: seqRef(pos.Seq),
		Fields:      map[string]any{"status": string(pos.Status), "pnl": pos.PnL},
		At:          s.now(),
	})
	return nil
}

// Get returns a single position.
func (s *PositionService) Get(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	pos, err := s.positions.Get(ctx, key)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get %s: %w", key, err)
	}
	return pos, nil
}

// List returns the positions of user's current grant, optionally filtered
// by status.
func (s *PositionService) List(ctx context.Context, user domain.Identity, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	d, err := s.delegations.Get(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("position_service: list %s: %w", user.Hex(), err)
	}
	out, err := s.positions.List(ctx, domain.PositionFilter{Delegation: d.ID, Status: status}, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list %s: %w", user.Hex(), err)
	}
	return out, nil
}
