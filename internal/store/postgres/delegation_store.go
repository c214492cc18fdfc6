package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/botledger/internal/domain"
)

// DelegationStore implements domain.DelegationStore using PostgreSQL.
type DelegationStore struct {
	pool *pgxpool.Pool
}

var _ domain.DelegationStore = (*DelegationStore)(nil)

// NewDelegationStore creates a new DelegationStore backed by the given connection pool.
func NewDelegationStore(pool *pgxpool.Pool) *DelegationStore {
	return &DelegationStore{pool: pool}
}

const delegationSelectCols = `id, user_id, bot_authority, strategy, max_position_size,
	max_concurrent_trades, is_active, active_trades, total_trades, profitable_trades,
	total_pnl, total_volume, position_seq, created_at, last_trade_at, version`

func scanDelegation(row pgx.Row) (domain.Delegation, error) {
	var (
		d                                       domain.Delegation
		user, bot                               string
		strategy, maxTrades, active             int16
		maxSize, trades, profitable, volume, sq int64
		lastTrade                               *time.Time
	)
	err := row.Scan(
		&d.ID, &user, &bot, &strategy, &maxSize,
		&maxTrades, &d.IsActive, &active, &trades, &profitable,
		&d.TotalPnL, &volume, &sq, &d.CreatedAt, &lastTrade, &d.Version,
	)
	if err != nil {
		return domain.Delegation{}, err
	}
	d.User = common.HexToAddress(user)
	d.BotAuthority = common.HexToAddress(bot)
	d.Strategy = domain.Strategy(strategy)
	d.MaxPositionSize = uint64(maxSize)
	d.MaxConcurrentTrades = uint8(maxTrades)
	d.ActiveTrades = uint8(active)
	d.TotalTrades = uint64(trades)
	d.ProfitableTrades = uint64(profitable)
	d.TotalVolume = uint64(volume)
	d.PositionSeq = uint64(sq)
	if lastTrade != nil {
		d.LastTradeAt = *lastTrade
	}
	return d, nil
}

// Create inserts d at version 1 and increments the delegation counter in the
// same transaction.
func (s *DelegationStore) Create(ctx context.Context, d domain.Delegation) (domain.Delegation, error) {
	nums, err := toDBAll(d.MaxPositionSize, d.TotalTrades, d.ProfitableTrades, d.TotalVolume, d.PositionSeq)
	if err != nil {
		return domain.Delegation{}, fmt.Errorf("postgres: create delegation: %w", err)
	}

	query := `
		INSERT INTO delegations (
			id, user_id, bot_authority, strategy, max_position_size,
			max_concurrent_trades, is_active, active_trades, total_trades, profitable_trades,
			total_pnl, total_volume, position_seq, created_at, last_trade_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1)
		RETURNING ` + delegationSelectCols

	var out domain.Delegation
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var scanErr error
		out, scanErr = scanDelegation(tx.QueryRow(ctx, query,
			d.ID, d.User.Hex(), d.BotAuthority.Hex(), int16(d.Strategy), nums[0],
			int16(d.MaxConcurrentTrades), d.IsActive, int16(d.ActiveTrades), nums[1], nums[2],
			d.TotalPnL, nums[3], nums[4], d.CreatedAt, nullTime(d.LastTradeAt),
		))
		if scanErr != nil {
			return mapErr(scanErr)
		}
		return bumpCounter(ctx, tx, "total_delegations", 1)
	})
	if err != nil {
		return domain.Delegation{}, fmt.Errorf("postgres: create delegation %s: %w", d.User.Hex(), err)
	}
	return out, nil
}

// Get returns the grant of user.
func (s *DelegationStore) Get(ctx context.Context, user domain.Identity) (domain.Delegation, error) {
	query := `SELECT ` + delegationSelectCols + ` FROM delegations WHERE user_id = $1`
	d, err := scanDelegation(s.pool.QueryRow(ctx, query, user.Hex()))
	if err != nil {
		return domain.Delegation{}, fmt.Errorf("postgres: get delegation %s: %w", user.Hex(), mapErr(err))
	}
	return d, nil
}

// Update writes d when the stored version matches.
func (s *DelegationStore) Update(ctx context.Context, d domain.Delegation) (domain.Delegation, error) {
	out, err := updateDelegation(ctx, s.pool, d)
	if err != nil {
		return domain.Delegation{}, fmt.Errorf("postgres: update delegation %s: %w", d.User.Hex(), err)
	}
	return out, nil
}

func updateDelegation(ctx context.Context, q querier, d domain.Delegation) (domain.Delegation, error) {
	nums, err := toDBAll(d.MaxPositionSize, d.TotalTrades, d.ProfitableTrades, d.TotalVolume, d.PositionSeq)
	if err != nil {
		return domain.Delegation{}, err
	}

	query := `
		UPDATE delegations SET
			bot_authority = $3, strategy = $4, max_position_size = $5,
			max_concurrent_trades = $6, is_active = $7, active_trades = $8,
			total_trades = $9, profitable_trades = $10, total_pnl = $11,
			total_volume = $12, position_seq = $13, last_trade_at = $14,
			version = version + 1
		WHERE user_id = $1 AND id = $2 AND version = $15
		RETURNING ` + delegationSelectCols

	out, err := scanDelegation(q.QueryRow(ctx, query,
		d.User.Hex(), d.ID, d.BotAuthority.Hex(), int16(d.Strategy), nums[0],
		int16(d.MaxConcurrentTrades), d.IsActive, int16(d.ActiveTrades),
		nums[1], nums[2], d.TotalPnL,
		nums[3], nums[4], nullTime(d.LastTradeAt),
		d.Version,
	))
	if err != nil {
		err = mapErr(err)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Delegation{}, domain.ErrVersionConflict
		}
		return domain.Delegation{}, err
	}
	return out, nil
}

// Delete removes the grant at version and decrements the delegation counter.
func (s *DelegationStore) Delete(ctx context.Context, user domain.Identity, version int64) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM delegations WHERE user_id = $1 AND version = $2`, user.Hex(), version)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM delegations WHERE user_id = $1)`, user.Hex()).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return domain.ErrVersionConflict
			}
			return domain.ErrNotFound
		}
		return bumpCounter(ctx, tx, "total_delegations", -1)
	})
	if err != nil {
		return fmt.Errorf("postgres: delete delegation %s: %w", user.Hex(), err)
	}
	return nil
}

// List returns grants ordered by creation time.
func (s *DelegationStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Delegation, error) {
	query := `SELECT ` + delegationSelectCols + ` FROM delegations WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY created_at, user_id"
	query, args = appendPaging(query, args, argIdx, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list delegations: %w", err)
	}
	defer rows.Close()

	var out []domain.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan delegation: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list delegations rows: %w", err)
	}
	return out, nil
}

func appendPaging(query string, args []any, argIdx int, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
