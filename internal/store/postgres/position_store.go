package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/botledger/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `delegation_id, seq, user_id, token_id, amount,
	entry_price, current_price, take_profit_price, stop_loss_price,
	status, opened_at, closed_at, pnl, version`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                               domain.Position
		user, status                    string
		seq, amount, entry, cur, tp, sl int64
	)
	err := row.Scan(
		&p.Delegation, &seq, &user, &p.TokenID, &amount,
		&entry, &cur, &tp, &sl,
		&status, &p.OpenedAt, &p.ClosedAt, &p.PnL, &p.Version,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Seq = uint64(seq)
	p.User = common.HexToAddress(user)
	p.Amount = uint64(amount)
	p.EntryPrice = uint64(entry)
	p.CurrentPrice = uint64(cur)
	p.TakeProfitPrice = uint64(tp)
	p.StopLossPrice = uint64(sl)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

// Open inserts p, writes d under its version check and increments the
// position counter, all in one transaction.
func (s *PositionStore) Open(ctx context.Context, p domain.Position, d domain.Delegation) (domain.Position, domain.Delegation, error) {
	nums, err := toDBAll(p.Seq, p.Amount, p.EntryPrice, p.CurrentPrice, p.TakeProfitPrice, p.StopLossPrice)
	if err != nil {
		return domain.Position{}, domain.Delegation{}, fmt.Errorf("postgres: open position: %w", err)
	}

	query := `
		INSERT INTO positions (
			delegation_id, seq, user_id, token_id, amount,
			entry_price, current_price, take_profit_price, stop_loss_price,
			status, opened_at, closed_at, pnl, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
		RETURNING ` + positionSelectCols

	var (
		outP domain.Position
		outD domain.Delegation
	)
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		if outD, err = updateDelegation(ctx, tx, d); err != nil {
			return err
		}
		outP, err = scanPosition(tx.QueryRow(ctx, query,
			p.Delegation, nums[0], p.User.Hex(), p.TokenID, nums[1],
			nums[2], nums[3], nums[4], nums[5],
			string(p.Status), p.OpenedAt, p.ClosedAt, p.PnL,
		))
		if err != nil {
			return mapErr(err)
		}
		return bumpCounter(ctx, tx, "total_positions", 1)
	})
	if err != nil {
		return domain.Position{}, domain.Delegation{}, fmt.Errorf("postgres: open position %s: %w", p.Key(), err)
	}
	return outP, outD, nil
}

// Close writes the settled position and d, each under its version check,
// in one transaction. Only an open position can be closed.
func (s *PositionStore) Close(ctx context.Context, p domain.Position, d domain.Delegation) (domain.Position, domain.Delegation, error) {
	cur, err := toDB(p.CurrentPrice)
	if err != nil {
		return domain.Position{}, domain.Delegation{}, fmt.Errorf("postgres: close position: %w", err)
	}

	query := `
		UPDATE positions SET
			current_price = $3, status = $4, closed_at = $5, pnl = $6,
			version = version + 1
		WHERE delegation_id = $1 AND seq = $2 AND version = $7 AND status = 'open'
		RETURNING ` + positionSelectCols

	var (
		outP domain.Position
		outD domain.Delegation
	)
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		outP, err = scanPosition(tx.QueryRow(ctx, query,
			p.Delegation, int64(p.Seq), cur, string(p.Status), p.ClosedAt, p.PnL, p.Version,
		))
		if err != nil {
			err = mapErr(err)
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrVersionConflict
			}
			return err
		}
		outD, err = updateDelegation(ctx, tx, d)
		return err
	})
	if err != nil {
		return domain.Position{}, domain.Delegation{}, fmt.Errorf("postgres: close position %s: %w", p.Key(), err)
	}
	return outP, outD, nil
}

// Get returns one position.
func (s *PositionStore) Get(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	seq, err := toDB(key.Seq)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", key, domain.ErrNotFound)
	}
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE delegation_id = $1 AND seq = $2`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, key.Delegation, seq))
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", key, mapErr(err))
	}
	return p, nil
}

// Delete removes a terminal position at version.
func (s *PositionStore) Delete(ctx context.Context, key domain.PositionKey, version int64) error {
	seq, err := toDB(key.Seq)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", key, domain.ErrNotFound)
	}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			status string
			cur    int64
		)
		err := tx.QueryRow(ctx,
			`SELECT status, version FROM positions WHERE delegation_id = $1 AND seq = $2 FOR UPDATE`,
			key.Delegation, seq,
		).Scan(&status, &cur)
		if err != nil {
			return mapErr(err)
		}
		switch {
		case domain.PositionStatus(status) == domain.PositionStatusOpen:
			return domain.ErrPositionStillOpen
		case cur != version:
			return domain.ErrVersionConflict
		}
		_, err = tx.Exec(ctx, `DELETE FROM positions WHERE delegation_id = $1 AND seq = $2`, key.Delegation, seq)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", key, err)
	}
	return nil
}

// List returns positions matching filter ordered by delegation and sequence.
func (s *PositionStore) List(ctx context.Context, filter domain.PositionFilter, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Delegation != "" {
		query += fmt.Sprintf(" AND delegation_id = $%d", argIdx)
		args = append(args, filter.Delegation)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY delegation_id, seq"
	query, args = appendPaging(query, args, argIdx, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return out, nil
}
