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

// ConfigStore implements domain.ConfigStore using PostgreSQL.
type ConfigStore struct {
	pool *pgxpool.Pool
}

var _ domain.ConfigStore = (*ConfigStore)(nil)

// NewConfigStore creates a new ConfigStore backed by the given connection pool.
func NewConfigStore(pool *pgxpool.Pool) *ConfigStore {
	return &ConfigStore{pool: pool}
}

const configSelectCols = `protocol_authority, emergency_authority, is_paused,
	total_delegations, total_positions, initialized_at, updated_at`

func scanConfig(row pgx.Row) (domain.GlobalConfig, error) {
	var (
		c                   domain.GlobalConfig
		protocol, emergency string
		delegations, total  int64
	)
	if err := row.Scan(&protocol, &emergency, &c.IsPaused, &delegations, &total, &c.InitializedAt, &c.UpdatedAt); err != nil {
		return domain.GlobalConfig{}, err
	}
	c.ProtocolAuthority = common.HexToAddress(protocol)
	c.EmergencyAuthority = common.HexToAddress(emergency)
	c.TotalDelegations = uint64(delegations)
	c.TotalPositions = uint64(total)
	return c, nil
}

// Init inserts the singleton row. A second call fails with
// ErrAlreadyInitialized.
func (s *ConfigStore) Init(ctx context.Context, cfg domain.GlobalConfig) error {
	const query = `
		INSERT INTO ledger_config (id, protocol_authority, emergency_authority, is_paused, initialized_at, updated_at)
		VALUES (1, $1, $2, FALSE, $3, $4)
		ON CONFLICT (id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		cfg.ProtocolAuthority.Hex(), cfg.EmergencyAuthority.Hex(), cfg.InitializedAt, cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: init config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyInitialized
	}
	return nil
}

// Get returns the singleton or ErrNotInitialized.
func (s *ConfigStore) Get(ctx context.Context) (domain.GlobalConfig, error) {
	query := `SELECT ` + configSelectCols + ` FROM ledger_config WHERE id = 1`
	c, err := scanConfig(s.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(mapErr(err), domain.ErrNotFound) {
			return domain.GlobalConfig{}, domain.ErrNotInitialized
		}
		return domain.GlobalConfig{}, fmt.Errorf("postgres: get config: %w", err)
	}
	return c, nil
}

// SetPaused flips the pause flag.
func (s *ConfigStore) SetPaused(ctx context.Context, paused bool, at time.Time) (domain.GlobalConfig, error) {
	query := `UPDATE ledger_config SET is_paused = $1, updated_at = $2 WHERE id = 1 RETURNING ` + configSelectCols
	c, err := scanConfig(s.pool.QueryRow(ctx, query, paused, at))
	if err != nil {
		if errors.Is(mapErr(err), domain.ErrNotFound) {
			return domain.GlobalConfig{}, domain.ErrNotInitialized
		}
		return domain.GlobalConfig{}, fmt.Errorf("postgres: set paused: %w", err)
	}
	return c, nil
}

// SetAuthorities replaces both authorities.
func (s *ConfigStore) SetAuthorities(ctx context.Context, protocol, emergency domain.Identity, at time.Time) (domain.GlobalConfig, error) {
	query := `UPDATE ledger_config SET protocol_authority = $1, emergency_authority = $2, updated_at = $3
		WHERE id = 1 RETURNING ` + configSelectCols
	c, err := scanConfig(s.pool.QueryRow(ctx, query, protocol.Hex(), emergency.Hex(), at))
	if err != nil {
		if errors.Is(mapErr(err), domain.ErrNotFound) {
			return domain.GlobalConfig{}, domain.ErrNotInitialized
		}
		return domain.GlobalConfig{}, fmt.Errorf("postgres: set authorities: %w", err)
	}
	return c, nil
}

// bumpCounter adjusts one of the config counters inside tx. Decrements stop
// at zero.
func bumpCounter(ctx context.Context, q querier, column string, delta int) error {
	var query string
	switch {
	case delta > 0:
		query = fmt.Sprintf(`UPDATE ledger_config SET %[1]s = %[1]s + 1 WHERE id = 1`, column)
	default:
		query = fmt.Sprintf(`UPDATE ledger_config SET %[1]s = GREATEST(%[1]s - 1, 0) WHERE id = 1`, column)
	}
	tag, err := q.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("postgres: bump %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotInitialized
	}
	return nil
}
