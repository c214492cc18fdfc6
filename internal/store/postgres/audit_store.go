package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/botledger/internal/domain"
)

// AuditStore is the authoritative event trail. Ledger events are keyed by
// their event id; emitting the same event twice leaves one row.
type AuditStore struct {
	pool *pgxpool.Pool
}

var (
	_ domain.AuditStore = (*AuditStore)(nil)
	_ domain.EventSink  = (*AuditStore)(nil)
)

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an entry that is not a ledger event, such as an archive run.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: marshal detail: %w", event, err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, raw); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// Emit stores ev with its identities split into indexed columns.
func (s *AuditStore) Emit(ctx context.Context, ev domain.Event) error {
	raw, err := json.Marshal(ev.Detail())
	if err != nil {
		return fmt.Errorf("postgres: emit %s: marshal detail: %w", ev.Name, err)
	}
	var user *string
	if ev.User != nil {
		u := ev.User.Hex()
		user = &u
	}
	var delegation *string
	if ev.Delegation != "" {
		delegation = &ev.Delegation
	}

	const q = `
		INSERT INTO audit_log (event, event_id, actor, user_id, delegation_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q,
		ev.Name, ev.ID, ev.Actor.Hex(), user, delegation, raw, ev.At.UTC(),
	); err != nil {
		return fmt.Errorf("postgres: emit %s %s: %w", ev.Name, ev.ID, err)
	}
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var where []string
	args := pgx.NamedArgs{}
	if opts.Since != nil {
		where = append(where, "created_at >= @since")
		args["since"] = *opts.Since
	}
	if opts.Until != nil {
		where = append(where, "created_at <= @until")
		args["until"] = *opts.Until
	}

	q := `SELECT id, event, detail, created_at FROM audit_log`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		q += " LIMIT @limit"
		args["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		q += " OFFSET @offset"
		args["offset"] = opts.Offset
	}

	rows, err := s.pool.Query(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var (
			e   domain.AuditEntry
			raw []byte
		)
		if err := row.Scan(&e.ID, &e.Event, &raw, &e.CreatedAt); err != nil {
			return e, err
		}
		if raw != nil {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return e, fmt.Errorf("decode detail of entry %d: %w", e.ID, err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	return entries, nil
}
