// Package memory is an in-process implementation of the ledger stores. All
// stores returned by one DB share a single mutex so multi-record writes are
// atomic.
package memory

import (
	"sync"

	"github.com/alanyoungcy/botledger/internal/domain"
)

// DB holds every ledger record in memory.
type DB struct {
	mu          sync.RWMutex
	config      *domain.GlobalConfig
	delegations map[domain.Identity]domain.Delegation
	positions   map[domain.PositionKey]domain.Position
	audit       []domain.AuditEntry
	events      []domain.Event
	nextAuditID int64
}

// New creates an empty DB.
func New() *DB {
	return &DB{
		delegations: make(map[domain.Identity]domain.Delegation),
		positions:   make(map[domain.PositionKey]domain.Position),
	}
}

// Config returns the config store view.
func (db *DB) Config() *ConfigStore { return &ConfigStore{db: db} }

// Delegations returns the delegation store view.
func (db *DB) Delegations() *DelegationStore { return &DelegationStore{db: db} }

// Positions returns the position store view.
func (db *DB) Positions() *PositionStore { return &PositionStore{db: db} }

// Audit returns the audit log view.
func (db *DB) Audit() *AuditLog { return &AuditLog{db: db} }

func copyPosition(p domain.Position) domain.Position {
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		p.ClosedAt = &t
	}
	return p
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
