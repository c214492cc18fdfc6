package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ConfigStore persists the global config singleton.
type ConfigStore interface {
	// Init creates the singleton or returns ErrAlreadyInitialized.
	Init(ctx context.Context, cfg GlobalConfig) error
	Get(ctx context.Context) (GlobalConfig, error)
	SetPaused(ctx context.Context, paused bool, at time.Time) (GlobalConfig, error)
	SetAuthorities(ctx context.Context, protocol, emergency Identity, at time.Time) (GlobalConfig, error)
}

// DelegationStore persists grants. Writes compare Version and fail with
// ErrVersionConflict when the stored record moved on.
type DelegationStore interface {
	// Create inserts d at version 1 and increments TotalDelegations.
	Create(ctx context.Context, d Delegation) (Delegation, error)
	Get(ctx context.Context, user Identity) (Delegation, error)
	// Update replaces d when the stored version equals d.Version and bumps it.
	Update(ctx context.Context, d Delegation) (Delegation, error)
	// Delete removes the grant at the given version and decrements
	// TotalDelegations without going below zero.
	Delete(ctx context.Context, user Identity, version int64) error
	List(ctx context.Context, opts ListOpts) ([]Delegation, error)
}

// PositionFilter narrows position listings.
type PositionFilter struct {
	Delegation string
	Status     PositionStatus
}

// PositionStore persists positions.
type PositionStore interface {
	// Open inserts p, writes the updated grant d under its version check and
	// increments TotalPositions in one atomic step.
	Open(ctx context.Context, p Position, d Delegation) (Position, Delegation, error)
	// Close writes the closed position and updated grant under their version
	// checks in one atomic step.
	Close(ctx context.Context, p Position, d Delegation) (Position, Delegation, error)
	Get(ctx context.Context, key PositionKey) (Position, error)
	// Delete removes a terminal position at the given version.
	Delete(ctx context.Context, key PositionKey, version int64) error
	List(ctx context.Context, filter PositionFilter, opts ListOpts) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
