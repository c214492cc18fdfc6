package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/botledger/internal/domain"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bot   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func seeded(t *testing.T) (*DB, domain.Delegation) {
	t.Helper()
	ctx := context.Background()
	db := New()
	require.NoError(t, db.Config().Init(ctx, domain.GlobalConfig{ProtocolAuthority: alice, EmergencyAuthority: alice}))

	now := time.Now().UTC()
	d := domain.Delegation{
		ID:                  domain.NewDelegationID(alice, now),
		User:                alice,
		BotAuthority:        bot,
		MaxPositionSize:     domain.BaseUnitsPerCoin,
		MaxConcurrentTrades: 2,
		IsActive:            true,
		CreatedAt:           now,
	}
	d, err := db.Delegations().Create(ctx, d)
	require.NoError(t, err)
	return db, d
}

func TestConfigInitOnce(t *testing.T) {
	ctx := context.Background()
	db := New()
	_, err := db.Config().Get(ctx)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)

	require.NoError(t, db.Config().Init(ctx, domain.GlobalConfig{ProtocolAuthority: alice}))
	assert.ErrorIs(t, db.Config().Init(ctx, domain.GlobalConfig{}), domain.ErrAlreadyInitialized)
}

func TestDelegationCreateCountsAndConflicts(t *testing.T) {
	ctx := context.Background()
	db, d := seeded(t)

	assert.Equal(t, int64(1), d.Version)
	cfg, err := db.Config().Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cfg.TotalDelegations)

	_, err = db.Delegations().Create(ctx, d)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	updated := d
	updated.IsActive = false
	got, err := db.Delegations().Update(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)

	// stale version
	_, err = db.Delegations().Update(ctx, updated)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	assert.ErrorIs(t, db.Delegations().Delete(ctx, alice, 1), domain.ErrVersionConflict)
	require.NoError(t, db.Delegations().Delete(ctx, alice, 2))
	cfg, _ = db.Config().Get(ctx)
	assert.Equal(t, uint64(0), cfg.TotalDelegations)
}

func TestPositionOpenCloseDelete(t *testing.T) {
	ctx := context.Background()
	db, d := seeded(t)

	p := domain.Position{Delegation: d.ID, Seq: 0, User: alice, Amount: 10, Status: domain.PositionStatusOpen}
	d.ActiveTrades = 1
	d.PositionSeq = 1
	p, d, err := db.Positions().Open(ctx, p, d)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Version)
	assert.Equal(t, int64(2), d.Version)

	cfg, _ := db.Config().Get(ctx)
	assert.Equal(t, uint64(1), cfg.TotalPositions)

	assert.ErrorIs(t, db.Positions().Delete(ctx, p.Key(), p.Version), domain.ErrPositionStillOpen)

	closedAt := time.Now().UTC()
	p.Status = domain.PositionStatusClosed
	p.ClosedAt = &closedAt
	d.ActiveTrades = 0
	p, _, err = db.Positions().Close(ctx, p, d)
	require.NoError(t, err)

	// returned copies must not alias stored state
	*p.ClosedAt = time.Time{}
	stored, err := db.Positions().Get(ctx, p.Key())
	require.NoError(t, err)
	assert.Equal(t, closedAt, *stored.ClosedAt)

	list, err := db.Positions().List(ctx, domain.PositionFilter{Delegation: d.ID, Status: domain.PositionStatusClosed}, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, db.Positions().Delete(ctx, p.Key(), stored.Version))
	_, err = db.Positions().Get(ctx, p.Key())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPositionOpenStaleDelegationLeavesNoRecord(t *testing.T) {
	ctx := context.Background()
	db, d := seeded(t)

	stale := d
	stale.Version = 99
	_, _, err := db.Positions().Open(ctx, domain.Position{Delegation: d.ID, User: alice, Status: domain.PositionStatusOpen}, stale)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	list, err := db.Positions().List(ctx, domain.PositionFilter{}, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, list)
	cfg, _ := db.Config().Get(ctx)
	assert.Equal(t, uint64(0), cfg.TotalPositions)
}

func TestAuditLogEmitAndList(t *testing.T) {
	ctx := context.Background()
	db := New()
	log := db.Audit()

	require.NoError(t, log.Emit(ctx, domain.Event{ID: "1", Name: domain.EventSystemPaused, Actor: alice}))
	require.NoError(t, log.Emit(ctx, domain.Event{ID: "2", Name: domain.EventSystemResumed, Actor: alice}))

	assert.Equal(t, []string{domain.EventSystemPaused, domain.EventSystemResumed}, log.EventNames())

	entries, err := log.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EventSystemResumed, entries[0].Event)
	assert.Equal(t, alice.Hex(), entries[0].Detail["actor"])
}
