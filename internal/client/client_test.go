package client

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/botledger/internal/crypto"
	"github.com/alanyoungcy/botledger/internal/domain"
	"github.com/alanyoungcy/botledger/internal/server"
	"github.com/alanyoungcy/botledger/internal/server/handler"
	"github.com/alanyoungcy/botledger/internal/server/middleware"
	"github.com/alanyoungcy/botledger/internal/service"
	"github.com/alanyoungcy/botledger/internal/store/memory"
)

const testAPIKey = "secret"

func startLedger(t *testing.T) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := memory.New()
	audit := db.Audit()
	locks := service.NewLocalLocks()

	cfgSvc := service.NewConfigService(db.Config(), audit, logger)
	delSvc := service.NewDelegationService(cfgSvc, db.Delegations(), locks, time.Second, audit, logger)
	posSvc := service.NewPositionService(cfgSvc, db.Delegations(), db.Positions(), nil, locks, time.Second, audit, logger)

	srv := server.NewServer(server.Config{APIKey: testAPIKey}, server.Handlers{
		Health:      handler.NewHealthHandler("test", nil, logger),
		Config:      handler.NewConfigHandler(cfgSvc, logger),
		Delegations: handler.NewDelegationHandler(delSvc, logger),
		Positions:   handler.NewPositionHandler(posSvc, logger),
		Events:      handler.NewEventHandler(audit, nil, logger),
	}, server.Options{Nonces: middleware.NewLocalNonces()}, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

// newClient returns a client whose clock advances one second per request so
// repeated identical calls never collide in the replay check.
func newClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer, err := crypto.NewSigner(hex.EncodeToString(ethcrypto.FromECDSA(pk)))
	require.NoError(t, err)

	c := New(baseURL, WithSigner(signer), WithAPIKey(testAPIKey))
	clock := time.Now().Add(-time.Minute)
	c.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return c
}

func TestClient_Lifecycle(t *testing.T) {
	ctx := context.Background()
	url := startLedger(t)
	deployer, protocol, emergency := newClient(t, url), newClient(t, url), newClient(t, url)
	alice, bot := newClient(t, url), newClient(t, url)

	h, err := alice.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)

	cfg, err := deployer.Initialize(ctx, protocol.Identity(), emergency.Identity())
	require.NoError(t, err)
	assert.Equal(t, protocol.Identity(), cfg.ProtocolAuthority)

	d, err := alice.CreateDelegation(ctx, Grant{
		BotAuthority:        bot.Identity(),
		Strategy:            domain.StrategyMomentumScalper,
		MaxPositionSize:     5 * domain.BaseUnitsPerCoin,
		MaxConcurrentTrades: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, alice.Identity(), d.User)

	trades := uint8(1)
	d, err = alice.UpdateDelegation(ctx, alice.Identity(), GrantUpdate{MaxConcurrentTrades: &trades})
	require.NoError(t, err)
	assert.Equal(t, uint8(1), d.MaxConcurrentTrades)

	pos, err := bot.OpenPosition(ctx, alice.Identity(), Trade{
		TokenID:    "tok",
		Amount:     domain.BaseUnitsPerCoin,
		EntryPrice: 2_000_000,
	})
	require.NoError(t, err)

	_, err = bot.OpenPosition(ctx, alice.Identity(), Trade{TokenID: "tok-2", Amount: 1, EntryPrice: 1})
	assert.ErrorIs(t, err, domain.ErrMaxTradesReached)
	assert.True(t, IsCode(err, "MaxTradesReached"))

	open, err := alice.Positions(ctx, alice.Identity(), domain.PositionStatusOpen, 0, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, pos.Seq, open[0].Seq)

	pnl, err := bot.ClosePosition(ctx, alice.Identity(), pos.Key(), 1_000_000, domain.BaseUnitsPerCoin/2)
	require.NoError(t, err)
	assert.Equal(t, -int64(domain.BaseUnitsPerCoin/2), pnl)

	stats, err := alice.Stats(ctx, alice.Identity())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalTrades)
	assert.Equal(t, uint64(0), stats.ProfitableTrades)

	next := newClient(t, url)
	old, err := alice.Rotate(ctx, alice.Identity(), next.Identity())
	require.NoError(t, err)
	assert.Equal(t, bot.Identity(), old)

	changed, err := protocol.Pause(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	_, err = next.OpenPosition(ctx, alice.Identity(), Trade{TokenID: "tok", Amount: 1, EntryPrice: 1})
	assert.ErrorIs(t, err, domain.ErrSystemPaused)
	changed, err = emergency.Resume(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	revoked, err := alice.Revoke(ctx, alice.Identity())
	require.NoError(t, err)
	assert.True(t, revoked)

	require.NoError(t, alice.DeletePositionRecord(ctx, pos.Key()))
	_, err = alice.Position(ctx, pos.Key())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	closed, err := alice.CloseDelegation(ctx, alice.Identity())
	require.NoError(t, err)
	assert.False(t, closed.IsActive)

	events, err := alice.Events(ctx, time.Time{}, time.Time{}, 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventDelegationClosed, events[0].Event)
}

func TestClient_Errors(t *testing.T) {
	ctx := context.Background()
	url := startLedger(t)

	c := newClient(t, url)
	_, err := c.Config(ctx)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)

	anon := New(url)
	_, err = anon.Delegations(ctx, 10, 0)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = c.Archives(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDecodeError_PlainBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := New(ts.URL).Config(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Internal", apiErr.Code)
	assert.Equal(t, "upstream exploded", apiErr.Message)
	assert.Nil(t, errors.Unwrap(err))
}
