package server

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/botledger/internal/crypto"
	"github.com/alanyoungcy/botledger/internal/domain"
	"github.com/alanyoungcy/botledger/internal/server/handler"
	"github.com/alanyoungcy/botledger/internal/server/middleware"
	"github.com/alanyoungcy/botledger/internal/service"
	"github.com/alanyoungcy/botledger/internal/store/memory"
)

type api struct {
	t       *testing.T
	handler http.Handler
}

func newSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	s, err := crypto.NewSigner(hex.EncodeToString(ethcrypto.FromECDSA(pk)))
	require.NoError(t, err)
	return s
}

func newAPI(t *testing.T) *api {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := memory.New()
	audit := db.Audit()
	locks := service.NewLocalLocks()

	cfgSvc := service.NewConfigService(db.Config(), audit, logger)
	delSvc := service.NewDelegationService(cfgSvc, db.Delegations(), locks, time.Second, audit, logger)
	posSvc := service.NewPositionService(cfgSvc, db.Delegations(), db.Positions(), nil, locks, time.Second, audit, logger)

	srv := NewServer(Config{}, Handlers{
		Health:      handler.NewHealthHandler("test", nil, logger),
		Config:      handler.NewConfigHandler(cfgSvc, logger),
		Delegations: handler.NewDelegationHandler(delSvc, logger),
		Positions:   handler.NewPositionHandler(posSvc, logger),
		Events:      handler.NewEventHandler(audit, nil, logger),
	}, Options{Nonces: middleware.NewLocalNonces()}, logger)
	return &api{t: t, handler: srv.Handler()}
}

// do sends a request, signed when s is non-nil, and decodes the JSON reply
// into out when out is non-nil.
func (a *api) do(s *crypto.Signer, method, path string, body any, out any) int {
	a.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(a.t, err)
	}
	r := httptest.NewRequest(method, path, bytes.NewReader(raw))
	if s != nil {
		ts := time.Now().Unix()
		sig, err := s.SignRequest(ts, method, r.URL.RequestURI(), raw)
		require.NoError(a.t, err)
		r.Header.Set(crypto.HeaderAddress, s.Address().Hex())
		r.Header.Set(crypto.HeaderTimestamp, strconv.FormatInt(ts, 10))
		r.Header.Set(crypto.HeaderSignature, sig)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, r)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func TestLedgerAPI_Lifecycle(t *testing.T) {
	a := newAPI(t)
	deployer, protocol, emergency := newSigner(t), newSigner(t), newSigner(t)
	alice, bot := newSigner(t), newSigner(t)
	userPath := "/api/delegations/" + alice.Address().Hex()

	require.Equal(t, http.StatusCreated, a.do(deployer, http.MethodPost, "/api/config", map[string]string{
		"protocol_authority":  protocol.Address().Hex(),
		"emergency_authority": emergency.Address().Hex(),
	}, nil))

	var d domain.Delegation
	require.Equal(t, http.StatusCreated, a.do(alice, http.MethodPost, "/api/delegations", map[string]any{
		"bot_authority":         bot.Address().Hex(),
		"strategy":              1,
		"max_position_size":     10 * domain.BaseUnitsPerCoin,
		"max_concurrent_trades": 2,
	}, &d))
	assert.Equal(t, alice.Address(), d.User)
	assert.True(t, d.IsActive)

	var pos domain.Position
	require.Equal(t, http.StatusCreated, a.do(bot, http.MethodPost, userPath+"/positions", map[string]any{
		"token_id":    "tok-1",
		"amount":      domain.BaseUnitsPerCoin,
		"entry_price": 1000,
		"take_profit": 1500,
		"stop_loss":   500,
	}, &pos))
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)

	posPath := fmt.Sprintf("/api/positions/%s/%d", pos.Delegation, pos.Seq)
	var closed struct {
		PnL      int64  `json:"pnl"`
		PnLCoins string `json:"pnl_coins"`
	}
	require.Equal(t, http.StatusOK, a.do(bot, http.MethodPost, posPath+"/close", map[string]any{
		"user":            alice.Address().Hex(),
		"exit_price":      1400,
		"amount_received": 1_500_000_000,
	}, &closed))
	assert.Equal(t, int64(500_000_000), closed.PnL)
	assert.Equal(t, "0.5", closed.PnLCoins)

	var stats domain.DelegationStats
	require.Equal(t, http.StatusOK, a.do(nil, http.MethodGet, userPath+"/stats", nil, &stats))
	assert.Equal(t, uint64(1), stats.TotalTrades)
	assert.Equal(t, uint64(10_000), stats.WinRateBps)

	require.Equal(t, http.StatusNoContent, a.do(alice, http.MethodDelete, posPath, nil, nil))
	require.Equal(t, http.StatusNotFound, a.do(nil, http.MethodGet, posPath, nil, nil))

	require.Equal(t, http.StatusOK, a.do(alice, http.MethodDelete, userPath, nil, nil))
	require.Equal(t, http.StatusNotFound, a.do(nil, http.MethodGet, userPath, nil, nil))

	var events struct {
		Events []domain.AuditEntry `json:"events"`
	}
	require.Equal(t, http.StatusOK, a.do(nil, http.MethodGet, "/api/events?limit=2", nil, &events))
	require.Len(t, events.Events, 2)
	assert.Equal(t, domain.EventDelegationClosed, events.Events[0].Event)
}

func TestLedgerAPI_ErrorMapping(t *testing.T) {
	a := newAPI(t)
	deployer, protocol, emergency := newSigner(t), newSigner(t), newSigner(t)
	alice, bot, mallory := newSigner(t), newSigner(t), newSigner(t)
	userPath := "/api/delegations/" + alice.Address().Hex()

	var e apiError
	require.Equal(t, http.StatusServiceUnavailable, a.do(nil, http.MethodGet, "/api/config", nil, &e))
	assert.Equal(t, "NotInitialized", e.Code)

	require.Equal(t, http.StatusCreated, a.do(deployer, http.MethodPost, "/api/config", map[string]string{
		"protocol_authority":  protocol.Address().Hex(),
		"emergency_authority": emergency.Address().Hex(),
	}, nil))
	// Identical signed requests are replays, so the retry swaps the fields.
	require.Equal(t, http.StatusConflict, a.do(deployer, http.MethodPost, "/api/config", map[string]string{
		"protocol_authority":  emergency.Address().Hex(),
		"emergency_authority": protocol.Address().Hex(),
	}, &e))
	assert.Equal(t, "AlreadyInitialized", e.Code)

	create := map[string]any{
		"bot_authority":         bot.Address().Hex(),
		"strategy":              0,
		"max_position_size":     domain.BaseUnitsPerCoin,
		"max_concurrent_trades": 1,
	}

	t.Run("unsigned mutation", func(t *testing.T) {
		require.Equal(t, http.StatusUnauthorized, a.do(nil, http.MethodPost, "/api/delegations", create, &e))
	})

	t.Run("bad strategy", func(t *testing.T) {
		bad := map[string]any{"bot_authority": bot.Address().Hex(), "strategy": 9,
			"max_position_size": 1, "max_concurrent_trades": 1}
		require.Equal(t, http.StatusUnprocessableEntity, a.do(alice, http.MethodPost, "/api/delegations", bad, &e))
		assert.Equal(t, "InvalidStrategy", e.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		require.Equal(t, http.StatusBadRequest, a.do(alice, http.MethodPost, "/api/delegations", map[string]any{"nope": 1}, &e))
	})

	require.Equal(t, http.StatusCreated, a.do(alice, http.MethodPost, "/api/delegations", create, nil))

	t.Run("duplicate grant", func(t *testing.T) {
		again := map[string]any{
			"bot_authority":         bot.Address().Hex(),
			"strategy":              2,
			"max_position_size":     domain.BaseUnitsPerCoin,
			"max_concurrent_trades": 1,
		}
		require.Equal(t, http.StatusConflict, a.do(alice, http.MethodPost, "/api/delegations", again, &e))
		assert.Equal(t, "AlreadyExists", e.Code)
	})

	t.Run("wrong bot", func(t *testing.T) {
		open := map[string]any{"token_id": "t", "amount": 1, "entry_price": 10, "take_profit": 11, "stop_loss": 9}
		require.Equal(t, http.StatusForbidden, a.do(mallory, http.MethodPost, userPath+"/positions", open, &e))
		assert.Equal(t, "Unauthorized", e.Code)
	})

	t.Run("bad identity in path", func(t *testing.T) {
		require.Equal(t, http.StatusUnprocessableEntity, a.do(nil, http.MethodGet, "/api/delegations/0x123", nil, &e))
		assert.Equal(t, "InvalidIdentity", e.Code)
	})

	t.Run("bad seq", func(t *testing.T) {
		require.Equal(t, http.StatusBadRequest, a.do(nil, http.MethodGet, "/api/positions/abc/x", nil, &e))
	})

	t.Run("pause blocks grants", func(t *testing.T) {
		require.Equal(t, http.StatusForbidden, a.do(mallory, http.MethodPost, "/api/config/pause", nil, &e))
		require.Equal(t, http.StatusOK, a.do(emergency, http.MethodPost, "/api/config/pause", nil, nil))

		patch := map[string]any{"max_position_size": 2 * domain.BaseUnitsPerCoin}
		require.Equal(t, http.StatusServiceUnavailable, a.do(alice, http.MethodPatch, userPath, patch, &e))
		assert.Equal(t, "SystemPaused", e.Code)

		// Revocation stays available while paused.
		require.Equal(t, http.StatusOK, a.do(alice, http.MethodPost, userPath+"/revoke", nil, nil))
		require.Equal(t, http.StatusOK, a.do(protocol, http.MethodPost, "/api/config/resume", nil, nil))
	})
}

func TestLedgerAPI_HealthAndListing(t *testing.T) {
	a := newAPI(t)
	var health map[string]any
	require.Equal(t, http.StatusOK, a.do(nil, http.MethodGet, "/api/health", nil, &health))
	assert.Equal(t, "ok", health["status"])

	var list struct {
		Delegations []domain.Delegation `json:"delegations"`
	}
	require.Equal(t, http.StatusOK, a.do(nil, http.MethodGet, "/api/delegations", nil, &list))
	assert.NotNil(t, list.Delegations)
	assert.Empty(t, list.Delegations)

	require.Equal(t, http.StatusNotFound, a.do(nil, http.MethodGet, "/api/archives", nil, nil))
}
