package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/botledger/internal/domain"
	"github.com/alanyoungcy/botledger/internal/service"
)

// PositionService is the ledger surface the handler needs.
type PositionService interface {
	Open(ctx context.Context, req service.OpenPositionRequest) (domain.Position, error)
	Close(ctx context.Context, req service.ClosePositionRequest) (int64, error)
	CloseRecord(ctx context.Context, key domain.PositionKey, caller domain.Identity) error
	Get(ctx context.Context, key domain.PositionKey) (domain.Position, error)
	List(ctx context.Context, user domain.Identity, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves position endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, logger: logger}
}

type openPositionRequest struct {
	TokenID    string `json:"token_id"`
	Amount     uint64 `json:"amount"`
	EntryPrice uint64 `json:"entry_price"`
	TakeProfit uint64 `json:"take_profit"`
	StopLoss   uint64 `json:"stop_loss"`
}

type closePositionRequest struct {
	User           string `json:"user"`
	ExitPrice      uint64 `json:"exit_price"`
	AmountReceived uint64 `json:"amount_received"`
}

// Open records a trade by the calling bot under {user}'s grant.
// POST /api/delegations/{user}/positions
func (h *PositionHandler) Open(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	user, ok := identityParam(w, r.PathValue("user"), "user")
	if !ok {
		return
	}
	var req openPositionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pos, err := h.positions.Open(r.Context(), service.OpenPositionRequest{
		User:       user,
		Caller:     caller,
		TokenID:    req.TokenID,
		Amount:     req.Amount,
		EntryPrice: req.EntryPrice,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
	})
	if err != nil {
		writeLedgerError(w, r, h.logger, "open position", err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

// List returns the positions of {user}'s grant, optionally by status.
// GET /api/delegations/{user}/positions?status=open
func (h *PositionHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := identityParam(w, r.PathValue("user"), "user")
	if !ok {
		return
	}
	status := domain.PositionStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.PositionStatusOpen, domain.PositionStatusClosed, domain.PositionStatusLiquidated:
	default:
		writeError(w, http.StatusBadRequest, "BadRequest", "unknown status "+string(status))
		return
	}
	list, err := h.positions.List(r.Context(), user, status, parseListOpts(r))
	if err != nil {
		writeLedgerError(w, r, h.logger, "list positions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": nonNil(list)})
}

// Get returns one position.
// GET /api/positions/{delegation}/{seq}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, ok := positionKeyParam(w, r)
	if !ok {
		return
	}
	pos, err := h.positions.Get(r.Context(), key)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Close settles an open position. The body names the grant's user.
// POST /api/positions/{delegation}/{seq}/close
func (h *PositionHandler) Close(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	key, ok := positionKeyParam(w, r)
	if !ok {
		return
	}
	var req closePositionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, ok := identityParam(w, req.User, "user")
	if !ok {
		return
	}
	pnl, err := h.positions.Close(r.Context(), service.ClosePositionRequest{
		User:           user,
		Key:            key,
		Caller:         caller,
		ExitPrice:      req.ExitPrice,
		AmountReceived: req.AmountReceived,
	})
	if err != nil {
		writeLedgerError(w, r, h.logger, "close position", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"delegation": key.Delegation,
		"seq":        key.Seq,
		"pnl":        pnl,
		"pnl_coins":  domain.FormatSignedCoins(pnl),
	})
}

// DeleteRecord removes a settled position record.
// DELETE /api/positions/{delegation}/{seq}
func (h *PositionHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	key, ok := positionKeyParam(w, r)
	if !ok {
		return
	}
	if err := h.positions.CloseRecord(r.Context(), key, caller); err != nil {
		writeLedgerError(w, r, h.logger, "delete position record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
