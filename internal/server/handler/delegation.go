package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/botledger/internal/domain"
	"github.com/alanyoungcy/botledger/internal/service"
)

// DelegationService is the grant registry surface the handler needs.
type DelegationService interface {
	Create(ctx context.Context, req service.CreateDelegationRequest) (domain.Delegation, error)
	Update(ctx context.Context, req service.UpdateDelegationRequest) (domain.Delegation, error)
	Revoke(ctx context.Context, user, caller domain.Identity) (bool, error)
	RotateBotAuthority(ctx context.Context, user, caller, newAuthority domain.Identity) (domain.Identity, domain.Identity, error)
	Close(ctx context.Context, user, caller domain.Identity) (domain.Delegation, error)
	Get(ctx context.Context, user domain.Identity) (domain.Delegation, error)
	Stats(ctx context.Context, user domain.Identity) (domain.DelegationStats, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Delegation, error)
}

// DelegationHandler serves /api/delegations.
type DelegationHandler struct {
	delegations DelegationService
	logger      *slog.Logger
}

// NewDelegationHandler creates a DelegationHandler.
func NewDelegationHandler(delegations DelegationService, logger *slog.Logger) *DelegationHandler {
	return &DelegationHandler{delegations: delegations, logger: logger}
}

type createDelegationRequest struct {
	BotAuthority        string `json:"bot_authority"`
	Strategy            uint8  `json:"strategy"`
	MaxPositionSize     uint64 `json:"max_position_size"`
	MaxConcurrentTrades uint8  `json:"max_concurrent_trades"`
}

type updateDelegationRequest struct {
	Strategy            *uint8  `json:"strategy"`
	MaxPositionSize     *uint64 `json:"max_position_size"`
	MaxConcurrentTrades *uint8  `json:"max_concurrent_trades"`
	IsActive            *bool   `json:"is_active"`
}

type rotateRequest struct {
	NewBotAuthority string `json:"new_bot_authority"`
}

// Create grants a bot trading rights for the calling user.
// POST /api/delegations
func (h *DelegationHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createDelegationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	bot, ok := identityParam(w, req.BotAuthority, "bot_authority")
	if !ok {
		return
	}
	d, err := h.delegations.Create(r.Context(), service.CreateDelegationRequest{
		User:                caller,
		Caller:              caller,
		BotAuthority:        bot,
		Strategy:            domain.Strategy(req.Strategy),
		MaxPositionSize:     req.MaxPositionSize,
		MaxConcurrentTrades: req.MaxConcurrentTrades,
	})
	if err != nil {
		writeLedgerError(w, r, h.logger, "create delegation", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// Get returns a user's grant.
// GET /api/delegations/{user}
func (h *DelegationHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := identityParam(w, r.PathValue("user"), "user")
	if !ok {
		return
	}
	d, err := h.delegations.Get(r.Context(), user)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get delegation", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Stats returns performance figures for a grant.
// GET /api/delegations/{user}/stats
func (h *DelegationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	user, ok := identityParam(w, r.PathValue("user"), "user")
	if !ok {
		return
	}
	stats, err := h.delegations.Stats(r.Context(), user)
	if err != nil {
		writeLedgerError(w, r, h.logger, "delegation stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// List pages through all grants.
// GET /api/delegations?limit=&offset=
func (h *DelegationHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.delegations.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeLedgerError(w, r, h.logger, "list delegations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delegations": nonNil(list)})
}

// Update changes the supplied terms of a grant.
// PATCH /api/delegations/{user}
func (h *DelegationHandler) Update(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	user, ok := identityParam(w, r.PathValue("user"), "user")
	if !ok {
		return
	}
	var req updateDelegationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	upd := service.UpdateDelegationRequest{
		User:                user,
		Caller:              caller,
		MaxPositionSize:     req.MaxPositionSize,
		MaxConcurrentTrades: req.MaxConcurrentTrades,
		IsActive:            req.IsActive,
	}
	if req.Strategy != nil {
		s := domain.Strategy(*req.Strategy)
		upd.Strategy = &s
	}
	d, err := h.delegations.Update(r.Context(), upd)
	if err != nil {
		writeLedgerError(w, r, h.logger, "update delegation", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Revoke deactivates a grant.
// POST /api/delegations/{user}/revoke
func (h *DelegationHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	user, ok := identityParam(w, r.PathValue("user"), "user")
	if !ok {
		return
	}
	changed, err := h.delegations.Revoke(r.Context(), user, caller)
	if err != nil {
		writeLedgerError(w, r, h.logger, "revoke delegation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_active": false, "changed": changed})
}

// Rotate hands trading rights to a new bot authority.
// POST /api/delegations/{user}/rotate
func (h *DelegationHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	user, ok := identityParam(w, r.PathValue("user"), "user")
	if !ok {
		return
	}
	var req rotateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	next, ok := identityParam(w, req.NewBotAuthority, "new_bot_authority")
	if !ok {
		return
	}
	old, updated, err := h.delegations.RotateBotAuthority(r.Context(), user, caller, next)
	if err != nil {
		writeLedgerError(w, r, h.logger, "rotate bot authority", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"old_authority": old.Hex(),
		"new_authority": updated.Hex(),
	})
}

// Close removes a grant with no open trades.
// DELETE /api/delegations/{user}
func (h *DelegationHandler) Close(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	user, ok := identityParam(w, r.PathValue("user"), "user")
	if !ok {
		return
	}
	d, err := h.delegations.Close(r.Context(), user, caller)
	if err != nil {
		writeLedgerError(w, r, h.logger, "close delegation", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
