package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/botledger/internal/domain"
)

// ConfigService is the global config surface the handler needs.
type ConfigService interface {
	Initialize(ctx context.Context, deployer, protocol, emergency domain.Identity) (domain.GlobalConfig, error)
	Get(ctx context.Context) (domain.GlobalConfig, error)
	Pause(ctx context.Context, caller domain.Identity) (bool, error)
	Resume(ctx context.Context, caller domain.Identity) (bool, error)
	SetAuthorities(ctx context.Context, caller, protocol, emergency domain.Identity) (domain.GlobalConfig, error)
}

// ConfigHandler serves /api/config.
type ConfigHandler struct {
	config ConfigService
	logger *slog.Logger
}

// NewConfigHandler creates a ConfigHandler.
func NewConfigHandler(config ConfigService, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{config: config, logger: logger}
}

type authoritiesRequest struct {
	ProtocolAuthority  string `json:"protocol_authority"`
	EmergencyAuthority string `json:"emergency_authority"`
}

func (h *ConfigHandler) readAuthorities(w http.ResponseWriter, r *http.Request) (protocol, emergency domain.Identity, ok bool) {
	var req authoritiesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if protocol, ok = identityParam(w, req.ProtocolAuthority, "protocol_authority"); !ok {
		return
	}
	emergency, ok = identityParam(w, req.EmergencyAuthority, "emergency_authority")
	return
}

// Initialize creates the config with the caller as deployer.
// POST /api/config
func (h *ConfigHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	protocol, emergency, ok := h.readAuthorities(w, r)
	if !ok {
		return
	}
	cfg, err := h.config.Initialize(r.Context(), caller, protocol, emergency)
	if err != nil {
		writeLedgerError(w, r, h.logger, "initialize config", err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

// Get returns the config.
// GET /api/config
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.config.Get(r.Context())
	if err != nil {
		writeLedgerError(w, r, h.logger, "get config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// Pause halts mutations.
// POST /api/config/pause
func (h *ConfigHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

// Resume re-enables mutations.
// POST /api/config/resume
func (h *ConfigHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *ConfigHandler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	op, fn := "pause", h.config.Pause
	if !paused {
		op, fn = "resume", h.config.Resume
	}
	changed, err := fn(r.Context(), caller)
	if err != nil {
		writeLedgerError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_paused": paused, "changed": changed})
}

// SetAuthorities reassigns both authorities.
// PUT /api/config/authorities
func (h *ConfigHandler) SetAuthorities(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	protocol, emergency, ok := h.readAuthorities(w, r)
	if !ok {
		return
	}
	cfg, err := h.config.SetAuthorities(r.Context(), caller, protocol, emergency)
	if err != nil {
		writeLedgerError(w, r, h.logger, "set authorities", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
