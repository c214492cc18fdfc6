package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/botledger/internal/domain"
)

// Health is the /api/health payload.
type Health struct {
	Status        string            `json:"status"`
	Mode          string            `json:"mode"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Dependencies  map[string]string `json:"dependencies"`
}

// Health reports server and dependency status. A degraded server answers with
// a 503 APIError.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, &h)
	return h, err
}

type authorities struct {
	ProtocolAuthority  string `json:"protocol_authority"`
	EmergencyAuthority string `json:"emergency_authority"`
}

// Initialize creates the global config. The signer becomes the deployer.
func (c *Client) Initialize(ctx context.Context, protocol, emergency domain.Identity) (domain.GlobalConfig, error) {
	var cfg domain.GlobalConfig
	err := c.do(ctx, http.MethodPost, "/api/config", nil,
		authorities{protocol.Hex(), emergency.Hex()}, &cfg)
	return cfg, err
}

// Config fetches the global config.
func (c *Client) Config(ctx context.Context) (domain.GlobalConfig, error) {
	var cfg domain.GlobalConfig
	err := c.do(ctx, http.MethodGet, "/api/config", nil, nil, &cfg)
	return cfg, err
}

type pauseResult struct {
	IsPaused bool `json:"is_paused"`
	Changed  bool `json:"changed"`
}

// Pause halts the ledger. It reports whether the flag changed.
func (c *Client) Pause(ctx context.Context) (bool, error) {
	var res pauseResult
	err := c.do(ctx, http.MethodPost, "/api/config/pause", nil, nil, &res)
	return res.Changed, err
}

// Resume lifts a pause. It reports whether the flag changed.
func (c *Client) Resume(ctx context.Context) (bool, error) {
	var res pauseResult
	err := c.do(ctx, http.MethodPost, "/api/config/resume", nil, nil, &res)
	return res.Changed, err
}

// SetAuthorities reassigns both authorities.
func (c *Client) SetAuthorities(ctx context.Context, protocol, emergency domain.Identity) (domain.GlobalConfig, error) {
	var cfg domain.GlobalConfig
	err := c.do(ctx, http.MethodPut, "/api/config/authorities", nil,
		authorities{protocol.Hex(), emergency.Hex()}, &cfg)
	return cfg, err
}

// Grant is the input to CreateDelegation.
type Grant struct {
	BotAuthority        domain.Identity
	Strategy            domain.Strategy
	MaxPositionSize     uint64
	MaxConcurrentTrades uint8
}

// CreateDelegation grants a bot trading rights for the signer.
func (c *Client) CreateDelegation(ctx context.Context, g Grant) (domain.Delegation, error) {
	var d domain.Delegation
	err := c.do(ctx, http.MethodPost, "/api/delegations", nil, map[string]any{
		"bot_authority":         g.BotAuthority.Hex(),
		"strategy":              uint8(g.Strategy),
		"max_position_size":     g.MaxPositionSize,
		"max_concurrent_trades": g.MaxConcurrentTrades,
	}, &d)
	return d, err
}

// GrantUpdate carries the fields to change; nil fields are left alone.
type GrantUpdate struct {
	Strategy            *uint8  `json:"strategy,omitempty"`
	MaxPositionSize     *uint64 `json:"max_position_size,omitempty"`
	MaxConcurrentTrades *uint8  `json:"max_concurrent_trades,omitempty"`
	IsActive            *bool   `json:"is_active,omitempty"`
}

// UpdateDelegation changes the signer's grant for user.
func (c *Client) UpdateDelegation(ctx context.Context, user domain.Identity, u GrantUpdate) (domain.Delegation, error) {
	var d domain.Delegation
	err := c.do(ctx, http.MethodPatch, "/api/delegations/"+user.Hex(), nil, u, &d)
	return d, err
}

// Delegation fetches user's grant.
func (c *Client) Delegation(ctx context.Context, user domain.Identity) (domain.Delegation, error) {
	var d domain.Delegation
	err := c.do(ctx, http.MethodGet, "/api/delegations/"+user.Hex(), nil, nil, &d)
	return d, err
}

// Stats fetches the derived statistics of user's grant.
func (c *Client) Stats(ctx context.Context, user domain.Identity) (domain.DelegationStats, error) {
	var s domain.DelegationStats
	err := c.do(ctx, http.MethodGet, "/api/delegations/"+user.Hex()+"/stats", nil, nil, &s)
	return s, err
}

// Delegations lists grants.
func (c *Client) Delegations(ctx context.Context, limit, offset int) ([]domain.Delegation, error) {
	var res struct {
		Delegations []domain.Delegation `json:"delegations"`
	}
	err := c.do(ctx, http.MethodGet, "/api/delegations", listQuery(limit, offset), nil, &res)
	return res.Delegations, err
}

// Revoke deactivates user's grant. It reports whether the grant was active.
func (c *Client) Revoke(ctx context.Context, user domain.Identity) (bool, error) {
	var res struct {
		Changed bool `json:"changed"`
	}
	err := c.do(ctx, http.MethodPost, "/api/delegations/"+user.Hex()+"/revoke", nil, nil, &res)
	return res.Changed, err
}

// Rotate moves user's grant to a new bot authority and returns the old one.
func (c *Client) Rotate(ctx context.Context, user, next domain.Identity) (domain.Identity, error) {
	var res struct {
		OldAuthority string `json:"old_authority"`
	}
	err := c.do(ctx, http.MethodPost, "/api/delegations/"+user.Hex()+"/rotate", nil,
		map[string]string{"new_bot_authority": next.Hex()}, &res)
	if err != nil {
		return domain.Identity{}, err
	}
	old, err := domain.ParseIdentity(res.OldAuthority)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("client: rotate: %w", err)
	}
	return old, nil
}

// CloseDelegation removes user's grant and returns its final state.
func (c *Client) CloseDelegation(ctx context.Context, user domain.Identity) (domain.Delegation, error) {
	var d domain.Delegation
	err := c.do(ctx, http.MethodDelete, "/api/delegations/"+user.Hex(), nil, nil, &d)
	return d, err
}

// Trade is the input to OpenPosition. Prices are scaled by domain.PriceScale.
type Trade struct {
	TokenID    string `json:"token_id"`
	Amount     uint64 `json:"amount"`
	EntryPrice uint64 `json:"entry_price"`
	TakeProfit uint64 `json:"take_profit"`
	StopLoss   uint64 `json:"stop_loss"`
}

// OpenPosition records a trade under user's grant. The signer must be the
// grant's bot authority.
func (c *Client) OpenPosition(ctx context.Context, user domain.Identity, t Trade) (domain.Position, error) {
	var p domain.Position
	err := c.do(ctx, http.MethodPost, "/api/delegations/"+user.Hex()+"/positions", nil, t, &p)
	return p, err
}

// Positions lists positions of user's grant. An empty status lists all.
func (c *Client) Positions(ctx context.Context, user domain.Identity, status domain.PositionStatus, limit, offset int) ([]domain.Position, error) {
	q := listQuery(limit, offset)
	if status != "" {
		q.Set("status", string(status))
	}
	var res struct {
		Positions []domain.Position `json:"positions"`
	}
	err := c.do(ctx, http.MethodGet, "/api/delegations/"+user.Hex()+"/positions", q, nil, &res)
	return res.Positions, err
}

func positionPath(key domain.PositionKey) string {
	return "/api/positions/" + url.PathEscape(key.Delegation) + "/" + strconv.FormatUint(key.Seq, 10)
}

// Position fetches one position.
func (c *Client) Position(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	var p domain.Position
	err := c.do(ctx, http.MethodGet, positionPath(key), nil, nil, &p)
	return p, err
}

// ClosePosition settles an open position and returns its PnL in base units.
func (c *Client) ClosePosition(ctx context.Context, user domain.Identity, key domain.PositionKey, exitPrice, amountReceived uint64) (int64, error) {
	var res struct {
		PnL int64 `json:"pnl"`
	}
	err := c.do(ctx, http.MethodPost, positionPath(key)+"/close", nil, map[string]any{
		"user":            user.Hex(),
		"exit_price":      exitPrice,
		"amount_received": amountReceived,
	}, &res)
	return res.PnL, err
}

// DeletePositionRecord removes a settled position record.
func (c *Client) DeletePositionRecord(ctx context.Context, key domain.PositionKey) error {
	return c.do(ctx, http.MethodDelete, positionPath(key), nil, nil, nil)
}

// Events lists audit entries newest first. Zero times are unbounded.
func (c *Client) Events(ctx context.Context, since, until time.Time, limit, offset int) ([]domain.AuditEntry, error) {
	q := listQuery(limit, offset)
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	if !until.IsZero() {
		q.Set("until", until.UTC().Format(time.RFC3339))
	}
	var res struct {
		Events []domain.AuditEntry `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, "/api/events", q, nil, &res)
	return res.Events, err
}

// Archives lists archived event files.
func (c *Client) Archives(ctx context.Context) ([]domain.BlobInfo, error) {
	var res struct {
		Archives []domain.BlobInfo `json:"archives"`
	}
	err := c.do(ctx, http.MethodGet, "/api/archives", nil, nil, &res)
	return res.Archives, err
}

// DownloadArchive copies one archived JSONL file to w.
func (c *Client) DownloadArchive(ctx context.Context, name string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/archives/"+url.PathEscape(name), nil)
	if err != nil {
		return fmt.Errorf("client: create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: download archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("client: download archive: %w", err)
	}
	return nil
}
