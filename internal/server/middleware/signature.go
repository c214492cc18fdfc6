package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/botledger/internal/crypto"
	"github.com/alanyoungcy/botledger/internal/domain"
)

const (
	defaultMaxSkew = 5 * time.Minute
	defaultMaxBody = 1 << 20
)

type callerKey struct{}

// WithCaller returns ctx carrying the authenticated caller.
func WithCaller(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, callerKey{}, id)
}

// CallerFrom returns the identity that signed the request, if any.
func CallerFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(callerKey{}).(domain.Identity)
	return id, ok
}

// SignatureConfig tunes request signature checking.
type SignatureConfig struct {
	// MaxSkew bounds the distance between the signed timestamp and now.
	MaxSkew time.Duration
	// MaxBody caps the bytes read to hash the body.
	MaxBody int64
	// Nonces rejects a second request with the same signer, timestamp and
	// content; nil disables replay checks.
	Nonces domain.NonceStore
	Now    func() time.Time
}

// Signature authenticates requests carrying the X-Ledger-* headers and puts
// the recovered caller into the request context. Requests without a
// signature pass through anonymous; handlers that mutate state refuse them.
func Signature(cfg SignatureConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = defaultMaxSkew
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = defaultMaxBody
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := r.Header.Get(crypto.HeaderSignature)
			if sig == "" {
				next.ServeHTTP(w, r)
				return
			}

			addr, err := domain.ParseIdentity(r.Header.Get(crypto.HeaderAddress))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid "+crypto.HeaderAddress)
				return
			}
			ts, err := strconv.ParseInt(r.Header.Get(crypto.HeaderTimestamp), 10, 64)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid "+crypto.HeaderTimestamp)
				return
			}
			if skew := cfg.Now().Sub(time.Unix(ts, 0)); skew > cfg.MaxSkew || skew < -cfg.MaxSkew {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "request timestamp outside allowed window")
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, cfg.MaxBody))
			if err != nil {
				writeError(w, http.StatusRequestEntityTooLarge, "BadRequest", "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if err := crypto.VerifyRequest(addr, ts, r.Method, r.URL.RequestURI(), body, sig); err != nil {
				logger.WarnContext(r.Context(), "middleware: signature rejected",
					slog.String("address", addr.Hex()),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeError(w, http.StatusUnauthorized, "Unauthorized", "signature does not match address")
				return
			}

			if cfg.Nonces != nil {
				key := crypto.ReplayKey(addr, ts, r.Method, r.URL.RequestURI(), body)
				first, err := cfg.Nonces.FirstSeen(r.Context(), key, 2*cfg.MaxSkew)
				if err != nil {
					logger.ErrorContext(r.Context(), "middleware: nonce check failed",
						slog.String("error", err.Error()),
					)
					writeError(w, http.StatusServiceUnavailable, "Internal", "replay check unavailable")
					return
				}
				if !first {
					writeError(w, http.StatusUnauthorized, "Unauthorized", "replayed request")
					return
				}
			}

			recordCaller(r.Context(), addr.Hex())
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
		})
	}
}

// LocalNonces is an in-process domain.NonceStore for single-replica
// deployments.
type LocalNonces struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	now   func() time.Time
	sweep time.Time
}

var _ domain.NonceStore = (*LocalNonces)(nil)

// NewLocalNonces creates an empty LocalNonces.
func NewLocalNonces() *LocalNonces {
	return &LocalNonces{seen: make(map[string]time.Time), now: time.Now}
}

func (n *LocalNonces) FirstSeen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if now.After(n.sweep) {
		for k, exp := range n.seen {
			if now.After(exp) {
				delete(n.seen, k)
			}
		}
		n.sweep = now.Add(ttl)
	}
	if exp, ok := n.seen[key]; ok && !now.After(exp) {
		return false, nil
	}
	n.seen[key] = now.Add(ttl)
	return true, nil
}

// writeError sends the same error envelope the handlers use.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":` + strconv.Quote(msg) + `,"code":"` + code + `"}`))
}
