package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/botledger/internal/domain"
	"github.com/alanyoungcy/botledger/internal/server/middleware"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","code":"Internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// StatusFor maps a ledger error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrSystemPaused), errors.Is(err, domain.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrAlreadyInitialized),
		errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, domain.ErrLockHeld),
		errors.Is(err, domain.ErrHasActiveTrades),
		errors.Is(err, domain.ErrPositionStillOpen),
		errors.Is(err, domain.ErrCannotReduceBelowActive),
		errors.Is(err, domain.ErrMaxTradesReached):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	if domain.ErrorCode(err) != "Internal" {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeLedgerError reports err with its ledger kind. Internal failures are
// logged and their text withheld.
func writeLedgerError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := StatusFor(err)
	code := domain.ErrorCode(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, code, "internal error")
		return
	}
	writeError(w, status, code, err.Error())
}

// requireCaller returns the signing identity or answers 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "signed request required")
		return domain.Identity{}, false
	}
	return caller, true
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "BadRequest", fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// identityParam parses a path or body identity, answering 422 on failure.
func identityParam(w http.ResponseWriter, raw, field string) (domain.Identity, bool) {
	id, err := domain.ParseIdentity(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, domain.ErrorCode(err), field+": "+err.Error())
		return domain.Identity{}, false
	}
	return id, true
}

// positionKeyParam reads {delegation} and {seq} from the path.
func positionKeyParam(w http.ResponseWriter, r *http.Request) (domain.PositionKey, bool) {
	seq, err := strconv.ParseUint(r.PathValue("seq"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "seq must be an unsigned integer")
		return domain.PositionKey{}, false
	}
	return domain.PositionKey{Delegation: r.PathValue("delegation"), Seq: seq}, true
}

// parseListOpts reads limit (default 50, max 500) and offset.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
