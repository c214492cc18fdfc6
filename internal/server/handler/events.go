package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/botledger/internal/domain"
)

// EventHandler serves the audit trail and its archives.
type EventHandler struct {
	audit    domain.AuditStore
	archives domain.BlobReader
	logger   *slog.Logger
}

// NewEventHandler creates an EventHandler. archives may be nil.
func NewEventHandler(audit domain.AuditStore, archives domain.BlobReader, logger *slog.Logger) *EventHandler {
	return &EventHandler{audit: audit, archives: archives, logger: logger}
}

// List returns audit entries newest first, optionally bounded by RFC 3339
// since/until.
// GET /api/events?since=&until=&limit=&offset=
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BadRequest", name+" must be RFC 3339")
			return
		}
		*dst = &t
	}
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeLedgerError(w, r, h.logger, "list events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": nonNil(entries)})
}

// Archives lists archived event files.
// GET /api/archives
func (h *EventHandler) Archives(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusNotFound, "NotFound", "archival is not configured")
		return
	}
	infos, err := h.archives.List(r.Context(), "archive/events/")
	if err != nil {
		writeLedgerError(w, r, h.logger, "list archives", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": nonNil(infos)})
}

// Archive streams one archived JSONL file.
// GET /api/archives/{name}
func (h *EventHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusNotFound, "NotFound", "archival is not configured")
		return
	}
	name := r.PathValue("name")
	if name == "" || strings.Contains(name, "/") || !strings.HasSuffix(name, ".jsonl") {
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid archive name")
		return
	}
	body, err := h.archives.Get(r.Context(), "archive/events/"+name)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get archive", err)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}
}
