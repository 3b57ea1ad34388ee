package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/accessrecon/internal/audit"
)

// AuditHandlers serves the audit trail export.
type AuditHandlers struct {
	repo   audit.Repository
	logger *slog.Logger
}

// NewAuditHandlers creates the audit export handler.
func NewAuditHandlers(repo audit.Repository, logger *slog.Logger) *AuditHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditHandlers{repo: repo, logger: logger}
}

// Export handles GET /audit/export.
//
// Query parameters: format (csv or json, default csv), actor, entity_type,
// entity_id, limit, and from/to as RFC 3339 timestamps.
func (h *AuditHandlers) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := audit.ExportOptions{
		Format:     audit.ExportFormat(strings.ToLower(q.Get("format"))),
		Actor:      q.Get("actor"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}
	if opts.Format == "" {
		opts.Format = audit.ExportFormatCSV
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeBadRequest(w, r, "limit must be a non-negative integer")
			return
		}
		opts.Limit = limit
	}
	for name, dst := range map[string]*time.Time{"from": &opts.From, "to": &opts.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, r, name+" must be an RFC 3339 timestamp")
			return
		}
		*dst = t
	}

	data, err := audit.ExportLogs(r.Context(), h.repo, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	contentType := "text/csv"
	if opts.Format == audit.ExportFormatJSON {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "audit."+string(opts.Format)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to write audit export", "error", err)
	}
}
