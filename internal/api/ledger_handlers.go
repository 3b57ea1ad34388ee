package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/accessrecon/internal/audit"
	"github.com/onnwee/accessrecon/internal/ledger"
	"github.com/onnwee/accessrecon/internal/middleware"
	"github.com/onnwee/accessrecon/internal/reconcile"
	"github.com/onnwee/accessrecon/internal/ticket"
)

// Archiver uploads the ticket export of a case. Implemented by
// ticket.S3Archiver.
type Archiver interface {
	Archive(ctx context.Context, caseID string, events []ledger.Event, format ticket.Format) (string, error)
}

// LedgerHandlers serves event status updates, ticket exports and ledger
// statistics.
type LedgerHandlers struct {
	engine   *reconcile.Engine
	archiver Archiver
	audit    auditTrail
	logger   *slog.Logger
}

// NewLedgerHandlers creates the ledger handlers. archiver may be nil, in
// which case the archive route answers 503.
func NewLedgerHandlers(engine *reconcile.Engine, archiver Archiver, auditRepo audit.Repository, logger *slog.Logger) *LedgerHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerHandlers{
		engine:   engine,
		archiver: archiver,
		audit:    auditTrail{repo: auditRepo, logger: logger},
		logger:   logger,
	}
}

// UpdateStatusRequest is the body of PATCH /events/{id}/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// ArchiveResponse names the object an archived export was written to.
type ArchiveResponse struct {
	CaseID string `json:"case_id"`
	Key    string `json:"key"`
}

// UpdateEventStatus handles PATCH /events/{id}/status.
func (h *LedgerHandlers) UpdateEventStatus(w http.ResponseWriter, r *http.Request) {
	rawID := r.PathValue("id")
	eventID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || eventID <= 0 {
		writeBadRequest(w, r, "Invalid event id")
		return
	}

	var req UpdateStatusRequest
	if !decode(w, r, &req) {
		return
	}
	status, err := ledger.ParseStatus(req.Status)
	if err != nil {
		writeValidation(w, r, err.Error())
		return
	}

	ev, err := h.engine.UpdateStatus(r.Context(), eventID, status)
	h.audit.record(r, audit.EntityEvent, rawID, audit.ActionUpdateEventStatus, err)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ev)
}

// CaseTickets handles GET /cases/{case}/tickets?format=csv|json|cbor.
func (h *LedgerHandlers) CaseTickets(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("case")
	format, err := ticket.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	events, err := h.engine.CaseEvents(r.Context(), caseID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	data, err := ticket.Export(events, format)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", caseID+"."+string(format)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to write ticket export", "error", err)
	}
}

// ArchiveCase handles POST /cases/{case}/archive?format=.
func (h *LedgerHandlers) ArchiveCase(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnavailable)
		WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeUnavailable, "Ticket archiving is not configured")
		return
	}

	caseID := r.PathValue("case")
	format, err := ticket.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	events, err := h.engine.CaseEvents(r.Context(), caseID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	key, err := h.archiver.Archive(r.Context(), caseID, events, format)
	h.audit.record(r, audit.EntityEmployee, events[0].EmployeeID, audit.ActionArchiveCase, err)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ArchiveResponse{CaseID: caseID, Key: key})
}

// Stats handles GET /stats.
func (h *LedgerHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// SearchEvents handles GET /events.
//
// Query parameters: case, employee, application, actor and description match
// as case-insensitive substrings; type and status match exactly; from/to are
// RFC 3339 timestamps; limit caps the result.
func (h *LedgerHandlers) SearchEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := ledger.Query{
		CaseID:      q.Get("case"),
		EmployeeID:  q.Get("employee"),
		Application: q.Get("application"),
		Actor:       q.Get("actor"),
		Description: q.Get("description"),
	}

	if v := q.Get("type"); v != "" {
		t, err := ledger.ParseEventType(v)
		if err != nil {
			writeValidation(w, r, err.Error())
			return
		}
		query.Type = t
	}
	if v := q.Get("status"); v != "" {
		s, err := ledger.ParseStatus(v)
		if err != nil {
			writeValidation(w, r, err.Error())
			return
		}
		query.Status = s
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeBadRequest(w, r, "limit must be a non-negative integer")
			return
		}
		query.Limit = limit
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &query.From}, {"to", &query.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, r, p.name+" must be an RFC 3339 timestamp")
			return
		}
		*p.dst = at
	}

	events, err := h.engine.SearchEvents(r.Context(), query)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, events)
}
