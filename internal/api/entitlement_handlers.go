package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/accessrecon/internal/audit"
	"github.com/onnwee/accessrecon/internal/catalog"
	"github.com/onnwee/accessrecon/internal/reconcile"
)

// EntitlementHandlers serves catalog administration.
type EntitlementHandlers struct {
	engine *reconcile.Engine
	audit  auditTrail
	logger *slog.Logger
}

// NewEntitlementHandlers creates the catalog handlers.
func NewEntitlementHandlers(engine *reconcile.Engine, auditRepo audit.Repository, logger *slog.Logger) *EntitlementHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementHandlers{
		engine: engine,
		audit:  auditTrail{repo: auditRepo, logger: logger},
		logger: logger,
	}
}

// List handles GET /entitlements.
func (h *EntitlementHandlers) List(w http.ResponseWriter, r *http.Request) {
	rows, err := h.engine.Entitlements(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rows)
}

// Create handles POST /entitlements.
func (h *EntitlementHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var ent catalog.Entitlement
	if !decode(w, r, &ent) {
		return
	}

	created, err := h.engine.CreateEntitlement(r.Context(), ent)
	entityID := "new"
	if created != nil {
		entityID = strconv.FormatInt(created.ID, 10)
	}
	h.audit.record(r, audit.EntityEntitlement, entityID, audit.ActionCreateEntitlement, err)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

// Delete handles DELETE /entitlements/{id}.
func (h *EntitlementHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	rawID := r.PathValue("id")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, r, "Invalid entitlement id")
		return
	}

	err = h.engine.DeleteEntitlement(r.Context(), id)
	h.audit.record(r, audit.EntityEntitlement, rawID, audit.ActionDeleteEntitlement, err)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
