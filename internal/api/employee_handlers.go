package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/accessrecon/internal/audit"
	"github.com/onnwee/accessrecon/internal/directory"
	"github.com/onnwee/accessrecon/internal/ledger"
	"github.com/onnwee/accessrecon/internal/middleware"
	"github.com/onnwee/accessrecon/internal/projection"
	"github.com/onnwee/accessrecon/internal/reconcile"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// EmployeeHandlers serves the employee lifecycle and access routes.
type EmployeeHandlers struct {
	engine *reconcile.Engine
	audit  auditTrail
	logger *slog.Logger
}

// NewEmployeeHandlers creates the employee handlers. auditRepo may be nil,
// in which case mutations are not audited.
func NewEmployeeHandlers(engine *reconcile.Engine, auditRepo audit.Repository, logger *slog.Logger) *EmployeeHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmployeeHandlers{
		engine: engine,
		audit:  auditTrail{repo: auditRepo, logger: logger},
		logger: logger,
	}
}

// DeleteResponse reports how many events an administrative delete removed.
type DeleteResponse struct {
	Deleted int `json:"deleted"`
}

// CreateEmployee handles POST /employees.
func (h *EmployeeHandlers) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var emp directory.Employee
	if !decode(w, r, &emp) {
		return
	}
	created, err := h.engine.CreateEmployee(r.Context(), emp)
	h.audit.record(r, audit.EntityEmployee, emp.ID, audit.ActionCreateEmployee, err)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

// ListEmployees handles GET /employees. ?active=true lists active employees
// only.
func (h *EmployeeHandlers) ListEmployees(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, r, "active must be a boolean")
			return
		}
		activeOnly = b
	}
	employees, err := h.engine.ListEmployees(r.Context(), activeOnly)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if employees == nil {
		employees = []directory.Employee{}
	}
	writeJSON(w, r, http.StatusOK, employees)
}

// UpdateEmployee handles PATCH /employees/{id}.
func (h *EmployeeHandlers) UpdateEmployee(w http.ResponseWriter, r *http.Request) {
	var upd reconcile.EmployeeUpdate
	if !decode(w, r, &upd) {
		return
	}
	id := r.PathValue("id")
	emp, err := h.engine.UpdateEmployee(r.Context(), id, upd)
	h.audit.record(r, audit.EntityEmployee, id, audit.ActionUpdateEmployee, err)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, emp)
}

// StatusRequest is the body of PUT /employees/{id}/status.
type StatusRequest struct {
	Active *bool `json:"active"`
}

// SetStatus handles PUT /employees/{id}/status.
func (h *EmployeeHandlers) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Active == nil {
		writeValidation(w, r, "active is required")
		return
	}
	id := r.PathValue("id")
	emp, err := h.engine.SetEmployeeActive(r.Context(), id, *req.Active)
	h.audit.record(r, audit.EntityEmployee, id, audit.ActionEmployeeStatus, err)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, emp)
}

// DeleteEmployee handles DELETE /employees/{id}. The employee's ledger
// history is kept.
func (h *EmployeeHandlers) DeleteEmployee(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.engine.DeleteEmployee(r.Context(), id)
	h.audit.record(r, audit.EntityEmployee, id, audit.ActionDeleteEmployee, err)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Headcount handles GET /headcount.
func (h *EmployeeHandlers) Headcount(w http.ResponseWriter, r *http.Request) {
	hc, err := h.engine.Headcount(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, hc)
}

// GetEmployee handles GET /employees/{id}.
func (h *EmployeeHandlers) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.engine.Employee(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, emp)
}

// Onboard handles POST /employees/{id}/onboard.
func (h *EmployeeHandlers) Onboard(w http.ResponseWriter, r *http.Request) {
	var req reconcile.OnboardRequest
	if !decode(w, r, &req) {
		return
	}
	req.EmployeeID = r.PathValue("id")
	r, req.Actor = withActor(r, req.Actor)

	res, err := h.engine.Onboard(r.Context(), req)
	h.finish(w, r, req.EmployeeID, audit.ActionOnboard, res, err)
}

// LateralMove handles POST /employees/{id}/lateral-move.
func (h *EmployeeHandlers) LateralMove(w http.ResponseWriter, r *http.Request) {
	var req reconcile.LateralMoveRequest
	if !decode(w, r, &req) {
		return
	}
	req.EmployeeID = r.PathValue("id")
	r, req.Actor = withActor(r, req.Actor)

	res, err := h.engine.LateralMove(r.Context(), req)
	h.finish(w, r, req.EmployeeID, audit.ActionLateralMove, res, err)
}

// FlexAssign handles POST /employees/{id}/flex-assign.
func (h *EmployeeHandlers) FlexAssign(w http.ResponseWriter, r *http.Request) {
	var req reconcile.FlexAssignRequest
	if !decode(w, r, &req) {
		return
	}
	req.EmployeeID = r.PathValue("id")
	r, req.Actor = withActor(r, req.Actor)

	res, err := h.engine.FlexAssign(r.Context(), req)
	h.finish(w, r, req.EmployeeID, audit.ActionFlexAssign, res, err)
}

// FlexReturn handles POST /employees/{id}/flex-return. The body is optional.
func (h *EmployeeHandlers) FlexReturn(w http.ResponseWriter, r *http.Request) {
	var req reconcile.FlexReturnRequest
	if !decode(w, r, &req) {
		return
	}
	req.EmployeeID = r.PathValue("id")
	r, req.Actor = withActor(r, req.Actor)

	res, err := h.engine.FlexReturn(r.Context(), req)
	h.finish(w, r, req.EmployeeID, audit.ActionFlexReturn, res, err)
}

// Offboard handles POST /employees/{id}/offboard. The body is optional.
func (h *EmployeeHandlers) Offboard(w http.ResponseWriter, r *http.Request) {
	var req reconcile.OffboardRequest
	if !decode(w, r, &req) {
		return
	}
	req.EmployeeID = r.PathValue("id")
	r, req.Actor = withActor(r, req.Actor)

	res, err := h.engine.Offboard(r.Context(), req)
	h.finish(w, r, req.EmployeeID, audit.ActionOffboard, res, err)
}

// ManualAccess handles POST /employees/{id}/manual-access.
func (h *EmployeeHandlers) ManualAccess(w http.ResponseWriter, r *http.Request) {
	var req reconcile.ManualGrantRequest
	if !decode(w, r, &req) {
		return
	}
	req.EmployeeID = r.PathValue("id")
	r, req.Actor = withActor(r, req.Actor)

	res, err := h.engine.GrantManual(r.Context(), req)
	h.finish(w, r, req.EmployeeID, audit.ActionManualAccess, res, err)
}

// Revoke handles POST /employees/{id}/revoke.
func (h *EmployeeHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	var req reconcile.RevokeRequest
	if !decode(w, r, &req) {
		return
	}
	req.EmployeeID = r.PathValue("id")
	r, req.Actor = withActor(r, req.Actor)

	res, err := h.engine.RevokeAccess(r.Context(), req)
	h.finish(w, r, req.EmployeeID, audit.ActionRevokeAccess, res, err)
}

// Assign handles POST /employees/{id}/assign, applying the employee's
// reconciliation report. The body is optional.
func (h *EmployeeHandlers) Assign(w http.ResponseWriter, r *http.Request) {
	var req reconcile.ApplyReportRequest
	if !decode(w, r, &req) {
		return
	}
	req.EmployeeID = r.PathValue("id")
	r, req.Actor = withActor(r, req.Actor)

	res, err := h.engine.ApplyReport(r.Context(), req)
	h.finish(w, r, req.EmployeeID, audit.ActionApplyReport, res, err)
}

// Access handles GET /employees/{id}/access.
func (h *EmployeeHandlers) Access(w http.ResponseWriter, r *http.Request) {
	access, err := h.engine.EffectiveAccess(r.Context(), r.PathValue("id"))
	h.writeAccess(w, r, access, err)
}

// FlexAccess handles GET /employees/{id}/flex-access.
func (h *EmployeeHandlers) FlexAccess(w http.ResponseWriter, r *http.Request) {
	access, err := h.engine.FlexAccess(r.Context(), r.PathValue("id"))
	h.writeAccess(w, r, access, err)
}

// Revocable handles GET /employees/{id}/revocable.
func (h *EmployeeHandlers) Revocable(w http.ResponseWriter, r *http.Request) {
	access, err := h.engine.RevocableAccess(r.Context(), r.PathValue("id"))
	h.writeAccess(w, r, access, err)
}

// Report handles GET /employees/{id}/report.
func (h *EmployeeHandlers) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.Report(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// Events handles GET /employees/{id}/events, newest first.
func (h *EmployeeHandlers) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.engine.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if events == nil {
		events = []ledger.Event{}
	}
	writeJSON(w, r, http.StatusOK, events)
}

// DeleteCase handles DELETE /employees/{id}/cases/{case}. With an
// ?application= parameter only that application's event is removed.
func (h *EmployeeHandlers) DeleteCase(w http.ResponseWriter, r *http.Request) {
	employeeID := r.PathValue("id")
	caseID := r.PathValue("case")

	if app := r.URL.Query().Get("application"); app != "" {
		err := h.engine.DeleteEvent(r.Context(), employeeID, caseID, app)
		h.audit.record(r, audit.EntityEmployee, employeeID, audit.ActionDeleteEvent, err)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, DeleteResponse{Deleted: 1})
		return
	}

	n, err := h.engine.DeleteCase(r.Context(), employeeID, caseID)
	h.audit.record(r, audit.EntityEmployee, employeeID, audit.ActionDeleteCase, err)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, DeleteResponse{Deleted: n})
}

func (h *EmployeeHandlers) finish(w http.ResponseWriter, r *http.Request, employeeID, action string, res *reconcile.Result, err error) {
	h.audit.record(r, audit.EntityEmployee, employeeID, action, err)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if res.Events == nil {
		res.Events = []ledger.Event{}
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (h *EmployeeHandlers) writeAccess(w http.ResponseWriter, r *http.Request, access []projection.Access, err error) {
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if access == nil {
		access = []projection.Access{}
	}
	writeJSON(w, r, http.StatusOK, access)
}

// decode reads an optional JSON body into v. It writes a 400 response and
// returns false when the body is malformed.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, r, "Invalid JSON in request body")
		return false
	}
	return true
}

// withActor resolves the acting user. The X-Actor header wins over the
// actor named in the body; the result is stored on the request context so
// the audit trail sees it.
func withActor(r *http.Request, bodyActor string) (*http.Request, string) {
	if actor := middleware.GetActor(r.Context()); actor != "" {
		return r, actor
	}
	if bodyActor == "" {
		return r, ""
	}
	return r.WithContext(middleware.SetActor(r.Context(), bodyActor)), bodyActor
}

// auditTrail records HTTP-invoked mutations. A failed audit write is
// logged; the mutation it describes has already been committed.
type auditTrail struct {
	repo   audit.Repository
	logger *slog.Logger
}

func (a auditTrail) record(r *http.Request, entityType, entityID, action string, err error) {
	if a.repo == nil {
		return
	}
	outcome := audit.OutcomeSuccess
	if err != nil {
		outcome = audit.OutcomeFailure
	}
	if aerr := audit.LogActionFromRequest(r, a.repo, entityType, entityID, action, outcome); aerr != nil {
		a.logger.ErrorContext(r.Context(), "failed to record audit log",
			slog.String("entity_type", entityType),
			slog.String("entity_id", entityID),
			slog.String("action", action),
			slog.String("error", aerr.Error()))
	}
}
