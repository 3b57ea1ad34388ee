package api

import (
	"net/http"
)

// RouterConfig holds the handler groups mounted by NewRouter. Nil groups are
// not mounted.
type RouterConfig struct {
	Employees    *EmployeeHandlers
	Ledger       *LedgerHandlers
	Entitlements *EntitlementHandlers
	Audit        *AuditHandlers
	Health       *HealthHandlers
	Metrics      http.Handler
}

// NewRouter registers every route on a new ServeMux. Method mismatches are
// answered with 405 by the mux.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	if h := cfg.Employees; h != nil {
		mux.HandleFunc("GET /employees", h.ListEmployees)
		mux.HandleFunc("POST /employees", h.CreateEmployee)
		mux.HandleFunc("GET /employees/{id}", h.GetEmployee)
		mux.HandleFunc("PATCH /employees/{id}", h.UpdateEmployee)
		mux.HandleFunc("DELETE /employees/{id}", h.DeleteEmployee)
		mux.HandleFunc("PUT /employees/{id}/status", h.SetStatus)
		mux.HandleFunc("POST /employees/{id}/onboard", h.Onboard)
		mux.HandleFunc("POST /employees/{id}/lateral-move", h.LateralMove)
		mux.HandleFunc("POST /employees/{id}/flex-assign", h.FlexAssign)
		mux.HandleFunc("POST /employees/{id}/flex-return", h.FlexReturn)
		mux.HandleFunc("POST /employees/{id}/offboard", h.Offboard)
		mux.HandleFunc("POST /employees/{id}/manual-access", h.ManualAccess)
		mux.HandleFunc("POST /employees/{id}/revoke", h.Revoke)
		mux.HandleFunc("POST /employees/{id}/assign", h.Assign)
		mux.HandleFunc("GET /employees/{id}/access", h.Access)
		mux.HandleFunc("GET /employees/{id}/flex-access", h.FlexAccess)
		mux.HandleFunc("GET /employees/{id}/report", h.Report)
		mux.HandleFunc("GET /employees/{id}/events", h.Events)
		mux.HandleFunc("GET /employees/{id}/revocable", h.Revocable)
		mux.HandleFunc("DELETE /employees/{id}/cases/{case}", h.DeleteCase)
		mux.HandleFunc("GET /headcount", h.Headcount)
	}

	if h := cfg.Ledger; h != nil {
		mux.HandleFunc("GET /events", h.SearchEvents)
		mux.HandleFunc("PATCH /events/{id}/status", h.UpdateEventStatus)
		mux.HandleFunc("GET /cases/{case}/tickets", h.CaseTickets)
		mux.HandleFunc("POST /cases/{case}/archive", h.ArchiveCase)
		mux.HandleFunc("GET /stats", h.Stats)
	}

	if h := cfg.Entitlements; h != nil {
		mux.HandleFunc("GET /entitlements", h.List)
		mux.HandleFunc("POST /entitlements", h.Create)
		mux.HandleFunc("DELETE /entitlements/{id}", h.Delete)
	}

	if h := cfg.Audit; h != nil {
		mux.HandleFunc("GET /audit/export", h.Export)
	}

	if h := cfg.Health; h != nil {
		mux.HandleFunc("GET /health", h.Health)
		mux.HandleFunc("GET /ready", h.Ready)
	}

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	return mux
}
