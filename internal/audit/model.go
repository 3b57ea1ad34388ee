// Package audit records who changed what through the HTTP surface, for
// compliance review of access decisions.
package audit

import (
	"time"
)

// Outcomes of an audited action.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Entity types.
const (
	EntityEmployee    = "employee"
	EntityEvent       = "event"
	EntityEntitlement = "entitlement"
)

// Actions.
const (
	ActionCreateEmployee    = "create_employee"
	ActionUpdateEmployee    = "update_employee"
	ActionEmployeeStatus    = "set_employee_status"
	ActionDeleteEmployee    = "delete_employee"
	ActionApplyReport       = "apply_report"
	ActionOnboard           = "onboard"
	ActionLateralMove       = "lateral_move"
	ActionFlexAssign        = "flex_assign"
	ActionFlexReturn        = "flex_return"
	ActionOffboard          = "offboard"
	ActionManualAccess      = "manual_access"
	ActionRevokeAccess      = "revoke_access"
	ActionUpdateEventStatus = "update_event_status"
	ActionDeleteCase        = "delete_case"
	ActionDeleteEvent       = "delete_event"
	ActionArchiveCase       = "archive_case"
	ActionCreateEntitlement = "create_entitlement"
	ActionDeleteEntitlement = "delete_entitlement"
)

// AuditLog represents a single audit event in the system.
type AuditLog struct {
	ID         string
	Actor      string
	EntityType string
	EntityID   string
	Action     string
	Outcome    string
	CreatedAt  time.Time

	// Optional metadata
	RequestID string
	IPAddress string // anonymized before storage
	UserAgent string
}

// LogEntry represents the input for creating an audit log entry.
type LogEntry struct {
	Actor      string
	EntityType string
	EntityID   string
	Action     string
	Outcome    string // defaults to OutcomeSuccess

	RequestID string
	IPAddress string
	UserAgent string
}
