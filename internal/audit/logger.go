package audit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/onnwee/accessrecon/internal/middleware"
)

var (
	// ErrNilRepository is returned when a nil repository is passed to logging functions.
	ErrNilRepository = errors.New("audit repository cannot be nil")
	// ErrInvalidEntityType is returned for an empty or unknown entity type.
	ErrInvalidEntityType = errors.New("invalid entity type")
	// ErrInvalidEntityID is returned when an invalid entity ID is provided.
	ErrInvalidEntityID = errors.New("entity ID cannot be empty")
	// ErrInvalidAction is returned for an empty or unknown action.
	ErrInvalidAction = errors.New("invalid action")
)

// ValidEntityTypes defines the allowed entity types for audit logging.
var ValidEntityTypes = map[string]bool{
	EntityEmployee:    true,
	EntityEvent:       true,
	EntityEntitlement: true,
}

// ValidActions defines the allowed actions for audit logging.
var ValidActions = map[string]bool{
	ActionCreateEmployee:    true,
	ActionUpdateEmployee:    true,
	ActionEmployeeStatus:    true,
	ActionDeleteEmployee:    true,
	ActionApplyReport:       true,
	ActionOnboard:           true,
	ActionLateralMove:       true,
	ActionFlexAssign:        true,
	ActionFlexReturn:        true,
	ActionOffboard:          true,
	ActionManualAccess:      true,
	ActionRevokeAccess:      true,
	ActionUpdateEventStatus: true,
	ActionDeleteCase:        true,
	ActionDeleteEvent:       true,
	ActionArchiveCase:       true,
	ActionCreateEntitlement: true,
	ActionDeleteEntitlement: true,
}

func validateLogEntry(entityType, entityID, action string) error {
	if !ValidEntityTypes[entityType] {
		return ErrInvalidEntityType
	}
	if strings.TrimSpace(entityID) == "" {
		return ErrInvalidEntityID
	}
	if !ValidActions[action] {
		return ErrInvalidAction
	}
	return nil
}

// extractIPAddress extracts the client IP address from an HTTP request.
// It checks X-Forwarded-For, X-Real-IP, and RemoteAddr in that order and
// strips any port.
func extractIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return stripPort(first)
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return stripPort(xri)
	}
	return stripPort(r.RemoteAddr)
}

func stripPort(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}

// LogAction records an action performed by the actor in ctx.
//
// Logging is fail-closed: a storage failure is returned to the caller.
func LogAction(ctx context.Context, repo Repository, entityType, entityID, action, outcome string) error {
	if repo == nil {
		return ErrNilRepository
	}
	_, err := repo.LogAction(ctx, LogEntry{
		Actor:      middleware.GetActor(ctx),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Outcome:    outcome,
		RequestID:  middleware.GetRequestID(ctx),
	})
	return err
}

// LogActionFromRequest is LogAction with the client IP address and user agent
// of r attached.
func LogActionFromRequest(r *http.Request, repo Repository, entityType, entityID, action, outcome string) error {
	if repo == nil {
		return ErrNilRepository
	}
	ctx := r.Context()
	_, err := repo.LogAction(ctx, LogEntry{
		Actor:      middleware.GetActor(ctx),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Outcome:    outcome,
		RequestID:  middleware.GetRequestID(ctx),
		IPAddress:  extractIPAddress(r),
		UserAgent:  r.UserAgent(),
	})
	return err
}
