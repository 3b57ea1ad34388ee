package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/accessrecon/internal/catalog"
	"github.com/onnwee/accessrecon/internal/ledger"
	"github.com/onnwee/accessrecon/internal/projection"
)

// FlexAssignRequest lends an employee temporarily to another role and unit.
type FlexAssignRequest struct {
	EmployeeID   string `json:"employee_id"`
	TempRole     string `json:"temp_role"`
	TempUnit     string `json:"temp_unit"`
	DurationDays int    `json:"duration_days,omitempty"`
	Actor        string `json:"actor"`
}

func (r FlexAssignRequest) validate() error {
	if err := required("temp_role", trim(r.TempRole)); err != nil {
		return err
	}
	if err := required("temp_unit", trim(r.TempUnit)); err != nil {
		return err
	}
	if r.DurationDays < 0 {
		return &ValidationError{Field: "duration_days", Reason: "must not be negative"}
	}
	return nil
}

// FlexReturnRequest ends every temporary assignment of an employee.
type FlexReturnRequest struct {
	EmployeeID string `json:"employee_id"`
	Actor      string `json:"actor"`
}

// FlexAssign grants the temporary role's applications the employee does not
// already hold, permanently or temporarily. It never revokes and never
// touches the directory record.
func (e *Engine) FlexAssign(ctx context.Context, req FlexAssignRequest) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	role, unit := trim(req.TempRole), trim(req.TempUnit)

	return e.run(ctx, TransitionFlexAssign, trim(req.EmployeeID), req.Actor, func(ctx context.Context, t *txn) error {
		found, err := t.repos.Catalog.EntitlementsForFlexible(ctx, role, unit)
		if err != nil {
			return storeErr("lookup flexible entitlements", err)
		}
		apps := make(map[string]string, len(found))
		keys := make([]string, 0, len(found))
		for _, ent := range found {
			k := catalog.Normalize(ent.Application)
			if _, ok := apps[k]; !ok {
				apps[k] = ent.Application
			}
			keys = append(keys, k)
		}

		events, err := t.events(ctx)
		if err != nil {
			return err
		}
		held := applicationKeys(projection.EffectiveAccess(events, t.employee))
		held = append(held, applicationKeys(projection.FlexStaffAccess(events))...)

		delta := ComputeDelta(keys, held)

		var expires *time.Time
		if req.DurationDays > 0 {
			at := endOfDay(t.now).AddDate(0, 0, req.DurationDays)
			expires = &at
		}

		for _, k := range delta.ToGrant {
			app := apps[k]
			if err := t.append(ctx, ledger.Event{
				Type:        ledger.FlexStaff,
				Application: app,
				Unit:        unit,
				Role:        role,
				Description: fmt.Sprintf("Grant access for %s (flex staff - %s)", app, role),
				ExpiresAt:   expires,
			}); err != nil {
				return err
			}
		}

		covered := make([]string, 0, len(delta.Keep))
		for _, k := range delta.Keep {
			covered = append(covered, apps[k])
		}
		msg := fmt.Sprintf("Flex staff assignment completed: %d temporary access request(s) created", len(t.result.Events))
		if len(covered) > 0 {
			msg += fmt.Sprintf("; already held: %s", strings.Join(covered, ", "))
		}
		t.result.Message = summarize(msg, t.result)
		return nil
	})
}

// FlexReturn requests a flex_staff_return for every flex grant in force.
// Having nothing to return is not an error.
func (e *Engine) FlexReturn(ctx context.Context, req FlexReturnRequest) (*Result, error) {
	return e.run(ctx, TransitionFlexReturn, trim(req.EmployeeID), req.Actor, func(ctx context.Context, t *txn) error {
		events, err := t.events(ctx)
		if err != nil {
			return err
		}
		flex := projection.FlexStaffAccess(events)
		if len(flex) == 0 {
			t.result.Message = "No flex staff access to return for " + t.employee.ID
			return nil
		}
		if err := returnFlex(ctx, t, flex, "flex staff return"); err != nil {
			return err
		}
		t.result.Message = summarize(
			fmt.Sprintf("Flex staff return completed: %d access revoke(s) created", len(t.result.Events)),
			t.result)
		return nil
	})
}

func returnFlex(ctx context.Context, t *txn, accesses []projection.Access, reason string) error {
	for _, a := range accesses {
		if err := t.append(ctx, ledger.Event{
			Type:        ledger.FlexStaffReturn,
			Application: a.Application,
			Unit:        a.Unit,
			Role:        a.Role,
			Description: fmt.Sprintf("Revoke access for %s (%s)", a.Application, reason),
		}); err != nil {
			return err
		}
	}
	return nil
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}
