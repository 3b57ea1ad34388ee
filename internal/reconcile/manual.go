package reconcile

import (
	"context"
	"fmt"

	"github.com/onnwee/accessrecon/internal/catalog"
	"github.com/onnwee/accessrecon/internal/directory"
	"github.com/onnwee/accessrecon/internal/ledger"
	"github.com/onnwee/accessrecon/internal/projection"
)

// ManualGrantRequest grants one application outside the catalog.
type ManualGrantRequest struct {
	EmployeeID  string `json:"employee_id"`
	Application string `json:"application"`
	Description string `json:"description,omitempty"`
	Actor       string `json:"actor"`
}

// RevokeRequest revokes one flex or manual access.
type RevokeRequest struct {
	EmployeeID  string `json:"employee_id"`
	Application string `json:"application"`
	Actor       string `json:"actor"`
}

// GrantManual requests a manual access grant. The grant is tagged with the
// employee's current unit and role.
func (e *Engine) GrantManual(ctx context.Context, req ManualGrantRequest) (*Result, error) {
	app := trim(req.Application)
	if err := required("application", app); err != nil {
		return nil, err
	}

	return e.run(ctx, TransitionManualGrant, trim(req.EmployeeID), req.Actor, func(ctx context.Context, t *txn) error {
		desc := trim(req.Description)
		if desc == "" {
			desc = fmt.Sprintf("Grant access for %s (manual access)", app)
		}
		if err := t.append(ctx, ledger.Event{
			Type:        ledger.ManualAccess,
			Application: app,
			Unit:        t.employee.Unit,
			Role:        t.employee.Role,
			Description: desc,
		}); err != nil {
			return err
		}
		if len(t.result.Events) == 0 {
			t.result.Message = summarize("Manual access not requested", t.result)
		} else {
			t.result.Message = fmt.Sprintf("Manual access requested: %s for %s", app, t.employee.ID)
		}
		return nil
	})
}

// RevokeAccess revokes a single flex or manual access currently held. Flex
// grants are returned with flex_staff_return; manual grants are revoked with
// offboarding. Permanent accesses are only revoked by lateral movement or
// offboarding, so asking for one fails with ErrAccessNotHeld.
func (e *Engine) RevokeAccess(ctx context.Context, req RevokeRequest) (*Result, error) {
	app := trim(req.Application)
	if err := required("application", app); err != nil {
		return nil, err
	}
	key := catalog.Normalize(app)

	return e.run(ctx, TransitionRevoke, trim(req.EmployeeID), req.Actor, func(ctx context.Context, t *txn) error {
		events, err := t.events(ctx)
		if err != nil {
			return err
		}

		var target *projection.Access
		for _, a := range revocable(events, t.employee) {
			if a.Key() == key {
				target = &a
				break
			}
		}
		if target == nil {
			return fmt.Errorf("%w: %s for employee %s", ErrAccessNotHeld, app, t.employee.ID)
		}

		ev := ledger.Event{
			Application: target.Application,
			Unit:        target.Unit,
			Role:        target.Role,
		}
		switch target.Type {
		case ledger.FlexStaff:
			ev.Type = ledger.FlexStaffReturn
			ev.Description = fmt.Sprintf("Revoke access for %s (flex staff return)", target.Application)
		case ledger.ManualAccess:
			ev.Type = ledger.Offboarding
			ev.Description = fmt.Sprintf("Revoke access for %s (manual access revoke)", target.Application)
		case ledger.Onboarding, ledger.LateralMovement, ledger.FlexStaffReturn, ledger.Offboarding:
			return fmt.Errorf("%w: %s is %s access", ErrAccessNotHeld, app, target.Type)
		}
		if err := t.append(ctx, ev); err != nil {
			return err
		}

		t.result.Message = summarize(
			fmt.Sprintf("Revoke requested: %s (%s) for %s", target.Application, target.Type, t.employee.ID),
			t.result)
		return nil
	})
}

// RevocableAccess lists the flex and manual accesses an employee holds.
func (e *Engine) RevocableAccess(ctx context.Context, employeeID string) ([]projection.Access, error) {
	emp, events, err := e.load(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	return revocable(events, emp), nil
}

// revocable merges the surfaced manual grants with the flex grants in force.
func revocable(events []ledger.Event, employee *directory.Employee) []projection.Access {
	out := projection.Filter(projection.EffectiveAccess(events, employee), ledger.ManualAccess)
	return append(out, projection.FlexStaffAccess(events)...)
}
