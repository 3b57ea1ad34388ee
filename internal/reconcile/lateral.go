package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/onnwee/accessrecon/internal/catalog"
	"github.com/onnwee/accessrecon/internal/directory"
	"github.com/onnwee/accessrecon/internal/ledger"
	"github.com/onnwee/accessrecon/internal/projection"
)

// LateralMoveRequest moves an employee to a new role or unit.
type LateralMoveRequest struct {
	EmployeeID string `json:"employee_id"`
	NewRole    string `json:"new_role"`
	NewUnit    string `json:"new_unit"`
	NewSubUnit string `json:"new_sub_unit,omitempty"`
	Actor      string `json:"actor"`
}

func (r LateralMoveRequest) validate() error {
	if err := required("new_role", trim(r.NewRole)); err != nil {
		return err
	}
	return required("new_unit", trim(r.NewUnit))
}

// LateralMove reconciles the employee's permanent access against the new
// position. Only catalog-governed onboarding and lateral movement accesses
// take part; flex and manual accesses are left alone. Held applications the
// new position does not require are revoked with offboarding events, and
// required applications not held are granted with lateral movement events.
// Accesses are matched on the normalized application name.
func (e *Engine) LateralMove(ctx context.Context, req LateralMoveRequest) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	role, unit, subUnit := trim(req.NewRole), trim(req.NewUnit), trim(req.NewSubUnit)

	return e.run(ctx, TransitionLateralMove, trim(req.EmployeeID), req.Actor, func(ctx context.Context, t *txn) error {
		found, err := t.repos.Catalog.EntitlementsFor(ctx, catalog.Query{Role: role, Unit: unit, SubUnit: subUnit})
		if err != nil {
			return storeErr("lookup entitlements", err)
		}
		requiredApps := make(map[string]catalog.Entitlement)
		requiredKeys := make([]string, 0, len(found))
		for _, ent := range catalog.Dedupe(found) {
			k := catalog.Normalize(ent.Application)
			if _, ok := requiredApps[k]; !ok {
				requiredApps[k] = ent
			}
			requiredKeys = append(requiredKeys, k)
		}

		events, err := t.events(ctx)
		if err != nil {
			return err
		}
		held, err := meshGoverned(ctx, t.repos.Catalog, projection.EffectiveAccess(events, t.employee))
		if err != nil {
			return err
		}
		heldApps := make(map[string]projection.Access, len(held))
		for _, a := range held {
			heldApps[a.Key()] = a
		}

		delta := ComputeDelta(requiredKeys, applicationKeys(held))

		revoked := make([]string, 0, len(delta.ToRevoke))
		for _, k := range delta.ToRevoke {
			a := heldApps[k]
			if err := t.append(ctx, ledger.Event{
				Type:        ledger.Offboarding,
				Application: a.Application,
				Unit:        a.Unit,
				Role:        a.Role,
				Description: "Revoke access for " + a.Application + " (lateral movement - position change)",
			}); err != nil {
				return err
			}
			revoked = append(revoked, a.Application)
		}

		granted := make([]string, 0, len(delta.ToGrant))
		for _, k := range delta.ToGrant {
			ent := requiredApps[k]
			if err := t.append(ctx, ledger.Event{
				Type:        ledger.LateralMovement,
				Application: ent.Application,
				Unit:        unit,
				Role:        role,
				Description: "Grant access for " + ent.Application + " (lateral movement)",
			}); err != nil {
				return err
			}
			granted = append(granted, ent.Application)
		}

		kept := make([]string, 0, len(delta.Keep))
		for _, k := range delta.Keep {
			kept = append(kept, heldApps[k].Application)
		}

		base := catalog.BaseUnit(unit)
		if err := t.updateEmployee(ctx, directory.Update{Role: &role, Unit: &unit, BaseUnit: &base}); err != nil {
			return err
		}

		t.result.Message = summarize(fmt.Sprintf(
			"Lateral movement completed: kept %d [%s], revoked %d [%s], granted %d [%s]",
			len(kept), strings.Join(kept, ", "),
			len(revoked), strings.Join(revoked, ", "),
			len(granted), strings.Join(granted, ", ")), t.result)
		return nil
	})
}
