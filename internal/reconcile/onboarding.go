package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/onnwee/accessrecon/internal/catalog"
	"github.com/onnwee/accessrecon/internal/directory"
	"github.com/onnwee/accessrecon/internal/ledger"
)

// OnboardRequest hires or re-hires an employee into a role.
type OnboardRequest struct {
	EmployeeID string `json:"employee_id"`
	Role       string `json:"role"`
	Unit       string `json:"unit"`
	SubUnit    string `json:"sub_unit,omitempty"`
	Actor      string `json:"actor"`
}

func (r OnboardRequest) validate() error {
	if err := required("role", trim(r.Role)); err != nil {
		return err
	}
	return required("unit", trim(r.Unit))
}

// Onboard activates the employee, fills empty position fields and requests
// one onboarding grant per distinct entitlement of the role. Entitlements
// differing only by sub-unit collapse into one grant. An empty catalog match
// fails the whole transition with ErrNoEntitlementsFound.
func (e *Engine) Onboard(ctx context.Context, req OnboardRequest) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	role, unit, subUnit := trim(req.Role), trim(req.Unit), trim(req.SubUnit)

	return e.run(ctx, TransitionOnboard, trim(req.EmployeeID), req.Actor, func(ctx context.Context, t *txn) error {
		active := true
		var noDate *time.Time
		update := directory.Update{Active: &active, InactivationDate: &noDate}
		if t.employee.Role == "" {
			update.Role = &role
		}
		if vacant(t.employee.Unit) {
			update.Unit = &unit
		}
		if vacant(t.employee.BaseUnit) {
			base := catalog.BaseUnit(unit)
			update.BaseUnit = &base
		}
		if err := t.updateEmployee(ctx, update); err != nil {
			return err
		}

		found, err := t.repos.Catalog.EntitlementsFor(ctx, catalog.Query{Role: role, Unit: unit, SubUnit: subUnit})
		if err != nil {
			return storeErr("lookup entitlements", err)
		}
		if len(found) == 0 {
			return fmt.Errorf("%w for role %q in unit %q", ErrNoEntitlementsFound, role, unit)
		}

		byKey := make(map[catalog.Key]catalog.Entitlement, len(found))
		keys := make([]catalog.Key, 0, len(found))
		for _, ent := range found {
			k := ent.Key()
			if _, ok := byKey[k]; !ok {
				byKey[k] = ent
			}
			keys = append(keys, k)
		}

		delta := ComputeDelta(keys, nil)
		for _, k := range delta.ToGrant {
			ent := byKey[k]
			if err := t.append(ctx, ledger.Event{
				Type:        ledger.Onboarding,
				Application: ent.Application,
				Unit:        unit,
				Role:        role,
				Description: "Grant access for " + ent.Application,
			}); err != nil {
				return err
			}
		}

		t.result.Message = summarize(
			fmt.Sprintf("Onboarding completed: %d access request(s) created for %s", len(t.result.Events), t.employee.ID),
			t.result)
		return nil
	})
}

// vacant reports whether a unit field is unset. An offboarded employee's
// sentinel unit counts as unset so a re-hire gets the new unit.
func vacant(unit string) bool {
	return unit == "" || unit == directory.OutOfUnit
}
