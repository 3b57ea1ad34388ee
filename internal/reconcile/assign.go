package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/onnwee/accessrecon/internal/catalog"
	"github.com/onnwee/accessrecon/internal/ledger"
	"github.com/onnwee/accessrecon/internal/projection"
)

// ApplyReportRequest applies an employee's reconciliation report.
type ApplyReportRequest struct {
	EmployeeID string `json:"employee_id"`
	Actor      string `json:"actor"`
}

// ApplyReport turns the employee's reconciliation report into ledger
// requests under one case: an onboarding grant for each application to grant
// and an offboarding revoke for each application to revoke. Kept and
// temporary access is left alone. It fails with ErrPendingEvents while any
// event of the employee is still pending, so the report it applies reflects
// settled access only.
func (e *Engine) ApplyReport(ctx context.Context, req ApplyReportRequest) (*Result, error) {
	return e.run(ctx, TransitionApplyReport, trim(req.EmployeeID), req.Actor, func(ctx context.Context, t *txn) error {
		events, err := t.events(ctx)
		if err != nil {
			return err
		}
		if n := countPending(events); n > 0 {
			return fmt.Errorf("%w: %d event(s) for %s must be settled first", ErrPendingEvents, n, t.employee.ID)
		}

		rep, err := buildReport(ctx, t.repos.Catalog, t.employee, events)
		if err != nil {
			return err
		}

		for _, app := range rep.ToGrant {
			if err := t.append(ctx, ledger.Event{
				Type:        ledger.Onboarding,
				Application: app,
				Unit:        t.employee.Unit,
				Role:        t.employee.Role,
				Description: "Grant access for " + app + " (reconciliation)",
			}); err != nil {
				return err
			}
		}

		held := make(map[string]projection.Access, len(rep.Held))
		for _, a := range rep.Held {
			held[a.Key()] = a
		}
		for _, app := range rep.ToRevoke {
			a := held[catalog.Normalize(app)]
			if err := t.append(ctx, ledger.Event{
				Type:        ledger.Offboarding,
				Application: app,
				Unit:        a.Unit,
				Role:        a.Role,
				Description: "Revoke access for " + app + " (reconciliation)",
			}); err != nil {
				return err
			}
		}

		if len(rep.ToGrant) == 0 && len(rep.ToRevoke) == 0 {
			t.result.Message = "Access already matches the position of " + t.employee.ID
			return nil
		}
		t.result.Message = summarize(fmt.Sprintf(
			"Reconciliation applied: granted %d [%s], revoked %d [%s]",
			len(rep.ToGrant), strings.Join(rep.ToGrant, ", "),
			len(rep.ToRevoke), strings.Join(rep.ToRevoke, ", ")), t.result)
		return nil
	})
}

func countPending(events []ledger.Event) int {
	n := 0
	for _, ev := range events {
		if ev.Status == ledger.Pending {
			n++
		}
	}
	return n
}
