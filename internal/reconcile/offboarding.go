package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/onnwee/accessrecon/internal/catalog"
	"github.com/onnwee/accessrecon/internal/directory"
	"github.com/onnwee/accessrecon/internal/ledger"
	"github.com/onnwee/accessrecon/internal/projection"
)

// OffboardRequest tears down all of an employee's access.
type OffboardRequest struct {
	EmployeeID string `json:"employee_id"`
	Actor      string `json:"actor"`
}

var offboardReasons = map[ledger.EventType]string{
	ledger.Onboarding:      "offboarding",
	ledger.LateralMovement: "offboarding - lateral movement access",
	ledger.FlexStaff:       "offboarding - flex staff access",
	ledger.ManualAccess:    "offboarding - manual access",
}

// Offboard requests one revoke per granted application not already covered
// by an earlier revoke, skipping applications the catalog marks inactive.
// The employee is deactivated and moved out of the unit. A second call finds
// nothing left to revoke.
func (e *Engine) Offboard(ctx context.Context, req OffboardRequest) (*Result, error) {
	return e.run(ctx, TransitionOffboard, trim(req.EmployeeID), req.Actor, func(ctx context.Context, t *txn) error {
		events, err := t.events(ctx)
		if err != nil {
			return err
		}

		counts := make(map[ledger.EventType]int)
		for _, a := range projection.OffboardingCandidates(events) {
			status, found, err := t.repos.Catalog.ApplicationStatus(ctx, a.Application)
			if err != nil {
				return storeErr("get application status", err)
			}
			if found && !catalog.IsActiveStatus(status) {
				t.result.Skipped = append(t.result.Skipped, a.Application)
				continue
			}
			if err := t.append(ctx, ledger.Event{
				Type:        ledger.Offboarding,
				Application: a.Application,
				Unit:        a.Unit,
				Role:        a.Role,
				Description: fmt.Sprintf("Revoke access for %s (%s)", a.Application, offboardReasons[a.Type]),
			}); err != nil {
				return err
			}
			counts[a.Type]++
		}

		active := false
		out := directory.OutOfUnit
		y, m, d := t.now.Date()
		today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		inactivated := &today
		if err := t.updateEmployee(ctx, directory.Update{
			Active:           &active,
			InactivationDate: &inactivated,
			Unit:             &out,
			BaseUnit:         &out,
		}); err != nil {
			return err
		}

		t.result.Message = summarize(offboardMessage(t.employee.ID, counts, t.result.Skipped), t.result)
		return nil
	})
}

func offboardMessage(employeeID string, counts map[ledger.EventType]int, skipped []string) string {
	total := 0
	var parts []string
	for _, typ := range ledger.EventTypes {
		if n := counts[typ]; n > 0 {
			total += n
			parts = append(parts, fmt.Sprintf("%s: %d", typ, n))
		}
	}
	sort.Strings(parts)

	msg := fmt.Sprintf("Offboarding completed for %s: %d access revoke(s) created", employeeID, total)
	if len(parts) > 0 {
		msg += " (" + strings.Join(parts, ", ") + ")"
	}
	if len(skipped) > 0 {
		msg += "; skipped inactive applications: " + strings.Join(skipped, ", ")
	}
	return msg
}
