package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/onnwee/accessrecon/internal/catalog"
	"github.com/onnwee/accessrecon/internal/directory"
	"github.com/onnwee/accessrecon/internal/ledger"
	"github.com/onnwee/accessrecon/internal/projection"
	"github.com/onnwee/accessrecon/internal/store"
)

// Report is the read-only reconciliation of an employee's current position
// against the access they hold. Application lists use the catalog spelling
// for required applications and the ledger spelling for held ones.
type Report struct {
	EmployeeID string              `json:"employee_id"`
	Role       string              `json:"role"`
	Unit       string              `json:"unit"`
	Active     bool                `json:"active"`
	Required   []string            `json:"required"`
	Held       []projection.Access `json:"held"`
	ToGrant    []string            `json:"to_grant"`
	ToRevoke   []string            `json:"to_revoke"`
	Keep       []string            `json:"keep"`
	Temporary  []projection.Access `json:"temporary"`
	Summary    string              `json:"summary"`
}

// Report computes the grant, revoke and keep partition for the employee's
// current role and unit without writing anything. Held access is limited to
// catalog-governed onboarding and lateral movement grants, as in LateralMove.
func (e *Engine) Report(ctx context.Context, employeeID string) (*Report, error) {
	emp, events, err := e.load(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	return buildReport(ctx, e.store.Repos().Catalog, emp, events)
}

func buildReport(ctx context.Context, cat catalog.Repository, emp *directory.Employee, events []ledger.Event) (*Report, error) {
	rep := &Report{
		EmployeeID: emp.ID,
		Role:       emp.Role,
		Unit:       emp.Unit,
		Active:     emp.Active,
		Required:   []string{},
		ToGrant:    []string{},
		ToRevoke:   []string{},
		Keep:       []string{},
	}

	requiredApps := make(map[string]string)
	var requiredKeys []string
	if emp.Active && trim(emp.Role) != "" && trim(emp.Unit) != "" && emp.Unit != directory.OutOfUnit {
		found, err := cat.EntitlementsFor(ctx, catalog.Query{Role: emp.Role, Unit: emp.Unit})
		if err != nil {
			return nil, storeErr("lookup entitlements", err)
		}
		for _, ent := range found {
			k := catalog.Normalize(ent.Application)
			if _, ok := requiredApps[k]; !ok {
				requiredApps[k] = ent.Application
				rep.Required = append(rep.Required, ent.Application)
			}
			requiredKeys = append(requiredKeys, k)
		}
	}

	held, err := meshGoverned(ctx, cat, projection.EffectiveAccess(events, emp))
	if err != nil {
		return nil, err
	}
	heldApps := make(map[string]string, len(held))
	for _, a := range held {
		heldApps[a.Key()] = a.Application
	}
	rep.Held = nonNil(held)
	rep.Temporary = nonNil(projection.FlexStaffAccess(events))

	delta := ComputeDelta(requiredKeys, applicationKeys(held))
	for _, k := range delta.ToGrant {
		rep.ToGrant = append(rep.ToGrant, requiredApps[k])
	}
	for _, k := range delta.ToRevoke {
		rep.ToRevoke = append(rep.ToRevoke, heldApps[k])
	}
	for _, k := range delta.Keep {
		rep.Keep = append(rep.Keep, heldApps[k])
	}

	rep.Summary = fmt.Sprintf("%d required, %d held, %d to grant, %d to revoke, %d keep, %d temporary",
		len(rep.Required), len(rep.Held), len(rep.ToGrant), len(rep.ToRevoke), len(rep.Keep), len(rep.Temporary))
	return rep, nil
}

// EffectiveAccess returns the access the employee holds right now.
func (e *Engine) EffectiveAccess(ctx context.Context, employeeID string) ([]projection.Access, error) {
	emp, events, err := e.load(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	return projection.EffectiveAccess(events, emp), nil
}

// FlexAccess returns the flex grants in force for the employee.
func (e *Engine) FlexAccess(ctx context.Context, employeeID string) ([]projection.Access, error) {
	_, events, err := e.load(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	return projection.FlexStaffAccess(events), nil
}

// History returns the employee's events, newest first.
func (e *Engine) History(ctx context.Context, employeeID string) ([]ledger.Event, error) {
	_, events, err := e.load(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool { return events[j].Before(events[i]) })
	return events, nil
}

// CaseEvents returns the events of one case in insertion order.
func (e *Engine) CaseEvents(ctx context.Context, caseID string) ([]ledger.Event, error) {
	if err := required("case_id", trim(caseID)); err != nil {
		return nil, err
	}
	events, err := e.store.Repos().Ledger.ListByCase(ctx, trim(caseID))
	if err != nil {
		return nil, storeErr("list case events", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: case %s: %w", ErrNotFound, caseID, ledger.ErrCaseNotFound)
	}
	return events, nil
}

// UpdateStatus moves an event to a new status on behalf of the approval
// workflow or an administrator.
func (e *Engine) UpdateStatus(ctx context.Context, eventID int64, status ledger.Status) (*ledger.Event, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: "is not a known status"}
	}
	ev, err := e.store.Repos().Ledger.UpdateStatus(ctx, eventID, status, e.now())
	if errors.Is(err, ledger.ErrEventNotFound) {
		return nil, fmt.Errorf("%w: event %d: %w", ErrNotFound, eventID, err)
	}
	if err != nil {
		return nil, storeErr("update event status", err)
	}
	e.logger.InfoContext(ctx, "access event status updated",
		slog.Int64("event_id", ev.ID),
		slog.String("employee_id", ev.EmployeeID),
		slog.String("application", ev.Application),
		slog.String("status", ev.Status.String()))
	return ev, nil
}

// DeleteCase removes a whole case of the employee.
func (e *Engine) DeleteCase(ctx context.Context, employeeID, caseID string) (int, error) {
	if err := required("case_id", trim(caseID)); err != nil {
		return 0, err
	}
	var removed int
	err := e.admin(ctx, employeeID, "delete case", func(ctx context.Context, r store.Repos) error {
		n, err := r.Ledger.DeleteCase(ctx, trim(employeeID), trim(caseID))
		removed = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// DeleteEvent removes the event of a case for one application.
func (e *Engine) DeleteEvent(ctx context.Context, employeeID, caseID, application string) error {
	if err := required("case_id", trim(caseID)); err != nil {
		return err
	}
	if err := required("application", trim(application)); err != nil {
		return err
	}
	return e.admin(ctx, employeeID, "delete event", func(ctx context.Context, r store.Repos) error {
		return r.Ledger.DeleteEvent(ctx, trim(employeeID), trim(caseID), trim(application))
	})
}

// Stats returns ledger counts by type and status.
func (e *Engine) Stats(ctx context.Context) (ledger.Stats, error) {
	stats, err := e.store.Repos().Ledger.Stats(ctx)
	if err != nil {
		return ledger.Stats{}, storeErr("ledger stats", err)
	}
	return stats, nil
}

// SearchEvents returns the ledger events matching q, newest first.
func (e *Engine) SearchEvents(ctx context.Context, q ledger.Query) ([]ledger.Event, error) {
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return nil, &ValidationError{Field: "to", Reason: "must be after from"}
	}
	events, err := e.store.Repos().Ledger.Search(ctx, q)
	if err != nil {
		return nil, storeErr("search events", err)
	}
	if events == nil {
		events = []ledger.Event{}
	}
	return events, nil
}

// admin runs an administrative edit under the employee's lock and in one
// transaction. Missing employees, cases and events surface as ErrNotFound;
// validation and pending-event refusals pass through.
func (e *Engine) admin(ctx context.Context, employeeID, op string, fn func(ctx context.Context, r store.Repos) error) error {
	employeeID = trim(employeeID)
	if err := required("employee_id", employeeID); err != nil {
		return err
	}
	release, err := e.locker.Acquire(ctx, employeeID)
	if err != nil {
		return storeErr("acquire employee lock", err)
	}
	defer release()

	err = e.store.WithinTx(ctx, employeeID, fn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrCaseNotFound), errors.Is(err, ledger.ErrEventNotFound),
		errors.Is(err, directory.ErrEmployeeNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, ErrValidation), errors.Is(err, ErrPendingEvents):
		return err
	default:
		return storeErr(op, err)
	}
}

// load reads the employee and their events outside any transaction.
func (e *Engine) load(ctx context.Context, employeeID string) (*directory.Employee, []ledger.Event, error) {
	employeeID = trim(employeeID)
	if err := required("employee_id", employeeID); err != nil {
		return nil, nil, err
	}
	repos := e.store.Repos()
	emp, err := repos.Directory.Get(ctx, employeeID)
	if errors.Is(err, directory.ErrEmployeeNotFound) {
		return nil, nil, fmt.Errorf("%w: employee %s: %w", ErrNotFound, employeeID, err)
	}
	if err != nil {
		return nil, nil, storeErr("get employee", err)
	}
	events, err := repos.Ledger.ListByEmployee(ctx, employeeID)
	if err != nil {
		return nil, nil, storeErr("list events", err)
	}
	return emp, events, nil
}

func nonNil(a []projection.Access) []projection.Access {
	if a == nil {
		return []projection.Access{}
	}
	return a
}
