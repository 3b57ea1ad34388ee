package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/accessrecon/internal/catalog"
	"github.com/onnwee/accessrecon/internal/directory"
	"github.com/onnwee/accessrecon/internal/store"
)

// CreateEmployee adds an employee to the directory. New employees start
// inactive until onboarded unless Active is set.
func (e *Engine) CreateEmployee(ctx context.Context, emp directory.Employee) (*directory.Employee, error) {
	emp.ID = trim(emp.ID)
	if err := required("employee_id", emp.ID); err != nil {
		return nil, err
	}
	if emp.BaseUnit == "" {
		emp.BaseUnit = catalog.BaseUnit(emp.Unit)
	}
	created, err := e.store.Repos().Directory.Create(ctx, emp)
	if errors.Is(err, directory.ErrDuplicateEmployee) {
		return nil, err
	}
	if err != nil {
		return nil, storeErr("create employee", err)
	}
	e.logger.InfoContext(ctx, "employee created", slog.String("employee_id", created.ID))
	return created, nil
}

// Employee returns the directory record of the employee.
func (e *Engine) Employee(ctx context.Context, employeeID string) (*directory.Employee, error) {
	emp, _, err := e.load(ctx, employeeID)
	return emp, err
}

// ListEmployees returns the directory ordered by ID, optionally only the
// active employees.
func (e *Engine) ListEmployees(ctx context.Context, activeOnly bool) ([]directory.Employee, error) {
	all, err := e.store.Repos().Directory.List(ctx)
	if err != nil {
		return nil, storeErr("list employees", err)
	}
	out := make([]directory.Employee, 0, len(all))
	for _, emp := range all {
		if activeOnly && !emp.Active {
			continue
		}
		out = append(out, emp)
	}
	return out, nil
}

// Headcount summarizes the directory by unit and by position.
func (e *Engine) Headcount(ctx context.Context) (directory.Headcount, error) {
	all, err := e.store.Repos().Directory.List(ctx)
	if err != nil {
		return directory.Headcount{}, storeErr("list employees", err)
	}
	return directory.CountHeadcount(all), nil
}

// EmployeeUpdate edits an employee's profile. Role and unit change only
// through onboarding and lateral movement, which reconcile access.
type EmployeeUpdate struct {
	FullName *string `json:"full_name,omitempty"`
	Email    *string `json:"email,omitempty"`
}

// UpdateEmployee applies a profile update.
func (e *Engine) UpdateEmployee(ctx context.Context, employeeID string, u EmployeeUpdate) (*directory.Employee, error) {
	if u.FullName == nil && u.Email == nil {
		return nil, &ValidationError{Field: "update", Reason: "names no field to change"}
	}
	update := directory.Update{}
	if u.FullName != nil {
		name := trim(*u.FullName)
		update.FullName = &name
	}
	if u.Email != nil {
		email := trim(*u.Email)
		update.Email = &email
	}

	var updated *directory.Employee
	err := e.admin(ctx, employeeID, "update employee", func(ctx context.Context, r store.Repos) error {
		var err error
		updated, err = r.Directory.Update(ctx, trim(employeeID), update)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "employee updated", slog.String("employee_id", updated.ID))
	return updated, nil
}

// SetEmployeeActive flips the active flag outside any lifecycle transition.
// Deactivating stamps the inactivation date and activating clears it. No
// access is granted or revoked.
func (e *Engine) SetEmployeeActive(ctx context.Context, employeeID string, active bool) (*directory.Employee, error) {
	var updated *directory.Employee
	err := e.admin(ctx, employeeID, "set employee status", func(ctx context.Context, r store.Repos) error {
		id := trim(employeeID)
		if err := r.Directory.SetActive(ctx, id, active); err != nil {
			return err
		}
		var date *time.Time
		if !active {
			now := e.now()
			date = &now
		}
		var err error
		updated, err = r.Directory.Update(ctx, id, directory.Update{InactivationDate: &date})
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "employee status changed",
		slog.String("employee_id", updated.ID),
		slog.Bool("active", updated.Active))
	return updated, nil
}

// DeleteEmployee removes the directory record. The employee's ledger history
// is kept. It fails with ErrPendingEvents while a request of the employee is
// still pending.
func (e *Engine) DeleteEmployee(ctx context.Context, employeeID string) error {
	id := trim(employeeID)
	err := e.admin(ctx, id, "delete employee", func(ctx context.Context, r store.Repos) error {
		events, err := r.Ledger.ListByEmployee(ctx, id)
		if err != nil {
			return err
		}
		if n := countPending(events); n > 0 {
			return fmt.Errorf("%w: %d event(s) for %s must be settled first", ErrPendingEvents, n, id)
		}
		return r.Directory.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "employee deleted", slog.String("employee_id", id))
	return nil
}

// CreateEntitlement adds a catalog row.
func (e *Engine) CreateEntitlement(ctx context.Context, ent catalog.Entitlement) (*catalog.Entitlement, error) {
	if err := ent.Validate(); err != nil {
		return nil, entitlementValidation(err)
	}
	created, err := e.store.Repos().Catalog.Create(ctx, ent)
	if err != nil {
		return nil, storeErr("create entitlement", err)
	}
	e.logger.InfoContext(ctx, "entitlement created",
		slog.Int64("entitlement_id", created.ID),
		slog.String("unit", created.Unit),
		slog.String("role", created.Role),
		slog.String("application", created.Application))
	return created, nil
}

// Entitlements lists the catalog.
func (e *Engine) Entitlements(ctx context.Context) ([]catalog.Entitlement, error) {
	rows, err := e.store.Repos().Catalog.List(ctx)
	if err != nil {
		return nil, storeErr("list entitlements", err)
	}
	if rows == nil {
		rows = []catalog.Entitlement{}
	}
	return rows, nil
}

// DeleteEntitlement removes a catalog row. Rows whose application appears in
// the ledger are kept so that history stays explainable, and the call fails
// with catalog.ErrApplicationInUse.
func (e *Engine) DeleteEntitlement(ctx context.Context, id int64) error {
	err := e.store.WithinTx(ctx, "", func(ctx context.Context, r store.Repos) error {
		rows, err := r.Catalog.List(ctx)
		if err != nil {
			return err
		}
		var target *catalog.Entitlement
		for i := range rows {
			if rows[i].ID == id {
				target = &rows[i]
				break
			}
		}
		if target == nil {
			return catalog.ErrEntitlementNotFound
		}
		n, err := r.Ledger.CountByApplication(ctx, target.Application)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s referenced by %d event(s)", catalog.ErrApplicationInUse, target.Application, n)
		}
		return r.Catalog.Delete(ctx, id)
	})
	switch {
	case errors.Is(err, catalog.ErrEntitlementNotFound):
		return fmt.Errorf("%w: entitlement %d: %w", ErrNotFound, id, err)
	case errors.Is(err, catalog.ErrApplicationInUse):
		return err
	case err != nil:
		return storeErr("delete entitlement", err)
	}
	e.logger.InfoContext(ctx, "entitlement deleted", slog.Int64("entitlement_id", id))
	return nil
}

func entitlementValidation(err error) error {
	switch {
	case errors.Is(err, catalog.ErrMissingRole):
		return &ValidationError{Field: "role"}
	case errors.Is(err, catalog.ErrMissingUnit):
		return &ValidationError{Field: "unit"}
	case errors.Is(err, catalog.ErrMissingApplication):
		return &ValidationError{Field: "application"}
	default:
		return &ValidationError{Field: "entitlement", Reason: err.Error()}
	}
}
