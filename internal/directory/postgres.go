package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/accessrecon/internal/db"
	"github.com/onnwee/accessrecon/internal/tracing"
)

const employeeColumns = `id, full_name, email, role, unit, base_unit, active, hire_date,
	inactivation_date, created_at, updated_at`

// uniqueViolation is the Postgres SQLSTATE for unique constraint violations.
const uniqueViolation = "23505"

// PostgresRepository implements Repository against the employees table.
type PostgresRepository struct {
	db     db.DBTX
	logger *slog.Logger
}

// NewPostgresRepository creates a directory backed by conn.
func NewPostgresRepository(conn db.DBTX, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: conn, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row rowScanner) (*Employee, error) {
	var (
		e                  Employee
		hire, inactivation sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.FullName, &e.Email, &e.Role, &e.Unit, &e.BaseUnit, &e.Active,
		&hire, &inactivation, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if hire.Valid {
		e.HireDate = &hire.Time
	}
	if inactivation.Valid {
		e.InactivationDate = &inactivation.Time
	}
	return &e, nil
}

// Get returns the employee with the given ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (_ *Employee, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "employees", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	e, err := scanEmployee(r.db.QueryRowContext(ctx,
		`SELECT `+employeeColumns+` FROM employees WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrEmployeeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	return e, nil
}

// Create stores a new employee.
func (r *PostgresRepository) Create(ctx context.Context, e Employee) (_ *Employee, err error) {
	e.ID = strings.TrimSpace(e.ID)
	if e.ID == "" {
		return nil, ErrMissingEmployeeID
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "employees", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	query := `INSERT INTO employees (` + employeeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = r.db.ExecContext(ctx, query, e.ID, e.FullName, e.Email, e.Role, e.Unit, e.BaseUnit,
		e.Active, e.HireDate, e.InactivationDate, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, ErrDuplicateEmployee
		}
		return nil, fmt.Errorf("failed to insert employee: %w", err)
	}
	return &e, nil
}

// Update applies a partial update. The row is locked for the duration of the
// surrounding transaction.
func (r *PostgresRepository) Update(ctx context.Context, id string, u Update) (_ *Employee, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "employees", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	e, err := scanEmployee(r.db.QueryRowContext(ctx,
		`SELECT `+employeeColumns+` FROM employees WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, ErrEmployeeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load employee for update: %w", err)
	}

	u.apply(e)
	e.UpdatedAt = time.Now().UTC()

	query := `UPDATE employees
		SET full_name = $2, email = $3, role = $4, unit = $5, base_unit = $6, active = $7,
		    inactivation_date = $8, updated_at = $9
		WHERE id = $1`
	_, err = r.db.ExecContext(ctx, query, e.ID, e.FullName, e.Email, e.Role, e.Unit, e.BaseUnit,
		e.Active, e.InactivationDate, e.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update employee: %w", err)
	}
	return e, nil
}

// SetActive flips the active flag.
func (r *PostgresRepository) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.Update(ctx, id, Update{Active: &active})
	return err
}

// List returns every employee ordered by ID.
func (r *PostgresRepository) List(ctx context.Context) (_ []Employee, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "employees", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var out []Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Delete removes an employee.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "employees", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	res, err := r.db.ExecContext(ctx, `DELETE FROM employees WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete employee: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrEmployeeNotFound
	}
	return nil
}
