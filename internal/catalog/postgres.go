package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/accessrecon/internal/db"
	"github.com/onnwee/accessrecon/internal/tracing"
)

const entitlementColumns = `id, unit, sub_unit, role, title, application, system_owner, criticality,
	access_status, description, ticket_email, created_at`

// PostgresRepository implements Repository against the entitlements table.
// Comparison keys are stored alongside the raw values so lookups use the
// same normalization as Normalize.
type PostgresRepository struct {
	db     db.DBTX
	logger *slog.Logger
}

// NewPostgresRepository creates a catalog backed by conn.
func NewPostgresRepository(conn db.DBTX, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: conn, logger: logger}
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) (out []Entitlement, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "entitlements", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entitlements: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entitlement
		if err := rows.Scan(&e.ID, &e.Unit, &e.SubUnit, &e.Role, &e.Title, &e.Application,
			&e.SystemOwner, &e.Criticality, &e.AccessStatus, &e.Description, &e.TicketEmail,
			&e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entitlement: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entitlements: %w", err)
	}
	return out, nil
}

// EntitlementsFor returns entitlements matching the query.
func (r *PostgresRepository) EntitlementsFor(ctx context.Context, q Query) ([]Entitlement, error) {
	if Normalize(q.Role) == "" {
		return nil, ErrMissingRole
	}
	if Normalize(q.Unit) == "" {
		return nil, ErrMissingUnit
	}

	query := `SELECT ` + entitlementColumns + ` FROM entitlements
		WHERE role_key = $1 AND unit_key = $2
		  AND ($3 = '' OR sub_unit_key = $3)
		  AND ($4 = '' OR title_key = $4)
		ORDER BY id`
	return r.query(ctx, query, Normalize(q.Role), Normalize(q.Unit), Normalize(q.SubUnit), Normalize(q.Title))
}

// EntitlementsForFlexible matches role and full unit without a sub-unit filter.
func (r *PostgresRepository) EntitlementsForFlexible(ctx context.Context, role, unit string) ([]Entitlement, error) {
	return r.EntitlementsFor(ctx, Query{Role: role, Unit: unit})
}

// ApplicationStatus returns the recorded access status for the application.
func (r *PostgresRepository) ApplicationStatus(ctx context.Context, application string) (string, bool, error) {
	query := `SELECT COALESCE(
			(SELECT access_status FROM entitlements
			 WHERE application_key = $1 AND TRIM(access_status) <> ''
			 ORDER BY id LIMIT 1), ''),
		EXISTS (SELECT 1 FROM entitlements WHERE application_key = $1)`

	var (
		status string
		found  bool
	)
	if err := r.db.QueryRowContext(ctx, query, Normalize(application)).Scan(&status, &found); err != nil {
		return "", false, fmt.Errorf("failed to get application status: %w", err)
	}
	return status, found, nil
}

// Create stores a new entitlement.
func (r *PostgresRepository) Create(ctx context.Context, e Entitlement) (_ *Entitlement, err error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "entitlements", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO entitlements (unit, sub_unit, role, title, application, system_owner,
			criticality, access_status, description, ticket_email, created_at,
			unit_key, sub_unit_key, role_key, title_key, application_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`
	err = r.db.QueryRowContext(ctx, query,
		e.Unit, e.SubUnit, e.Role, e.Title, e.Application, e.SystemOwner,
		e.Criticality, e.AccessStatus, e.Description, e.TicketEmail, e.CreatedAt,
		Normalize(e.Unit), Normalize(e.SubUnit), Normalize(e.Role), Normalize(e.Title), Normalize(e.Application),
	).Scan(&e.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert entitlement: %w", err)
	}
	return &e, nil
}

// List returns every entitlement ordered by ID.
func (r *PostgresRepository) List(ctx context.Context) ([]Entitlement, error) {
	return r.query(ctx, `SELECT `+entitlementColumns+` FROM entitlements ORDER BY id`)
}

// Delete removes an entitlement by ID.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "entitlements", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	res, err := r.db.ExecContext(ctx, `DELETE FROM entitlements WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entitlement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrEntitlementNotFound
	}
	return nil
}
