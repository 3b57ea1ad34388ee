package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/accessrecon/internal/catalog"
	"github.com/onnwee/accessrecon/internal/db"
	"github.com/onnwee/accessrecon/internal/tracing"
)

const eventColumns = `id, employee_id, employee_email, case_id, event_type, application, unit, role,
	description, status, actor, created_at, app_closed_at, ticket_closed_at, expires_at`

// PostgresRepository implements Repository against the access_events table.
type PostgresRepository struct {
	db     db.DBTX
	logger *slog.Logger
}

// NewPostgresRepository creates a ledger backed by conn, which may be a
// *sql.DB or a *sql.Tx.
func NewPostgresRepository(conn db.DBTX, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: conn, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var (
		e                                Event
		appClosed, ticketClosed, expires sql.NullTime
	)
	err := row.Scan(&e.ID, &e.EmployeeID, &e.EmployeeEmail, &e.CaseID, &e.Type, &e.Application,
		&e.Unit, &e.Role, &e.Description, &e.Status, &e.Actor, &e.CreatedAt,
		&appClosed, &ticketClosed, &expires)
	if err != nil {
		return Event{}, err
	}
	if appClosed.Valid {
		e.AppClosedAt = &appClosed.Time
	}
	if ticketClosed.Valid {
		e.TicketClosedAt = &ticketClosed.Time
	}
	if expires.Valid {
		e.ExpiresAt = &expires.Time
	}
	return e, nil
}

func (r *PostgresRepository) queryEvents(ctx context.Context, query string, args ...any) (events []Event, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "access_events", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query access events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate access events: %w", err)
	}
	return events, nil
}

// Append records a new event, absorbing duplicate pending requests.
// The pending check and insert are not atomic against a concurrent writer;
// callers serialize transitions per employee.
func (r *PostgresRepository) Append(ctx context.Context, event Event) (result AppendResult, err error) {
	if !event.Type.Valid() {
		return AppendResult{}, ErrInvalidEventType
	}
	if event.Status == 0 {
		event.Status = Pending
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "access_events", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	if event.Type != Offboarding {
		query := `SELECT ` + eventColumns + ` FROM access_events
			WHERE employee_id = $1 AND status = $2 AND application_key = $3
			ORDER BY id LIMIT 1`
		existing, err := scanEvent(r.db.QueryRowContext(ctx, query, event.EmployeeID, Pending, catalog.Normalize(event.Application)))
		if err == nil {
			r.logger.Debug("pending access event absorbed duplicate append",
				slog.String("employee_id", event.EmployeeID),
				slog.String("application", event.Application),
				slog.Int64("existing_id", existing.ID))
			return AppendResult{Event: existing, Inserted: false}, nil
		}
		if err != sql.ErrNoRows {
			return AppendResult{}, fmt.Errorf("failed to check pending access events: %w", err)
		}
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO access_events (employee_id, employee_email, case_id, event_type, application,
			application_key, unit, role, description, status, actor, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`
	err = r.db.QueryRowContext(ctx, query,
		event.EmployeeID, event.EmployeeEmail, event.CaseID, event.Type, event.Application,
		catalog.Normalize(event.Application), event.Unit, event.Role, event.Description,
		event.Status, event.Actor, event.CreatedAt, event.ExpiresAt,
	).Scan(&event.ID)
	if err != nil {
		return AppendResult{}, fmt.Errorf("failed to insert access event: %w", err)
	}
	return AppendResult{Event: event, Inserted: true}, nil
}

// ListByEmployee returns every event for the employee in insertion order.
func (r *PostgresRepository) ListByEmployee(ctx context.Context, employeeID string) ([]Event, error) {
	return r.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM access_events WHERE employee_id = $1 ORDER BY id`, employeeID)
}

// ListByCase returns the events of one case in insertion order.
func (r *PostgresRepository) ListByCase(ctx context.Context, caseID string) ([]Event, error) {
	return r.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM access_events WHERE case_id = $1 ORDER BY id`, caseID)
}

// Get returns a single event by ID.
func (r *PostgresRepository) Get(ctx context.Context, id int64) (*Event, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM access_events WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access event: %w", err)
	}
	return &e, nil
}

// UpdateStatus moves an event to a new status.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) (_ *Event, err error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "access_events", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	query := `UPDATE access_events
		SET status = $2,
		    app_closed_at = CASE WHEN $3 THEN $4 ELSE app_closed_at END
		WHERE id = $1
		RETURNING ` + eventColumns
	e, err := scanEvent(r.db.QueryRowContext(ctx, query, id, status, status == ClosedCompleted, at))
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update access event status: %w", err)
	}
	return &e, nil
}

// DeleteCase removes every event of a case belonging to the employee.
func (r *PostgresRepository) DeleteCase(ctx context.Context, employeeID, caseID string) (_ int, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "access_events", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM access_events WHERE employee_id = $1 AND case_id = $2`, employeeID, caseID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete case: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return 0, ErrCaseNotFound
	}
	return int(n), nil
}

// DeleteEvent removes the single event of a case for one application.
func (r *PostgresRepository) DeleteEvent(ctx context.Context, employeeID, caseID, application string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "access_events", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	query := `DELETE FROM access_events WHERE id = (
			SELECT id FROM access_events
			WHERE employee_id = $1 AND case_id = $2 AND application_key = $3
			ORDER BY id LIMIT 1)`
	res, err := r.db.ExecContext(ctx, query, employeeID, caseID, catalog.Normalize(application))
	if err != nil {
		return fmt.Errorf("failed to delete access event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrEventNotFound
	}
	return nil
}

// EmployeesWithExpiredFlex returns the employees holding an expired flex grant.
func (r *PostgresRepository) EmployeesWithExpiredFlex(ctx context.Context, now time.Time) (_ []string, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "access_events", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT DISTINCT employee_id FROM access_events
		WHERE event_type = $1 AND status = $2 AND expires_at IS NOT NULL AND expires_at < $3
		ORDER BY employee_id`
	rows, err := r.db.QueryContext(ctx, query, FlexStaff, ClosedCompleted, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired flex grants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan employee id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByApplication returns the number of events referencing the application.
func (r *PostgresRepository) CountByApplication(ctx context.Context, application string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM access_events WHERE application_key = $1`,
		catalog.Normalize(application)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count access events: %w", err)
	}
	return n, nil
}

// Stats returns counts by type and status.
func (r *PostgresRepository) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByType: make(map[string]int), ByStatus: make(map[string]int)}

	rows, err := r.db.QueryContext(ctx,
		`SELECT event_type, status, COUNT(*) FROM access_events GROUP BY event_type, status`)
	if err != nil {
		return stats, fmt.Errorf("failed to query ledger stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t EventType
			s Status
			n int
		)
		if err := rows.Scan(&t, &s, &n); err != nil {
			return stats, fmt.Errorf("failed to scan ledger stats: %w", err)
		}
		stats.Total += n
		stats.ByType[t.String()] += n
		stats.ByStatus[s.String()] += n
	}
	return stats, rows.Err()
}

// likeEscaper escapes LIKE wildcards in user input; backslash is the default
// escape character in Postgres.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search returns the events matching q, newest first.
func (r *PostgresRepository) Search(ctx context.Context, q Query) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	for _, f := range []struct{ column, value string }{
		{"case_id", q.CaseID},
		{"employee_id", q.EmployeeID},
		{"application", q.Application},
		{"actor", q.Actor},
		{"description", q.Description},
	} {
		if v := strings.TrimSpace(f.value); v != "" {
			add(f.column+" ILIKE $%d", "%"+likeEscaper.Replace(v)+"%")
		}
	}
	if q.Type != 0 {
		add("event_type = $%d", q.Type)
	}
	if q.Status != 0 {
		add("status = $%d", q.Status)
	}
	if !q.From.IsZero() {
		add("created_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("created_at < $%d", q.To)
	}

	query := `SELECT ` + eventColumns + ` FROM access_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, q.EffectiveLimit())
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	return r.queryEvents(ctx, query, args...)
}
