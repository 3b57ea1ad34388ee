package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/accessrecon/internal/db"
	"github.com/onnwee/accessrecon/internal/tracing"
)

const auditColumns = `id, actor, entity_type, entity_id, action, outcome, request_id,
	ip_address, user_agent, created_at`

// PostgresRepository implements Repository against the audit_logs table.
type PostgresRepository struct {
	db     db.DBTX
	logger *slog.Logger
}

// NewPostgresRepository creates an audit repository backed by conn.
func NewPostgresRepository(conn db.DBTX, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: conn, logger: logger}
}

// LogAction inserts an audit record.
func (r *PostgresRepository) LogAction(ctx context.Context, entry LogEntry) (_ *AuditLog, err error) {
	if err := validateLogEntry(entry.EntityType, entry.EntityID, entry.Action); err != nil {
		return nil, err
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_logs", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	log := newLog(entry, time.Now())
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (`+auditColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		log.ID, log.Actor, log.EntityType, log.EntityID, log.Action, log.Outcome,
		log.RequestID, log.IPAddress, log.UserAgent, log.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit log: %w", err)
	}
	return log, nil
}

// QueryByEntity retrieves audit logs for a specific entity, newest first.
func (r *PostgresRepository) QueryByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*AuditLog, error) {
	return r.query(ctx, `WHERE entity_type = $1 AND entity_id = $2`, limit, entityType, entityID)
}

// QueryByActor retrieves audit logs for an actor, newest first.
func (r *PostgresRepository) QueryByActor(ctx context.Context, actor string, limit int) ([]*AuditLog, error) {
	return r.query(ctx, `WHERE actor = $1`, limit, actor)
}

// List retrieves all audit logs, newest first.
func (r *PostgresRepository) List(ctx context.Context, limit int) ([]*AuditLog, error) {
	return r.query(ctx, ``, limit)
}

func (r *PostgresRepository) query(ctx context.Context, where string, limit int, args ...any) (_ []*AuditLog, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_logs", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	q := `SELECT ` + auditColumns + ` FROM audit_logs ` + where + ` ORDER BY created_at DESC, id`
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*AuditLog
	for rows.Next() {
		var l AuditLog
		if err := rows.Scan(&l.ID, &l.Actor, &l.EntityType, &l.EntityID, &l.Action, &l.Outcome,
			&l.RequestID, &l.IPAddress, &l.UserAgent, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit logs: %w", err)
	}
	return logs, nil
}
