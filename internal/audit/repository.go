package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for audit log operations.
type Repository interface {
	// LogAction records an action. The IP address is anonymized before it is
	// stored.
	LogAction(ctx context.Context, entry LogEntry) (*AuditLog, error)

	// QueryByEntity retrieves audit logs for a specific entity, newest first.
	// Limit specifies the maximum number of entries to return (0 = no limit).
	QueryByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*AuditLog, error)

	// QueryByActor retrieves audit logs recorded for an actor, newest first.
	QueryByActor(ctx context.Context, actor string, limit int) ([]*AuditLog, error)

	// List retrieves all audit logs, newest first.
	List(ctx context.Context, limit int) ([]*AuditLog, error)
}

// newLog builds the stored record for an entry.
func newLog(entry LogEntry, now time.Time) *AuditLog {
	outcome := entry.Outcome
	if outcome == "" {
		outcome = OutcomeSuccess
	}
	return &AuditLog{
		ID:         uuid.New().String(),
		Actor:      entry.Actor,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Outcome:    outcome,
		CreatedAt:  now.UTC(),
		RequestID:  entry.RequestID,
		IPAddress:  AnonymizeIP(entry.IPAddress),
		UserAgent:  entry.UserAgent,
	}
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu   sync.RWMutex
	logs []*AuditLog // insertion order
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// LogAction records an action to the audit log.
func (r *InMemoryRepository) LogAction(ctx context.Context, entry LogEntry) (*AuditLog, error) {
	if err := validateLogEntry(entry.EntityType, entry.EntityID, entry.Action); err != nil {
		return nil, err
	}
	log := newLog(entry, time.Now())

	r.mu.Lock()
	r.logs = append(r.logs, log)
	r.mu.Unlock()

	logCopy := *log
	return &logCopy, nil
}

// QueryByEntity retrieves audit logs for a specific entity, newest first.
func (r *InMemoryRepository) QueryByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*AuditLog, error) {
	return r.query(limit, func(l *AuditLog) bool {
		return l.EntityType == entityType && l.EntityID == entityID
	}), nil
}

// QueryByActor retrieves audit logs for an actor, newest first.
func (r *InMemoryRepository) QueryByActor(ctx context.Context, actor string, limit int) ([]*AuditLog, error) {
	return r.query(limit, func(l *AuditLog) bool {
		return l.Actor == actor
	}), nil
}

// List retrieves all audit logs, newest first.
func (r *InMemoryRepository) List(ctx context.Context, limit int) ([]*AuditLog, error) {
	return r.query(limit, func(*AuditLog) bool { return true }), nil
}

func (r *InMemoryRepository) query(limit int, match func(*AuditLog) bool) []*AuditLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*AuditLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		if !match(r.logs[i]) {
			continue
		}
		logCopy := *r.logs[i]
		results = append(results, &logCopy)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results
}
