package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/onnwee/accessrecon/internal/catalog"
)

// Ledger errors.
var (
	ErrEventNotFound    = errors.New("access event not found")
	ErrCaseNotFound     = errors.New("case not found")
	ErrInvalidEventType = errors.New("invalid event type")
	ErrInvalidStatus    = errors.New("invalid status")
)

// Repository defines the data access interface for access events.
type Repository interface {
	// Append records a new event. For every type except Offboarding, the
	// append is absorbed when a pending event already exists for the same
	// employee and application; the returned result then carries the
	// existing event with Inserted set to false.
	Append(ctx context.Context, event Event) (AppendResult, error)

	// ListByEmployee returns every event for the employee in insertion order.
	ListByEmployee(ctx context.Context, employeeID string) ([]Event, error)

	// ListByCase returns the events of one case in insertion order.
	ListByCase(ctx context.Context, caseID string) ([]Event, error)

	// Get returns a single event by ID.
	Get(ctx context.Context, id int64) (*Event, error)

	// UpdateStatus moves an event to a new status. Moving to ClosedCompleted
	// stamps AppClosedAt.
	UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) (*Event, error)

	// DeleteCase removes every event of a case belonging to the employee and
	// returns the number removed.
	DeleteCase(ctx context.Context, employeeID, caseID string) (int, error)

	// DeleteEvent removes the single event of a case for one application.
	DeleteEvent(ctx context.Context, employeeID, caseID, application string) error

	// EmployeesWithExpiredFlex returns the IDs of employees holding a
	// completed flex grant whose expiration is before now.
	EmployeesWithExpiredFlex(ctx context.Context, now time.Time) ([]string, error)

	// CountByApplication returns the number of events referencing the
	// application.
	CountByApplication(ctx context.Context, application string) (int, error)

	// Stats returns counts by type and status.
	Stats(ctx context.Context) (Stats, error)

	// Search returns the events matching q, newest first, capped at
	// q.EffectiveLimit().
	Search(ctx context.Context, q Query) ([]Event, error)
}

// normalizeApplication is the comparison form of an application name.
func normalizeApplication(app string) string {
	return catalog.Normalize(app)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu     sync.RWMutex
	events []Event
	nextID int64
}

// NewInMemoryRepository creates a new in-memory ledger.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{nextID: 1}
}

// Append records a new event, absorbing duplicate pending requests.
func (r *InMemoryRepository) Append(ctx context.Context, event Event) (AppendResult, error) {
	if !event.Type.Valid() {
		return AppendResult{}, ErrInvalidEventType
	}
	if event.Status == 0 {
		event.Status = Pending
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Type != Offboarding {
		key := normalizeApplication(event.Application)
		for _, existing := range r.events {
			if existing.EmployeeID == event.EmployeeID &&
				existing.Status == Pending &&
				normalizeApplication(existing.Application) == key {
				return AppendResult{Event: existing, Inserted: false}, nil
			}
		}
	}

	event.ID = r.nextID
	r.nextID++
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	r.events = append(r.events, event)
	return AppendResult{Event: event, Inserted: true}, nil
}

// ListByEmployee returns every event for the employee in insertion order.
func (r *InMemoryRepository) ListByEmployee(ctx context.Context, employeeID string) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Event
	for _, e := range r.events {
		if e.EmployeeID == employeeID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListByCase returns the events of one case in insertion order.
func (r *InMemoryRepository) ListByCase(ctx context.Context, caseID string) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Event
	for _, e := range r.events {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Get returns a single event by ID.
func (r *InMemoryRepository) Get(ctx context.Context, id int64) (*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.events {
		if e.ID == id {
			eventCopy := e
			return &eventCopy, nil
		}
	}
	return nil, ErrEventNotFound
}

// UpdateStatus moves an event to a new status.
func (r *InMemoryRepository) UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) (*Event, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.events {
		if r.events[i].ID != id {
			continue
		}
		r.events[i].Status = status
		if status == ClosedCompleted {
			closed := at
			r.events[i].AppClosedAt = &closed
		}
		eventCopy := r.events[i]
		return &eventCopy, nil
	}
	return nil, ErrEventNotFound
}

// DeleteCase removes every event of a case belonging to the employee.
func (r *InMemoryRepository) DeleteCase(ctx context.Context, employeeID, caseID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0:0]
	removed := 0
	for _, e := range r.events {
		if e.EmployeeID == employeeID && e.CaseID == caseID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed == 0 {
		return 0, ErrCaseNotFound
	}
	r.events = kept
	return removed, nil
}

// DeleteEvent removes the single event of a case for one application.
func (r *InMemoryRepository) DeleteEvent(ctx context.Context, employeeID, caseID, application string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := normalizeApplication(application)
	for i, e := range r.events {
		if e.EmployeeID == employeeID && e.CaseID == caseID && normalizeApplication(e.Application) == key {
			r.events = append(r.events[:i:i], r.events[i+1:]...)
			return nil
		}
	}
	return ErrEventNotFound
}

// EmployeesWithExpiredFlex returns the employees holding an expired flex grant.
// Grants already superseded by a return are filtered out by the caller.
func (r *InMemoryRepository) EmployeesWithExpiredFlex(ctx context.Context, now time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, e := range r.events {
		if e.Type != FlexStaff || e.Status != ClosedCompleted || e.ExpiresAt == nil {
			continue
		}
		if !e.ExpiresAt.Before(now) || seen[e.EmployeeID] {
			continue
		}
		seen[e.EmployeeID] = true
		out = append(out, e.EmployeeID)
	}
	sort.Strings(out)
	return out, nil
}

// CountByApplication returns the number of events referencing the application.
func (r *InMemoryRepository) CountByApplication(ctx context.Context, application string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := normalizeApplication(application)
	n := 0
	for _, e := range r.events {
		if normalizeApplication(e.Application) == key {
			n++
		}
	}
	return n, nil
}

// Stats returns counts by type and status.
func (r *InMemoryRepository) Stats(ctx context.Context) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{ByType: make(map[string]int), ByStatus: make(map[string]int)}
	for _, e := range r.events {
		stats.Total++
		stats.ByType[e.Type.String()]++
		stats.ByStatus[e.Status.String()]++
	}
	return stats, nil
}

// Search returns the events matching q, newest first.
func (r *InMemoryRepository) Search(ctx context.Context, q Query) ([]Event, error) {
	r.mu.RLock()
	var out []Event
	for _, e := range r.events {
		if q.Matches(e) {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(out)
	if limit := q.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Snapshot returns a copy of the ledger state for transactional rollback.
func (r *InMemoryRepository) Snapshot() any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := make([]Event, len(r.events))
	copy(events, r.events)
	return inMemorySnapshot{events: events, nextID: r.nextID}
}

// Restore resets the ledger to a state captured by Snapshot.
func (r *InMemoryRepository) Restore(snapshot any) {
	s, ok := snapshot.(inMemorySnapshot)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = s.events
	r.nextID = s.nextID
}

type inMemorySnapshot struct {
	events []Event
	nextID int64
}
