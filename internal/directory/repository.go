// Package directory provides the employee profile store read and updated by
// lifecycle transitions. It holds no business rules.
package directory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// Directory errors.
var (
	ErrEmployeeNotFound  = errors.New("employee not found")
	ErrDuplicateEmployee = errors.New("employee already exists")
	ErrMissingEmployeeID = errors.New("employee id is required")
)

// OutOfUnit is written to the unit fields of an offboarded employee.
const OutOfUnit = "out of the unit"

// Employee is a directory record.
type Employee struct {
	ID               string     `json:"id"`
	FullName         string     `json:"full_name"`
	Email            string     `json:"email"`
	Role             string     `json:"role"`
	Unit             string     `json:"unit"`      // hierarchical "unit/sub-unit"
	BaseUnit         string     `json:"base_unit"` // top-level segment of Unit
	Active           bool       `json:"active"`
	HireDate         *time.Time `json:"hire_date,omitempty"`
	InactivationDate *time.Time `json:"inactivation_date,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Update carries a partial update. Nil fields are left unchanged.
type Update struct {
	FullName         *string
	Email            *string
	Role             *string
	Unit             *string
	BaseUnit         *string
	Active           *bool
	InactivationDate **time.Time
}

// IsEmpty reports whether the update changes nothing.
func (u Update) IsEmpty() bool {
	return u.FullName == nil && u.Email == nil && u.Role == nil && u.Unit == nil &&
		u.BaseUnit == nil && u.Active == nil && u.InactivationDate == nil
}

func (u Update) apply(e *Employee) {
	if u.FullName != nil {
		e.FullName = *u.FullName
	}
	if u.Email != nil {
		e.Email = *u.Email
	}
	if u.Role != nil {
		e.Role = *u.Role
	}
	if u.Unit != nil {
		e.Unit = *u.Unit
	}
	if u.BaseUnit != nil {
		e.BaseUnit = *u.BaseUnit
	}
	if u.Active != nil {
		e.Active = *u.Active
	}
	if u.InactivationDate != nil {
		e.InactivationDate = *u.InactivationDate
	}
}

// Repository defines the data access interface for employees.
type Repository interface {
	Get(ctx context.Context, id string) (*Employee, error)
	Create(ctx context.Context, e Employee) (*Employee, error)
	Update(ctx context.Context, id string, u Update) (*Employee, error)
	SetActive(ctx context.Context, id string, active bool) error
	List(ctx context.Context) ([]Employee, error)
	Delete(ctx context.Context, id string) error
}

// InMemoryRepository is an in-memory implementation of Repository.
type InMemoryRepository struct {
	mu        sync.RWMutex
	employees map[string]Employee
}

// NewInMemoryRepository creates an empty directory.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{employees: make(map[string]Employee)}
}

// Get returns the employee with the given ID.
func (r *InMemoryRepository) Get(ctx context.Context, id string) (*Employee, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.employees[id]
	if !ok {
		return nil, ErrEmployeeNotFound
	}
	return &e, nil
}

// Create stores a new employee.
func (r *InMemoryRepository) Create(ctx context.Context, e Employee) (*Employee, error) {
	e.ID = strings.TrimSpace(e.ID)
	if e.ID == "" {
		return nil, ErrMissingEmployeeID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.employees[e.ID]; exists {
		return nil, ErrDuplicateEmployee
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	r.employees[e.ID] = e
	return &e, nil
}

// Update applies a partial update.
func (r *InMemoryRepository) Update(ctx context.Context, id string, u Update) (*Employee, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.employees[id]
	if !ok {
		return nil, ErrEmployeeNotFound
	}
	u.apply(&e)
	e.UpdatedAt = time.Now().UTC()
	r.employees[id] = e
	return &e, nil
}

// SetActive flips the active flag.
func (r *InMemoryRepository) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.Update(ctx, id, Update{Active: &active})
	return err
}

// List returns every employee ordered by ID.
func (r *InMemoryRepository) List(ctx context.Context) ([]Employee, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Employee, 0, len(r.employees))
	for _, e := range r.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete removes an employee. Only used by administrative cleanup.
func (r *InMemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.employees[id]; !ok {
		return ErrEmployeeNotFound
	}
	delete(r.employees, id)
	return nil
}

// Snapshot returns a copy of the directory for transactional rollback.
func (r *InMemoryRepository) Snapshot() any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	employees := make(map[string]Employee, len(r.employees))
	for id, e := range r.employees {
		employees[id] = e
	}
	return employees
}

// Restore resets the directory to a state captured by Snapshot.
func (r *InMemoryRepository) Restore(snapshot any) {
	employees, ok := snapshot.(map[string]Employee)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.employees = employees
}
