// Package catalog provides the entitlement catalog: the mapping from a role
// in an organizational unit to the applications that role requires.
package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Catalog errors.
var (
	ErrEntitlementNotFound = errors.New("entitlement not found")
	ErrApplicationInUse    = errors.New("application has access history")
	ErrMissingRole         = errors.New("role is required")
	ErrMissingUnit         = errors.New("unit is required")
	ErrMissingApplication  = errors.New("application is required")
)

// Entitlement states that a role in a unit requires an application.
type Entitlement struct {
	ID           int64     `json:"id"`
	Unit         string    `json:"unit"`
	SubUnit      string    `json:"sub_unit,omitempty"`
	Role         string    `json:"role"`
	Title        string    `json:"title,omitempty"`
	Application  string    `json:"application"`
	SystemOwner  string    `json:"system_owner,omitempty"`
	Criticality  string    `json:"criticality,omitempty"`
	AccessStatus string    `json:"access_status,omitempty"`
	Description  string    `json:"description,omitempty"`
	TicketEmail  string    `json:"ticket_email,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Key returns the normalized comparison key of the entitlement.
func (e Entitlement) Key() Key {
	return NewKey(e.Unit, e.Role, e.Application)
}

// Validate checks the fields required to store an entitlement.
func (e Entitlement) Validate() error {
	if strings.TrimSpace(e.Role) == "" {
		return ErrMissingRole
	}
	if strings.TrimSpace(e.Unit) == "" {
		return ErrMissingUnit
	}
	if strings.TrimSpace(e.Application) == "" {
		return ErrMissingApplication
	}
	return nil
}

// Query filters entitlement lookups. Role and Unit are required; SubUnit and
// Title narrow the result when set.
type Query struct {
	Role    string
	Unit    string
	SubUnit string
	Title   string
}

// Repository defines the data access interface for the catalog.
type Repository interface {
	// EntitlementsFor returns entitlements matching the query exactly after
	// normalization. The result may contain rows sharing a Key.
	EntitlementsFor(ctx context.Context, q Query) ([]Entitlement, error)

	// EntitlementsForFlexible matches role and full unit exactly without any
	// sub-unit filter.
	EntitlementsForFlexible(ctx context.Context, role, unit string) ([]Entitlement, error)

	// ApplicationStatus returns the first non-empty access status recorded
	// for the application, and whether the application is in the catalog.
	ApplicationStatus(ctx context.Context, application string) (string, bool, error)

	// Create stores a new entitlement and returns it with its ID set.
	Create(ctx context.Context, e Entitlement) (*Entitlement, error)

	// List returns every entitlement ordered by ID.
	List(ctx context.Context) ([]Entitlement, error)

	// Delete removes an entitlement by ID.
	Delete(ctx context.Context, id int64) error
}

// Dedupe collapses entitlements to one per Key, keeping the first occurrence.
func Dedupe(entitlements []Entitlement) []Entitlement {
	seen := make(map[Key]bool, len(entitlements))
	out := make([]Entitlement, 0, len(entitlements))
	for _, e := range entitlements {
		k := e.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu     sync.RWMutex
	rows   []Entitlement
	nextID int64
}

// NewInMemoryRepository creates a catalog seeded with the given entitlements.
func NewInMemoryRepository(seed ...Entitlement) *InMemoryRepository {
	r := &InMemoryRepository{nextID: 1}
	for _, e := range seed {
		e.ID = r.nextID
		r.nextID++
		r.rows = append(r.rows, e)
	}
	return r
}

// EntitlementsFor returns entitlements matching the query.
func (r *InMemoryRepository) EntitlementsFor(ctx context.Context, q Query) ([]Entitlement, error) {
	if strings.TrimSpace(q.Role) == "" {
		return nil, ErrMissingRole
	}
	if strings.TrimSpace(q.Unit) == "" {
		return nil, ErrMissingUnit
	}

	role, unit := Normalize(q.Role), Normalize(q.Unit)
	subUnit, title := Normalize(q.SubUnit), Normalize(q.Title)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entitlement
	for _, e := range r.rows {
		if Normalize(e.Role) != role || Normalize(e.Unit) != unit {
			continue
		}
		if subUnit != "" && Normalize(e.SubUnit) != subUnit {
			continue
		}
		if title != "" && Normalize(e.Title) != title {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// EntitlementsForFlexible matches role and full unit without a sub-unit filter.
func (r *InMemoryRepository) EntitlementsForFlexible(ctx context.Context, role, unit string) ([]Entitlement, error) {
	return r.EntitlementsFor(ctx, Query{Role: role, Unit: unit})
}

// ApplicationStatus returns the recorded access status for the application.
func (r *InMemoryRepository) ApplicationStatus(ctx context.Context, application string) (string, bool, error) {
	app := Normalize(application)

	r.mu.RLock()
	defer r.mu.RUnlock()

	found := false
	for _, e := range r.rows {
		if Normalize(e.Application) != app {
			continue
		}
		found = true
		if s := strings.TrimSpace(e.AccessStatus); s != "" {
			return s, true, nil
		}
	}
	return "", found, nil
}

// Create stores a new entitlement.
func (r *InMemoryRepository) Create(ctx context.Context, e Entitlement) (*Entitlement, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e.ID = r.nextID
	r.nextID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	r.rows = append(r.rows, e)

	entitlementCopy := e
	return &entitlementCopy, nil
}

// List returns every entitlement ordered by ID.
func (r *InMemoryRepository) List(ctx context.Context) ([]Entitlement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entitlement, len(r.rows))
	copy(out, r.rows)
	return out, nil
}

// Delete removes an entitlement by ID.
func (r *InMemoryRepository) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.rows {
		if e.ID == id {
			r.rows = append(r.rows[:i:i], r.rows[i+1:]...)
			return nil
		}
	}
	return ErrEntitlementNotFound
}
