package reconcile

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/accessrecon/internal/catalog"
	"github.com/onnwee/accessrecon/internal/directory"
	"github.com/onnwee/accessrecon/internal/ledger"
	"github.com/onnwee/accessrecon/internal/store"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stepClock returns a strictly increasing time on every call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine *Engine
	store  *store.InMemoryStore
	dir    *directory.InMemoryRepository
	cat    *catalog.InMemoryRepository
	led    *ledger.InMemoryRepository
	clock  *stepClock
}

func newFixture(t *testing.T, entitlements ...catalog.Entitlement) *fixture {
	t.Helper()
	f := &fixture{
		dir:   directory.NewInMemoryRepository(),
		cat:   catalog.NewInMemoryRepository(entitlements...),
		led:   ledger.NewInMemoryRepository(),
		clock: newStepClock(),
	}
	f.store = store.NewInMemoryStore(f.dir, f.cat, f.led)
	f.engine = NewEngine(Config{
		Store:  f.store,
		Logger: newTestLogger(),
		Now:    f.clock.Now,
	})
	return f
}

func (f *fixture) addEmployee(t *testing.T, e directory.Employee) {
	t.Helper()
	if e.Email == "" {
		e.Email = e.ID + "@example.com"
	}
	if _, err := f.dir.Create(context.Background(), e); err != nil {
		t.Fatalf("Create(%s) error = %v", e.ID, err)
	}
}

func (f *fixture) employee(t *testing.T, id string) *directory.Employee {
	t.Helper()
	e, err := f.dir.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", id, err)
	}
	return e
}

func (f *fixture) events(t *testing.T, employeeID string) []ledger.Event {
	t.Helper()
	events, err := f.led.ListByEmployee(context.Background(), employeeID)
	if err != nil {
		t.Fatalf("ListByEmployee() error = %v", err)
	}
	return events
}

// completeAll closes every pending event of the employee as completed, the
// way the ticketing workflow would.
func (f *fixture) completeAll(t *testing.T, employeeID string) {
	t.Helper()
	for _, ev := range f.events(t, employeeID) {
		if ev.Status != ledger.Pending {
			continue
		}
		if _, err := f.led.UpdateStatus(context.Background(), ev.ID, ledger.ClosedCompleted, f.clock.Now()); err != nil {
			t.Fatalf("UpdateStatus(%d) error = %v", ev.ID, err)
		}
	}
}

func (f *fixture) effectiveApps(t *testing.T, employeeID string) []string {
	t.Helper()
	access, err := f.engine.EffectiveAccess(context.Background(), employeeID)
	if err != nil {
		t.Fatalf("EffectiveAccess() error = %v", err)
	}
	apps := make([]string, len(access))
	for i, a := range access {
		apps[i] = a.Application
	}
	return apps
}

// permanentApps returns the effective applications not held through a flex
// grant.
func (f *fixture) permanentApps(t *testing.T, employeeID string) []string {
	t.Helper()
	access, err := f.engine.EffectiveAccess(context.Background(), employeeID)
	if err != nil {
		t.Fatalf("EffectiveAccess() error = %v", err)
	}
	var apps []string
	for _, a := range access {
		if a.Type != ledger.FlexStaff {
			apps = append(apps, a.Application)
		}
	}
	return apps
}

func entitlement(unit, role, app string) catalog.Entitlement {
	return catalog.Entitlement{Unit: unit, Role: role, Application: app}
}

func eventApps(events []ledger.Event) []string {
	apps := make([]string, len(events))
	for i, e := range events {
		apps[i] = e.Application
	}
	return apps
}

func sameSet(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	seen := make(map[string]int, len(got))
	for _, g := range got {
		seen[catalog.Normalize(g)]++
	}
	for _, w := range want {
		k := catalog.Normalize(w)
		if seen[k] == 0 {
			return false
		}
		seen[k]--
	}
	return true
}

// assertNoDuplicatePending fails if any (employee, application, type) other
// than offboarding has more than one pending event.
func assertNoDuplicatePending(t *testing.T, events []ledger.Event) {
	t.Helper()
	type key struct {
		employee, app string
		typ           ledger.EventType
	}
	counts := make(map[key]int)
	for _, e := range events {
		if e.Status != ledger.Pending || e.Type == ledger.Offboarding {
			continue
		}
		k := key{e.EmployeeID, catalog.Normalize(e.Application), e.Type}
		counts[k]++
		if counts[k] > 1 {
			t.Errorf("duplicate pending %s event for %s/%s", e.Type, e.EmployeeID, e.Application)
		}
	}
}
