// Package projection derives the access an employee currently holds from the
// access ledger. Every call re-derives from the events passed in; nothing is
// cached.
package projection

import (
	"sort"
	"time"

	"github.com/onnwee/accessrecon/internal/catalog"
	"github.com/onnwee/accessrecon/internal/directory"
	"github.com/onnwee/accessrecon/internal/ledger"
)

// Access is one application an employee effectively holds.
type Access struct {
	Application string           `json:"application"`
	Type        ledger.EventType `json:"type"`
	Role        string           `json:"role"`
	Unit        string           `json:"unit"`
	GrantedAt   time.Time        `json:"granted_at"`
	EventID     int64            `json:"event_id"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
}

// Key returns the normalized application name.
func (a Access) Key() string {
	return catalog.Normalize(a.Application)
}

func fromEvent(e ledger.Event) Access {
	return Access{
		Application: e.Application,
		Type:        e.Type,
		Role:        e.Role,
		Unit:        e.Unit,
		GrantedAt:   e.CreatedAt,
		EventID:     e.ID,
		ExpiresAt:   e.ExpiresAt,
	}
}

// lastByApplication returns the most recent closed-completed event per
// normalized application among events whose type is accepted by include.
// Ties on CreatedAt go to the higher ID.
func lastByApplication(events []ledger.Event, include func(ledger.EventType) bool) map[string]ledger.Event {
	last := make(map[string]ledger.Event)
	for _, e := range events {
		if e.Status != ledger.ClosedCompleted || !include(e.Type) {
			continue
		}
		key := catalog.Normalize(e.Application)
		if prev, ok := last[key]; !ok || prev.Before(e) {
			last[key] = e
		}
	}
	return last
}

func sortAccess(out []Access) []Access {
	sort.Slice(out, func(i, j int) bool {
		ki, kj := out[i].Key(), out[j].Key()
		if ki == kj {
			return out[i].EventID < out[j].EventID
		}
		return ki < kj
	})
	return out
}

// EffectiveAccess applies "last lifecycle event per application wins" to the
// employee's events. Employee may be nil when there is no directory record.
//
// A lateral movement grant is surfaced only while it matches the active
// employee's current unit and role. Onboarding grants are surfaced without
// that check. A flex_staff_return only ends a flex grant; it never hides a
// permanent or manual one.
func EffectiveAccess(events []ledger.Event, employee *directory.Employee) []Access {
	last := lastByApplication(events, func(t ledger.EventType) bool {
		return t.Valid() && t != ledger.FlexStaffReturn
	})
	returns := lastByApplication(events, func(t ledger.EventType) bool { return t == ledger.FlexStaffReturn })

	out := make([]Access, 0, len(last))
	for key, e := range last {
		switch e.Type {
		case ledger.Offboarding, ledger.FlexStaffReturn:
			continue
		case ledger.FlexStaff:
			if r, ok := returns[key]; ok && e.Before(r) {
				continue
			}
		case ledger.LateralMovement:
			if employee != nil && employee.Active && !matchesCurrentPosition(e, employee) {
				continue
			}
		case ledger.Onboarding, ledger.ManualAccess:
		}
		out = append(out, fromEvent(e))
	}
	return sortAccess(out)
}

func matchesCurrentPosition(e ledger.Event, employee *directory.Employee) bool {
	return catalog.Normalize(e.Unit) == catalog.Normalize(employee.Unit) &&
		catalog.Normalize(e.Role) == catalog.Normalize(employee.Role)
}

// FlexStaffAccess returns the flex grants still in force: completed flex_staff
// events not followed by a completed flex_staff_return, offboarding or
// permanent grant for the same application. A later onboarding, lateral
// movement or manual grant takes the application over from the flex grant.
func FlexStaffAccess(events []ledger.Event) []Access {
	last := lastByApplication(events, ledger.EventType.Valid)

	out := make([]Access, 0, len(last))
	for _, e := range last {
		if e.Type == ledger.FlexStaff {
			out = append(out, fromEvent(e))
		}
	}
	return sortAccess(out)
}

// Filter returns the accesses whose type is one of types.
func Filter(accesses []Access, types ...ledger.EventType) []Access {
	var out []Access
	for _, a := range accesses {
		for _, t := range types {
			if a.Type == t {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// OffboardingCandidates returns, per application, the latest completed grant
// that no later-or-equal revoke already covers. A revoke covers a grant when
// it is an offboarding, or a flex_staff_return following a flex grant, whose
// status is anything but abandoned. Pending revokes count, so a second
// offboarding pass finds nothing.
func OffboardingCandidates(events []ledger.Event) []Access {
	grants := lastByApplication(events, ledger.EventType.IsGrant)

	out := make([]Access, 0, len(grants))
	for key, g := range grants {
		if !coveredByRevoke(events, key, g) {
			out = append(out, fromEvent(g))
		}
	}
	return sortAccess(out)
}

func coveredByRevoke(events []ledger.Event, key string, grant ledger.Event) bool {
	for _, e := range events {
		if e.Status.Abandoned() || e.Before(grant) || catalog.Normalize(e.Application) != key {
			continue
		}
		switch e.Type {
		case ledger.Offboarding:
			return true
		case ledger.FlexStaffReturn:
			if grant.Type == ledger.FlexStaff {
				return true
			}
		case ledger.Onboarding, ledger.LateralMovement, ledger.FlexStaff, ledger.ManualAccess:
		}
	}
	return false
}
