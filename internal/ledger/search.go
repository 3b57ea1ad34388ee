package ledger

import (
	"sort"
	"strings"
	"time"
)

// Search limits.
const (
	DefaultSearchLimit = 100
	MaxSearchLimit     = 1000
)

// Query filters a ledger search. Text fields match case-insensitively as
// substrings. Type and Status match exactly when non-zero. From is inclusive
// and To exclusive on CreatedAt. A zero Query matches every event.
type Query struct {
	CaseID      string
	EmployeeID  string
	Application string
	Actor       string
	Description string
	Type        EventType
	Status      Status
	From        time.Time
	To          time.Time
	Limit       int
}

// EffectiveLimit clamps Limit to (0, MaxSearchLimit], defaulting to
// DefaultSearchLimit.
func (q Query) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultSearchLimit
	case q.Limit > MaxSearchLimit:
		return MaxSearchLimit
	default:
		return q.Limit
	}
}

// Matches reports whether e satisfies every filter of q.
func (q Query) Matches(e Event) bool {
	if !containsFold(e.CaseID, q.CaseID) ||
		!containsFold(e.EmployeeID, q.EmployeeID) ||
		!containsFold(e.Application, q.Application) ||
		!containsFold(e.Actor, q.Actor) ||
		!containsFold(e.Description, q.Description) {
		return false
	}
	if q.Type != 0 && e.Type != q.Type {
		return false
	}
	if q.Status != 0 && e.Status != q.Status {
		return false
	}
	if !q.From.IsZero() && e.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !e.CreatedAt.Before(q.To) {
		return false
	}
	return true
}

func containsFold(s, substr string) bool {
	if substr == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(strings.TrimSpace(substr)))
}

// sortNewestFirst orders events by CreatedAt descending, ties by ID
// descending.
func sortNewestFirst(events []Event) {
	sort.SliceStable(events, func(i, j int) bool { return events[j].Before(events[i]) })
}
