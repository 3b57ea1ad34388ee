// Package ledger provides the append-only access event log. Every grant or
// revoke ever requested for an employee is recorded here, tagged with the
// lifecycle event that produced it and the workflow status of the request.
package ledger

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// EventType identifies the lifecycle event that produced an access event.
type EventType int

const (
	Onboarding EventType = iota + 1
	LateralMovement
	FlexStaff
	FlexStaffReturn
	ManualAccess
	Offboarding
)

// EventTypes lists every event type in declaration order.
var EventTypes = []EventType{Onboarding, LateralMovement, FlexStaff, FlexStaffReturn, ManualAccess, Offboarding}

// String returns the stored name of the event type.
func (t EventType) String() string {
	switch t {
	case Onboarding:
		return "onboarding"
	case LateralMovement:
		return "lateral_movement"
	case FlexStaff:
		return "flex_staff"
	case FlexStaffReturn:
		return "flex_staff_return"
	case ManualAccess:
		return "manual_access"
	case Offboarding:
		return "offboarding"
	default:
		return fmt.Sprintf("event_type(%d)", int(t))
	}
}

// IsGrant reports whether the event type adds access.
func (t EventType) IsGrant() bool {
	switch t {
	case Onboarding, LateralMovement, FlexStaff, ManualAccess:
		return true
	case FlexStaffReturn, Offboarding:
		return false
	default:
		return false
	}
}

// IsRevoke reports whether the event type removes access.
func (t EventType) IsRevoke() bool {
	switch t {
	case FlexStaffReturn, Offboarding:
		return true
	case Onboarding, LateralMovement, FlexStaff, ManualAccess:
		return false
	default:
		return false
	}
}

// Valid reports whether t is one of the declared event types.
func (t EventType) Valid() bool {
	return t >= Onboarding && t <= Offboarding
}

// ParseEventType parses a stored event type name. Matching ignores case and
// surrounding whitespace.
func ParseEventType(s string) (EventType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, t := range EventTypes {
		if t.String() == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidEventType, s)
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidEventType, int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *EventType) UnmarshalText(b []byte) error {
	parsed, err := ParseEventType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Value implements driver.Valuer.
func (t EventType) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidEventType, int(t))
	}
	return t.String(), nil
}

// Scan implements sql.Scanner.
func (t *EventType) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return t.UnmarshalText([]byte(v))
	case []byte:
		return t.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into EventType", src)
	}
}

// Status is the workflow state of an access event. It is advanced by the
// ticketing workflow, never by the engine.
type Status int

const (
	Pending Status = iota + 1
	InProgress
	InValidation
	ToValidate
	ClosedCompleted
	ClosedIncompleted
	Cancelled
)

// Statuses lists every status in declaration order.
var Statuses = []Status{Pending, InProgress, InValidation, ToValidate, ClosedCompleted, ClosedIncompleted, Cancelled}

// String returns the canonical stored name of the status.
func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case InProgress:
		return "in progress"
	case InValidation:
		return "in validation"
	case ToValidate:
		return "to validate"
	case ClosedCompleted:
		return "closed completed"
	case ClosedIncompleted:
		return "closed incompleted"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	return s >= Pending && s <= Cancelled
}

// Abandoned reports whether the request was closed without being carried out.
func (s Status) Abandoned() bool {
	return s == ClosedIncompleted || s == Cancelled
}

// statusAliases maps legacy spellings found in imported spreadsheets.
var statusAliases = map[string]Status{
	"pendiente":  Pending,
	"completado": ClosedCompleted,
	"completed":  ClosedCompleted,
	"cancelado":  Cancelled,
	"canceled":   Cancelled,
}

// ParseStatus parses a status name. Matching ignores case, surrounding
// whitespace and the difference between spaces and underscores.
func ParseStatus(s string) (Status, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.ReplaceAll(name, "_", " ")
	for _, st := range Statuses {
		if strings.ToLower(st.String()) == name {
			return st, nil
		}
	}
	if st, ok := statusAliases[name]; ok {
		return st, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer.
func (s Status) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, int(s))
	}
	return s.String(), nil
}

// Scan implements sql.Scanner.
func (s *Status) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into Status", src)
	}
}

// Event is a single grant or revoke request.
type Event struct {
	ID             int64      `json:"id"`
	EmployeeID     string     `json:"employee_id"`
	EmployeeEmail  string     `json:"employee_email,omitempty"`
	CaseID         string     `json:"case_id"`
	Type           EventType  `json:"type"`
	Application    string     `json:"application"`
	Unit           string     `json:"unit"`
	Role           string     `json:"role"`
	Description    string     `json:"description"`
	Status         Status     `json:"status"`
	Actor          string     `json:"actor"`
	CreatedAt      time.Time  `json:"created_at"`
	AppClosedAt    *time.Time `json:"app_closed_at,omitempty"`
	TicketClosedAt *time.Time `json:"ticket_closed_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// Before reports whether e was recorded before other. Events with equal
// timestamps are ordered by ID.
func (e Event) Before(other Event) bool {
	if e.CreatedAt.Equal(other.CreatedAt) {
		return e.ID < other.ID
	}
	return e.CreatedAt.Before(other.CreatedAt)
}

// AppendResult reports the outcome of an Append call.
type AppendResult struct {
	Event    Event
	Inserted bool // false when an existing pending event absorbed the append
}

// Stats summarizes the ledger by type and by status.
type Stats struct {
	Total    int            `json:"total"`
	ByType   map[string]int `json:"by_type"`
	ByStatus map[string]int `json:"by_status"`
}
