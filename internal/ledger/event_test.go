package ledger

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"Pending", Pending, false},
		{"pending", Pending, false},
		{"  PENDIENTE ", Pending, false},
		{"in progress", InProgress, false},
		{"in_validation", InValidation, false},
		{"To Validate", ToValidate, false},
		{"closed completed", ClosedCompleted, false},
		{"Completado", ClosedCompleted, false},
		{"completed", ClosedCompleted, false},
		{"closed_incompleted", ClosedIncompleted, false},
		{"canceled", Cancelled, false},
		{"cancelado", Cancelled, false},
		{"", 0, true},
		{"done", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidStatus) {
					t.Fatalf("ParseStatus(%q) error = %v, want ErrInvalidStatus", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStatus(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseStatus(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseEventType(t *testing.T) {
	for _, typ := range EventTypes {
		got, err := ParseEventType(" " + typ.String() + " ")
		if err != nil {
			t.Fatalf("ParseEventType(%q) error = %v", typ.String(), err)
		}
		if got != typ {
			t.Errorf("ParseEventType(%q) = %v, want %v", typ.String(), got, typ)
		}
	}
	if _, err := ParseEventType("hire"); !errors.Is(err, ErrInvalidEventType) {
		t.Errorf("ParseEventType(hire) error = %v, want ErrInvalidEventType", err)
	}
}

func TestEventType_GrantRevokePartition(t *testing.T) {
	for _, typ := range EventTypes {
		if typ.IsGrant() == typ.IsRevoke() {
			t.Errorf("%s: IsGrant() = IsRevoke() = %v", typ, typ.IsGrant())
		}
	}
	if EventType(0).Valid() || EventType(0).IsGrant() || EventType(0).IsRevoke() {
		t.Error("zero EventType should be neither valid, grant nor revoke")
	}
}

func TestStatus_Abandoned(t *testing.T) {
	for _, s := range Statuses {
		want := s == ClosedIncompleted || s == Cancelled
		if got := s.Abandoned(); got != want {
			t.Errorf("%s.Abandoned() = %v, want %v", s, got, want)
		}
	}
}

func TestEvent_JSONUsesNames(t *testing.T) {
	ev := Event{ID: 1, Type: FlexStaff, Status: ClosedCompleted}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if raw["type"] != "flex_staff" || raw["status"] != "closed completed" {
		t.Errorf("JSON type/status = %v/%v", raw["type"], raw["status"])
	}

	if _, err := json.Marshal(Event{}); err == nil {
		t.Error("Marshal() of zero type should fail")
	}
}

func TestEvent_Before(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		a, b Event
		want bool
	}{
		{"earlier timestamp", Event{ID: 9, CreatedAt: at}, Event{ID: 1, CreatedAt: at.Add(time.Second)}, true},
		{"later timestamp", Event{ID: 1, CreatedAt: at.Add(time.Second)}, Event{ID: 9, CreatedAt: at}, false},
		{"tie broken by id", Event{ID: 1, CreatedAt: at}, Event{ID: 2, CreatedAt: at}, true},
		{"tie higher id", Event{ID: 2, CreatedAt: at}, Event{ID: 1, CreatedAt: at}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Before(tt.b); got != tt.want {
				t.Errorf("Before() = %v, want %v", got, tt.want)
			}
		})
	}
}
