// Package ticket renders access events as provisioning tickets for the
// downstream ticketing workflow, and archives ticket exports to object storage.
package ticket

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/onnwee/accessrecon/internal/ledger"
)

// Format is a supported export format.
type Format string

const (
	// FormatCSV exports tickets as comma-separated values with a header row.
	FormatCSV Format = "csv"
	// FormatJSON exports tickets as an indented JSON array.
	FormatJSON Format = "json"
	// FormatCBOR exports tickets as a deterministic CBOR array.
	FormatCBOR Format = "cbor"
)

// ErrUnsupportedFormat is returned for an unknown export format.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat parses a format name. An empty name selects CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSON, FormatCBOR:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, s)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCBOR:
		return "application/cbor"
	default:
		return "text/csv"
	}
}

// Action is the provisioning action a ticket asks for.
type Action string

const (
	ActionGrant  Action = "grant"
	ActionRevoke Action = "revoke"
)

// Ticket is one provisioning request derived from an access event.
type Ticket struct {
	EventID       int64  `json:"event_id" cbor:"event_id"`
	CaseID        string `json:"case_id" cbor:"case_id"`
	EmployeeID    string `json:"employee_id" cbor:"employee_id"`
	EmployeeEmail string `json:"employee_email,omitempty" cbor:"employee_email,omitempty"`
	Application   string `json:"application" cbor:"application"`
	Role          string `json:"role" cbor:"role"`
	Unit          string `json:"unit" cbor:"unit"`
	Action        Action `json:"action" cbor:"action"`
	EventType     string `json:"event_type" cbor:"event_type"`
	Reason        string `json:"reason" cbor:"reason"`
	RequestedBy   string `json:"requested_by" cbor:"requested_by"`
	RequestedAt   string `json:"requested_at" cbor:"requested_at"` // RFC 3339, UTC
	Status        string `json:"status" cbor:"status"`
	ExpiresAt     string `json:"expires_at,omitempty" cbor:"expires_at,omitempty"`
}

// FromEvent builds the ticket for an event.
func FromEvent(e ledger.Event) Ticket {
	t := Ticket{
		EventID:       e.ID,
		CaseID:        e.CaseID,
		EmployeeID:    e.EmployeeID,
		EmployeeEmail: e.EmployeeEmail,
		Application:   e.Application,
		Role:          e.Role,
		Unit:          e.Unit,
		Action:        ActionRevoke,
		EventType:     e.Type.String(),
		Reason:        e.Description,
		RequestedBy:   e.Actor,
		RequestedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
		Status:        e.Status.String(),
	}
	if e.Type.IsGrant() {
		t.Action = ActionGrant
	}
	if e.ExpiresAt != nil {
		t.ExpiresAt = e.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return t
}

// FromEvents builds one ticket per event, preserving order.
func FromEvents(events []ledger.Event) []Ticket {
	out := make([]Ticket, len(events))
	for i, e := range events {
		out[i] = FromEvent(e)
	}
	return out
}

// csvHeader is the column order of CSV exports.
var csvHeader = []string{
	"Event ID",
	"Case ID",
	"Employee ID",
	"Employee Email",
	"Application",
	"Role",
	"Unit",
	"Action",
	"Event Type",
	"Reason",
	"Requested By",
	"Requested At (UTC)",
	"Status",
	"Expires At (UTC)",
}

// encMode uses Core Deterministic Encoding so equal exports are byte-equal.
var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ticket: CBOR encoder initialization failed: " + err.Error())
	}
	return em
}()

// Export renders the events as tickets in the given format.
func Export(events []ledger.Event, format Format) ([]byte, error) {
	tickets := FromEvents(events)
	switch format {
	case FormatCSV:
		return exportToCSV(tickets)
	case FormatJSON:
		data, err := json.MarshalIndent(tickets, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return data, nil
	case FormatCBOR:
		data, err := encMode.Marshal(tickets)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal CBOR: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// DecodeCBOR reads a CBOR ticket export.
func DecodeCBOR(data []byte) ([]Ticket, error) {
	var tickets []Ticket
	if err := cbor.Unmarshal(data, &tickets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal CBOR: %w", err)
	}
	return tickets, nil
}

func exportToCSV(tickets []Ticket) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, t := range tickets {
		row := []string{
			fmt.Sprint(t.EventID),
			t.CaseID,
			t.EmployeeID,
			t.EmployeeEmail,
			t.Application,
			t.Role,
			t.Unit,
			string(t.Action),
			t.EventType,
			t.Reason,
			t.RequestedBy,
			t.RequestedAt,
			t.Status,
			t.ExpiresAt,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}
