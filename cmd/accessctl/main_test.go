package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/accessrecon/internal/catalog"
	"github.com/onnwee/accessrecon/internal/directory"
	"github.com/onnwee/accessrecon/internal/ledger"
	"github.com/onnwee/accessrecon/internal/reconcile"
	"github.com/onnwee/accessrecon/internal/store"
)

type cli struct {
	engine *reconcile.Engine
	led    *ledger.InMemoryRepository
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := directory.NewInMemoryRepository()
	for _, id := range []string{"E1", "E2"} {
		if _, err := dir.Create(context.Background(), directory.Employee{ID: id, Email: strings.ToLower(id) + "@example.com"}); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}
	led := ledger.NewInMemoryRepository()
	cat := catalog.NewInMemoryRepository(
		catalog.Entitlement{Unit: "Finance", Role: "Analyst", Application: "SAP"},
		catalog.Entitlement{Unit: "Sales", Role: "Rep", Application: "CRM"},
	)
	return &cli{
		engine: reconcile.NewEngine(reconcile.Config{
			Store:  store.NewInMemoryStore(dir, cat, led),
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		}),
		led: led,
	}
}

func (c *cli) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), c.engine, args, &out)
	return out.String(), err
}

func (c *cli) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := c.run(t, args...)
	if err != nil {
		t.Fatalf("run(%v) error = %v", args, err)
	}
	return out
}

func (c *cli) completeAll(t *testing.T, employeeID string) {
	t.Helper()
	events, err := c.led.ListByEmployee(context.Background(), employeeID)
	if err != nil {
		t.Fatalf("ListByEmployee() error = %v", err)
	}
	for _, ev := range events {
		if ev.Status == ledger.Pending {
			if _, err := c.led.UpdateStatus(context.Background(), ev.ID, ledger.ClosedCompleted, time.Now()); err != nil {
				t.Fatalf("UpdateStatus() error = %v", err)
			}
		}
	}
}

func TestRun_UsageErrors(t *testing.T) {
	c := newCLI(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"promote"}},
		{"unknown flag", []string{"onboard", "-badge", "7"}},
		{"stray argument", []string{"report", "-employee", "E1", "extra"}},
		{"bad reference time", []string{"expire-flex", "-at", "tomorrow"}},
		{"bad search type", []string{"search", "-type", "promotion"}},
		{"bad search window", []string{"search", "-from", "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.run(t, tt.args...)
			if !errors.Is(err, errUsage) {
				t.Errorf("error = %v, want usage error", err)
			}
		})
	}
}

func TestRun_EngineErrors(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(t, "onboard", "-employee", "NOPE", "-role", "Analyst", "-unit", "Finance")
	if !errors.Is(err, reconcile.ErrNotFound) {
		t.Errorf("onboard unknown employee error = %v, want ErrNotFound", err)
	}
	_, err = c.run(t, "onboard", "-employee", "E1", "-unit", "Finance")
	if !errors.Is(err, reconcile.ErrValidation) {
		t.Errorf("onboard without role error = %v, want ErrValidation", err)
	}
	_, err = c.run(t, "export", "-case", "CASE-NOPE")
	if !errors.Is(err, reconcile.ErrNotFound) {
		t.Errorf("export unknown case error = %v, want ErrNotFound", err)
	}
}

func TestRun_Lifecycle(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun(t, "onboard", "-employee", "E1", "-role", "Analyst", "-unit", "Finance", "-actor", "ops")
	var res reconcile.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to decode onboard output %q: %v", out, err)
	}
	if len(res.Events) != 1 || res.Events[0].Actor != "ops" {
		t.Fatalf("onboard = %+v, want one event by ops", res)
	}

	c.completeAll(t, "E1")

	out = c.mustRun(t, "access", "-employee", "E1")
	if !strings.HasPrefix(out, "SAP\tonboarding\tFinance/Analyst") {
		t.Errorf("access output = %q, want the SAP grant", out)
	}

	out = c.mustRun(t, "report", "-employee", "E1")
	if !strings.Contains(out, `"keep": [`) || !strings.Contains(out, `"SAP"`) {
		t.Errorf("report output = %s, want SAP kept", out)
	}

	out = c.mustRun(t, "export", "-case", res.CaseID)
	if !strings.HasPrefix(out, "Event ID,Case ID") || !strings.Contains(out, res.CaseID) {
		t.Errorf("export output = %q, want CSV tickets of the case", out)
	}

	path := filepath.Join(t.TempDir(), "tickets.json")
	out = c.mustRun(t, "export", "-case", res.CaseID, "-format", "json", "-out", path)
	if !strings.Contains(out, "Wrote 1 ticket(s)") {
		t.Errorf("export -out output = %q", out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), `"action": "grant"`) {
		t.Errorf("exported file = %s, want a grant ticket", data)
	}

	c.mustRun(t, "lateral", "-employee", "E1", "-role", "Rep", "-unit", "Sales")
	c.completeAll(t, "E1")
	c.mustRun(t, "offboard", "-employee", "E1")

	out = c.mustRun(t, "history", "-employee", "E1")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("history has %d lines, want 4:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[len(lines)-1], "onboarding\tSAP") {
		t.Errorf("oldest history line = %q, want the onboarding grant", lines[len(lines)-1])
	}
}

func TestRun_FlexExpiry(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun(t, "expire-flex")
	if !strings.Contains(out, "No expired flex grants") {
		t.Errorf("expire-flex output = %q", out)
	}

	c.mustRun(t, "flex-assign", "-employee", "E2", "-role", "Rep", "-unit", "Sales", "-days", "1")
	c.completeAll(t, "E2")

	out = c.mustRun(t, "access", "-employee", "E2", "-flex")
	if !strings.HasPrefix(out, "CRM\tflex_staff") || !strings.Contains(out, "expires") {
		t.Errorf("flex access output = %q, want an expiring CRM grant", out)
	}

	out = c.mustRun(t, "expire-flex", "-at", "2100-01-01T00:00:00Z")
	if !strings.Contains(out, "Flex staff expiry") {
		t.Errorf("expire-flex output = %q, want an expiry result", out)
	}

	// The expiry return is still pending and absorbs the manual one.
	out = c.mustRun(t, "flex-return", "-employee", "E2")
	if !strings.Contains(out, `"success": true`) {
		t.Errorf("flex-return output = %s", out)
	}
}

func TestRun_AssignAndDirectory(t *testing.T) {
	c := newCLI(t)

	c.mustRun(t, "onboard", "-employee", "E1", "-role", "Analyst", "-unit", "Finance", "-actor", "ops")

	_, err := c.run(t, "assign", "-employee", "E1")
	if !errors.Is(err, reconcile.ErrPendingEvents) {
		t.Errorf("assign with pending events error = %v, want ErrPendingEvents", err)
	}

	c.completeAll(t, "E1")
	out := c.mustRun(t, "assign", "-employee", "E1")
	if !strings.Contains(out, "Access already matches") {
		t.Errorf("assign output = %s, want nothing to apply", out)
	}

	out = c.mustRun(t, "employees", "-active")
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 1 || !strings.HasPrefix(lines[0], "E1\t") {
		t.Errorf("active employees = %q, want E1 only", out)
	}
	out = c.mustRun(t, "employees")
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 2 {
		t.Errorf("employees = %q, want 2 lines", out)
	}

	out = c.mustRun(t, "headcount")
	var hc directory.Headcount
	if err := json.Unmarshal([]byte(out), &hc); err != nil {
		t.Fatalf("failed to decode headcount output %q: %v", out, err)
	}
	if hc.Total != 2 || hc.Active != 1 {
		t.Errorf("headcount = %+v, want 2 total, 1 active", hc)
	}

	tests := []struct {
		args  []string
		lines int
	}{
		{[]string{"search"}, 1},
		{[]string{"search", "-application", "sap", "-status", "closed completed"}, 1},
		{[]string{"search", "-employee", "E2"}, 0},
		{[]string{"search", "-actor", "ops", "-type", "onboarding"}, 1},
	}
	for _, tt := range tests {
		out := strings.TrimSpace(c.mustRun(t, tt.args...))
		got := 0
		if out != "" {
			got = len(strings.Split(out, "\n"))
		}
		if got != tt.lines {
			t.Errorf("%v = %d lines, want %d:\n%s", tt.args, got, tt.lines, out)
		}
	}
}

func TestUsage(t *testing.T) {
	var buf bytes.Buffer
	usage(&buf)
	for name := range commands {
		if !strings.Contains(buf.String(), name) {
			t.Errorf("usage is missing %s", name)
		}
	}
}
