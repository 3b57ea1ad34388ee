package reconcile

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/accessrecon/internal/directory"
	"github.com/onnwee/accessrecon/internal/jobs"
	"github.com/onnwee/accessrecon/internal/ledger"
)

func TestExpireFlex(t *testing.T) {
	f := newFixture(t,
		entitlement("UnitC", "RoleZ", "SAP"),
		entitlement("UnitD", "RoleW", "CRM"),
	)
	f.addEmployee(t, directory.Employee{ID: "E1"})
	f.addEmployee(t, directory.Employee{ID: "E2"})
	ctx := context.Background()

	if _, err := f.engine.FlexAssign(ctx, FlexAssignRequest{EmployeeID: "E1", TempRole: "RoleZ", TempUnit: "UnitC", DurationDays: 1}); err != nil {
		t.Fatalf("FlexAssign(E1) error = %v", err)
	}
	if _, err := f.engine.FlexAssign(ctx, FlexAssignRequest{EmployeeID: "E2", TempRole: "RoleW", TempUnit: "UnitD", DurationDays: 30}); err != nil {
		t.Fatalf("FlexAssign(E2) error = %v", err)
	}
	f.completeAll(t, "E1")
	f.completeAll(t, "E2")

	now := f.clock.Now().AddDate(0, 0, 3)
	results, err := f.engine.ExpireFlex(ctx, now)
	if err != nil {
		t.Fatalf("ExpireFlex() error = %v", err)
	}
	if len(results) != 1 || len(results[0].Events) != 1 {
		t.Fatalf("ExpireFlex() results = %+v, want one revoke", results)
	}
	ev := results[0].Events[0]
	if ev.EmployeeID != "E1" || ev.Application != "SAP" || ev.Type != ledger.FlexStaffReturn {
		t.Errorf("expiry event = %s %s %s, want E1 SAP flex_staff_return", ev.EmployeeID, ev.Application, ev.Type)
	}
	if !strings.Contains(ev.Description, "flex staff expired") || ev.Actor != ExpiryActor {
		t.Errorf("expiry event description/actor = %q/%q", ev.Description, ev.Actor)
	}
	if !strings.HasPrefix(results[0].CaseID, "EXPIRE-") {
		t.Errorf("CaseID = %q, want EXPIRE- prefix", results[0].CaseID)
	}

	again, err := f.engine.ExpireFlex(ctx, now)
	if err != nil {
		t.Fatalf("second ExpireFlex() error = %v", err)
	}
	for _, res := range again {
		if len(res.Events) != 0 {
			t.Errorf("second sweep created %v", eventApps(res.Events))
		}
	}
}

type recordingJobMetrics struct {
	mu     sync.Mutex
	totals map[string]int
	errors map[string]int
	runs   int
}

func newRecordingJobMetrics() *recordingJobMetrics {
	return &recordingJobMetrics{totals: make(map[string]int), errors: make(map[string]int)}
}

func (m *recordingJobMetrics) IncJobsTotal(jobType, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[jobType+"/"+status]++
}

func (m *recordingJobMetrics) ObserveJobDuration(jobType string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
}

func (m *recordingJobMetrics) IncJobErrors(jobType, errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[jobType+"/"+errorType]++
}

func TestExpiryJob_StartStop(t *testing.T) {
	f := newFixture(t)
	job := NewExpiryJob(ExpiryJobConfig{Interval: 10 * time.Millisecond, Logger: newTestLogger()}, f.engine)

	if job.IsRunning() {
		t.Error("job running before Start")
	}
	ctx := context.Background()
	if err := job.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := job.Start(ctx); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if !job.IsRunning() {
		t.Error("job not running after Start")
	}
	job.Stop()
	if job.IsRunning() {
		t.Error("job running after Stop")
	}
	job.Stop()
}

func TestExpiryJob_RunNow(t *testing.T) {
	f := newFixture(t, entitlement("UnitC", "RoleZ", "SAP"))
	f.addEmployee(t, directory.Employee{ID: "E1"})
	ctx := context.Background()

	if _, err := f.engine.FlexAssign(ctx, FlexAssignRequest{EmployeeID: "E1", TempRole: "RoleZ", TempUnit: "UnitC", DurationDays: 1}); err != nil {
		t.Fatalf("FlexAssign() error = %v", err)
	}
	f.completeAll(t, "E1")
	f.clock.Advance(72 * time.Hour)

	metrics := newRecordingJobMetrics()
	job := NewExpiryJob(ExpiryJobConfig{Logger: newTestLogger(), JobMetrics: metrics}, f.engine)
	if got := job.RunNow(ctx); got != 1 {
		t.Errorf("RunNow() = %d, want 1", got)
	}
	if got := metrics.totals[jobs.JobTypeFlexExpiry+"/"+jobs.StatusSuccess]; got != 1 {
		t.Errorf("flex_expiry success runs = %d, want 1", got)
	}
	if metrics.runs != 1 {
		t.Errorf("duration samples = %d, want 1", metrics.runs)
	}
}
