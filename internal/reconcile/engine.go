// Package reconcile implements the lifecycle transitions that turn an
// employee's entitled access and effective access into grant and revoke
// requests on the access ledger.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/accessrecon/internal/catalog"
	"github.com/onnwee/accessrecon/internal/directory"
	"github.com/onnwee/accessrecon/internal/ledger"
	"github.com/onnwee/accessrecon/internal/lock"
	"github.com/onnwee/accessrecon/internal/projection"
	"github.com/onnwee/accessrecon/internal/store"
	"github.com/onnwee/accessrecon/internal/tracing"
)

// Transition names, used for case ID prefixes, metrics and logs.
const (
	TransitionOnboard     = "onboard"
	TransitionLateralMove = "lateral_move"
	TransitionFlexAssign  = "flex_assign"
	TransitionFlexReturn  = "flex_return"
	TransitionOffboard    = "offboard"
	TransitionManualGrant = "manual_grant"
	TransitionRevoke      = "revoke"
	TransitionFlexExpire  = "flex_expire"
	TransitionApplyReport = "apply_report"
)

var casePrefixes = map[string]string{
	TransitionOnboard:     "CASE",
	TransitionLateralMove: "LATERAL",
	TransitionFlexAssign:  "FLEX",
	TransitionFlexReturn:  "RETURN",
	TransitionOffboard:    "CASE",
	TransitionManualGrant: "MANUAL",
	TransitionRevoke:      "REVOKE",
	TransitionFlexExpire:  "EXPIRE",
	TransitionApplyReport: "CASE",
}

// Result is returned by every lifecycle transition.
type Result struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message"`
	CaseID   string         `json:"case_id"`
	Events   []ledger.Event `json:"created_events"`
	Absorbed []string       `json:"absorbed,omitempty"` // applications already pending
	Skipped  []string       `json:"skipped,omitempty"`  // applications not revoked by offboarding
}

// Config wires an Engine.
type Config struct {
	Store   store.Store
	Locker  lock.Locker
	Logger  *slog.Logger
	Metrics *Metrics

	// Now returns the current time. Defaults to time.Now in UTC.
	Now func() time.Time
	// NewCaseID builds a case identifier. Defaults to PREFIX-timestamp-random.
	NewCaseID func(prefix string, now time.Time) string
}

// Engine runs lifecycle transitions. It is safe for concurrent use; calls for
// the same employee are serialized by the Locker.
type Engine struct {
	store     store.Store
	locker    lock.Locker
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
	newCaseID func(prefix string, now time.Time) string
}

// NewEngine creates an Engine. Store is required.
func NewEngine(cfg Config) *Engine {
	if cfg.Locker == nil {
		cfg.Locker = lock.NewLocalLocker()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewCaseID == nil {
		cfg.NewCaseID = defaultCaseID
	}
	return &Engine{
		store:     cfg.Store,
		locker:    cfg.Locker,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
		newCaseID: cfg.NewCaseID,
	}
}

func defaultCaseID(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102150405"), uuid.New().String()[:8])
}

// txn carries the state of one transition inside its transaction.
type txn struct {
	repos    store.Repos
	employee *directory.Employee
	actor    string
	now      time.Time
	result   *Result
}

// append records an event for the employee, filling the case, actor and
// timestamps. Absorbed appends are reported in the result.
func (t *txn) append(ctx context.Context, ev ledger.Event) error {
	ev.EmployeeID = t.employee.ID
	ev.EmployeeEmail = t.employee.Email
	ev.CaseID = t.result.CaseID
	ev.Actor = t.actor
	ev.Status = ledger.Pending
	ev.CreatedAt = t.now

	res, err := t.repos.Ledger.Append(ctx, ev)
	if err != nil {
		return storeErr("append "+ev.Type.String()+" event for "+ev.Application, err)
	}
	if res.Inserted {
		t.result.Events = append(t.result.Events, res.Event)
	} else {
		t.result.Absorbed = append(t.result.Absorbed, ev.Application)
	}
	return nil
}

// events loads the employee's ledger within the transaction.
func (t *txn) events(ctx context.Context) ([]ledger.Event, error) {
	events, err := t.repos.Ledger.ListByEmployee(ctx, t.employee.ID)
	if err != nil {
		return nil, storeErr("list events", err)
	}
	return events, nil
}

// updateEmployee applies a directory update and refreshes the cached record.
func (t *txn) updateEmployee(ctx context.Context, u directory.Update) error {
	if u.IsEmpty() {
		return nil
	}
	updated, err := t.repos.Directory.Update(ctx, t.employee.ID, u)
	if err != nil {
		return storeErr("update employee", err)
	}
	t.employee = updated
	return nil
}

// run executes body as one serialized, atomic transition for the employee.
func (e *Engine) run(ctx context.Context, transition, employeeID, actor string, body func(ctx context.Context, t *txn) error) (res *Result, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "reconcile."+transition)
	start := time.Now()
	defer func() {
		endSpan(err)
		if e.metrics != nil {
			outcome := OutcomeSuccess
			if err != nil {
				outcome = OutcomeFailure
			}
			e.metrics.ObserveTransition(transition, outcome, time.Since(start).Seconds())
		}
	}()
	tracing.SetAttributes(ctx,
		attribute.String("employee_id", employeeID),
		attribute.String("transition", transition))

	if err := required("employee_id", employeeID); err != nil {
		return nil, err
	}

	release, err := e.locker.Acquire(ctx, employeeID)
	if err != nil {
		return nil, storeErr("acquire employee lock", err)
	}
	defer release()

	now := e.now()
	t := &txn{
		actor:  actor,
		now:    now,
		result: &Result{CaseID: e.newCaseID(casePrefixes[transition], now)},
	}

	err = e.store.WithinTx(ctx, employeeID, func(ctx context.Context, r store.Repos) error {
		t.repos = r
		t.result.Events = nil
		t.result.Absorbed = nil
		t.result.Skipped = nil

		emp, err := r.Directory.Get(ctx, employeeID)
		if errors.Is(err, directory.ErrEmployeeNotFound) {
			return fmt.Errorf("%w: employee %s: %w", ErrNotFound, employeeID, err)
		}
		if err != nil {
			return storeErr("get employee", err)
		}
		t.employee = emp
		return body(ctx, t)
	})
	if err != nil {
		e.logger.WarnContext(ctx, "lifecycle transition failed",
			slog.String("transition", transition),
			slog.String("employee_id", employeeID),
			slog.String("error", err.Error()))
		return nil, err
	}

	t.result.Success = true
	e.record(transition, t.result)

	e.logger.InfoContext(ctx, "lifecycle transition completed",
		slog.String("transition", transition),
		slog.String("employee_id", employeeID),
		slog.String("case_id", t.result.CaseID),
		slog.String("actor", actor),
		slog.Int("created", len(t.result.Events)),
		slog.Int("absorbed", len(t.result.Absorbed)),
		slog.Int("skipped", len(t.result.Skipped)))
	tracing.AddEvent(ctx, "events_created", attribute.Int("count", len(t.result.Events)))

	return t.result, nil
}

func (e *Engine) record(transition string, res *Result) {
	if e.metrics == nil {
		return
	}
	for _, ev := range res.Events {
		e.metrics.IncEventsCreated(ev.Type.String())
	}
	if len(res.Absorbed) > 0 {
		e.metrics.AddAbsorbed(transition, len(res.Absorbed))
	}
	if len(res.Skipped) > 0 {
		e.metrics.AddSkipped(len(res.Skipped))
	}
}

// meshGoverned keeps the permanent accesses (onboarding and lateral
// movement) whose application appears in the catalog.
func meshGoverned(ctx context.Context, cat catalog.Repository, accesses []projection.Access) ([]projection.Access, error) {
	var out []projection.Access
	for _, a := range projection.Filter(accesses, ledger.Onboarding, ledger.LateralMovement) {
		_, found, err := cat.ApplicationStatus(ctx, a.Application)
		if err != nil {
			return nil, storeErr("get application status", err)
		}
		if found {
			out = append(out, a)
		}
	}
	return out, nil
}

// applicationKeys returns the normalized application of each access.
func applicationKeys(accesses []projection.Access) []string {
	keys := make([]string, len(accesses))
	for i, a := range accesses {
		keys[i] = a.Key()
	}
	return keys
}

// summarize appends the absorbed applications to a message.
func summarize(msg string, res *Result) string {
	if len(res.Absorbed) > 0 {
		msg += fmt.Sprintf("; already pending: %s", strings.Join(res.Absorbed, ", "))
	}
	return msg
}

func trim(s string) string {
	return strings.TrimSpace(s)
}
