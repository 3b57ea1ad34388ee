package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/accessrecon/internal/jobs"
	"github.com/onnwee/accessrecon/internal/projection"
)

// ExpiryActor is recorded as the actor of automatic flex returns.
const ExpiryActor = "system:flex-expiry"

// ExpireFlex returns every flex grant whose expiration is before now. Each
// employee is handled as its own transition; a failure for one employee does
// not stop the others and all failures are joined into the returned error.
func (e *Engine) ExpireFlex(ctx context.Context, now time.Time) ([]*Result, error) {
	ids, err := e.store.Repos().Ledger.EmployeesWithExpiredFlex(ctx, now)
	if err != nil {
		return nil, storeErr("list expired flex grants", err)
	}

	var (
		results []*Result
		errs    []error
	)
	for _, id := range ids {
		res, err := e.expireEmployee(ctx, id, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("employee %s: %w", id, err))
			continue
		}
		if len(res.Events) > 0 || len(res.Absorbed) > 0 {
			results = append(results, res)
		}
	}
	return results, errors.Join(errs...)
}

func (e *Engine) expireEmployee(ctx context.Context, employeeID string, now time.Time) (*Result, error) {
	return e.run(ctx, TransitionFlexExpire, employeeID, ExpiryActor, func(ctx context.Context, t *txn) error {
		events, err := t.events(ctx)
		if err != nil {
			return err
		}
		var expired []projection.Access
		for _, a := range projection.FlexStaffAccess(events) {
			if a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
				expired = append(expired, a)
			}
		}
		if err := returnFlex(ctx, t, expired, "flex staff expired"); err != nil {
			return err
		}
		t.result.Message = summarize(
			fmt.Sprintf("Flex staff expiry: %d access revoke(s) created for %s", len(t.result.Events), t.employee.ID),
			t.result)
		return nil
	})
}

// JobMetrics receives background job outcomes.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// ExpiryJobConfig configures the flex expiry job.
type ExpiryJobConfig struct {
	// Interval is the duration between sweeps.
	Interval time.Duration
	// Timeout bounds a single sweep.
	Timeout    time.Duration
	Logger     *slog.Logger
	JobMetrics JobMetrics
}

// Defaults for ExpiryJobConfig.
const (
	DefaultExpiryInterval = time.Hour
	DefaultExpiryTimeout  = 5 * time.Minute
)

// ExpiryJob periodically runs ExpireFlex.
type ExpiryJob struct {
	config ExpiryJobConfig
	engine *Engine

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewExpiryJob creates a flex expiry job for the engine.
func NewExpiryJob(config ExpiryJobConfig, engine *Engine) *ExpiryJob {
	if config.Interval == 0 {
		config.Interval = DefaultExpiryInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultExpiryTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &ExpiryJob{config: config, engine: engine}
}

// Start begins the periodic sweep in a background goroutine.
func (j *ExpiryJob) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.loop(ctx)
	return nil
}

// Stop signals the job to stop and waits for it to finish.
func (j *ExpiryJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *ExpiryJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *ExpiryJob) loop(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("flex expiry job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("flex expiry job stopping due to stop signal")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

// RunNow runs one sweep immediately and returns the number of revokes created.
func (j *ExpiryJob) RunNow(ctx context.Context) int {
	return j.sweep(ctx)
}

func (j *ExpiryJob) sweep(parent context.Context) int {
	ctx, cancel := context.WithTimeout(parent, j.config.Timeout)
	defer cancel()

	start := time.Now()
	results, err := j.engine.ExpireFlex(ctx, j.engine.now())
	duration := time.Since(start).Seconds()

	created := 0
	for _, res := range results {
		created += len(res.Events)
	}

	status := jobs.StatusSuccess
	if err != nil {
		status = jobs.StatusFailure
		errorType := "expire_error"
		if errors.Is(err, context.DeadlineExceeded) {
			errorType = "timeout"
		}
		j.config.Logger.Error("flex expiry sweep failed",
			slog.String("error", err.Error()),
			slog.Int("employees_processed", len(results)))
		if j.config.JobMetrics != nil {
			j.config.JobMetrics.IncJobErrors(jobs.JobTypeFlexExpiry, errorType)
		}
	}
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(jobs.JobTypeFlexExpiry, status)
		j.config.JobMetrics.ObserveJobDuration(jobs.JobTypeFlexExpiry, duration)
	}

	j.config.Logger.Info("flex expiry sweep completed",
		slog.Float64("duration_seconds", duration),
		slog.Int("employees", len(results)),
		slog.Int("revokes_created", created))
	return created
}
