package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricTransitionsTotal     = "access_transitions_total"
	MetricTransitionDuration   = "access_transition_duration_seconds"
	MetricEventsCreatedTotal   = "access_events_created_total"
	MetricAppendsAbsorbedTotal = "access_appends_absorbed_total"
	MetricRevokesSkippedTotal  = "access_revokes_skipped_total"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics contains Prometheus metrics for lifecycle transitions.
// All operations are thread-safe.
type Metrics struct {
	transitionsTotal   *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	eventsCreated      *prometheus.CounterVec
	appendsAbsorbed    *prometheus.CounterVec
	revokesSkipped     prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricTransitionsTotal,
				Help: "Total number of lifecycle transitions by transition and outcome",
			},
			[]string{"transition", "outcome"},
		),
		transitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricTransitionDuration,
				Help:    "Histogram of lifecycle transition duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"transition"},
		),
		eventsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEventsCreatedTotal,
				Help: "Total number of access events appended by event type",
			},
			[]string{"event_type"},
		),
		appendsAbsorbed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAppendsAbsorbedTotal,
				Help: "Total number of appends absorbed by an existing pending event",
			},
			[]string{"transition"},
		),
		revokesSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricRevokesSkippedTotal,
				Help: "Total number of offboarding revokes skipped for inactive applications",
			},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveTransition records the outcome and duration of one transition.
func (m *Metrics) ObserveTransition(transition, outcome string, seconds float64) {
	m.transitionsTotal.WithLabelValues(transition, outcome).Inc()
	m.transitionDuration.WithLabelValues(transition).Observe(seconds)
}

// IncEventsCreated increments the created events counter.
func (m *Metrics) IncEventsCreated(eventType string) {
	m.eventsCreated.WithLabelValues(eventType).Inc()
}

// AddAbsorbed adds n absorbed appends for the transition.
func (m *Metrics) AddAbsorbed(transition string, n int) {
	m.appendsAbsorbed.WithLabelValues(transition).Add(float64(n))
}

// AddSkipped adds n skipped offboarding revokes.
func (m *Metrics) AddSkipped(n int) {
	m.revokesSkipped.Add(float64(n))
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.transitionsTotal,
		m.transitionDuration,
		m.eventsCreated,
		m.appendsAbsorbed,
		m.revokesSkipped,
	}
}
