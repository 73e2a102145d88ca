package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for identity matching and registration.
type Metrics struct {
	// Outcomes by operation ("identify", "register") and outcome
	// ("matched", "no_match", "registered", "already_exists", or an error code).
	Outcomes *prometheus.CounterVec

	// Full scan duration by policy
	ScanLatency *prometheus.HistogramVec

	// Candidates scored per scan
	CandidatesCompared prometheus.Histogram

	// Time spent waiting for the registration lock
	LockWait prometheus.Histogram

	RecordsInserted prometheus.Counter
}

// New registers metrics with the default Prometheus registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers metrics with reg. Tests pass a fresh registry so
// repeated construction does not collide.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "herdbook_identity_outcomes_total",
			Help: "Identify and register outcomes by operation and outcome",
		}, []string{"operation", "outcome"}),

		ScanLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "herdbook_identity_scan_duration_seconds",
			Help:    "Duration of a full match scan over the record store",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"policy"}),

		CandidatesCompared: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "herdbook_identity_candidates_compared",
			Help:    "Number of stored records scored per match scan",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),

		LockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "herdbook_identity_register_lock_wait_seconds",
			Help:    "Time register calls wait for the registration lock",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}),

		RecordsInserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "herdbook_identity_records_inserted_total",
			Help: "Total identity records admitted by register",
		}),
	}
}

// IncrementOutcome records an operation outcome.
func (m *Metrics) IncrementOutcome(operation, outcome string) {
	if m != nil {
		m.Outcomes.WithLabelValues(operation, outcome).Inc()
	}
}

// ObserveScan records a completed scan.
func (m *Metrics) ObserveScan(policy string, d time.Duration, compared int) {
	if m != nil {
		m.ScanLatency.WithLabelValues(policy).Observe(d.Seconds())
		m.CandidatesCompared.Observe(float64(compared))
	}
}

// ObserveLockWait records how long a register call waited for the lock.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m != nil {
		m.LockWait.Observe(d.Seconds())
	}
}

// IncrementInserted counts a newly admitted record.
func (m *Metrics) IncrementInserted() {
	if m != nil {
		m.RecordsInserted.Inc()
	}
}
