package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the oracle pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	BackendRuns     *prometheus.CounterVec
	BackendDuration *prometheus.HistogramVec
	Verdicts        *prometheus.CounterVec
	ProofAttempts   *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	Placeholders    *prometheus.CounterVec
	DuplicateTests  prometheus.Counter
	Records         *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
}

// New creates and registers all metrics with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BackendRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pbt_backend_runs_total",
				Help: "Backend script invocations by script kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		BackendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pbt_backend_duration_seconds",
				Help:    "Wall time of backend script invocations",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),
		Verdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pbt_verdicts_total",
				Help: "Oracle verdicts by status",
			},
			[]string{"status"},
		),
		ProofAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pbt_proof_attempts_total",
				Help: "Proof attempts by side (true/false), strategy and acceptance",
			},
			[]string{"side", "strategy", "accepted"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pbt_verdict_cache_lookups_total",
				Help: "Proof acceptance cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		Placeholders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pbt_sampler_placeholders_total",
				Help: "Sample slots filled with the deferred placeholder, by reason",
			},
			[]string{"reason"},
		),
		DuplicateTests: factory.NewCounter(prometheus.CounterOpts{
			Name: "pbt_duplicate_tests_total",
			Help: "Test vectors skipped as duplicates",
		}),
		Records: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pbt_batch_records_total",
				Help: "Batch records by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pbt_prover_breaker_state",
				Help: "Model endpoint circuit breaker state, 1 for the current state",
			},
			[]string{"breaker", "state"},
		),
	}
}

// breakerStates lists every circuit breaker state label
var breakerStates = []string{"closed", "open", "half_open"}

// ObserveBreakerState marks state as the current state of breaker
func (m *Metrics) ObserveBreakerState(breaker, state string) {
	if m == nil {
		return
	}
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.BreakerState.WithLabelValues(breaker, s).Set(v)
	}
}

// ObserveBackend records one backend invocation
func (m *Metrics) ObserveBackend(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendRuns.WithLabelValues(kind, outcome).Inc()
	m.BackendDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveVerdict records one oracle verdict
func (m *Metrics) ObserveVerdict(status string) {
	if m == nil {
		return
	}
	m.Verdicts.WithLabelValues(status).Inc()
}

// ObserveProofAttempt records one proof attempt
func (m *Metrics) ObserveProofAttempt(side, strategy string, accepted bool) {
	if m == nil {
		return
	}
	label := "false"
	if accepted {
		label = "true"
	}
	m.ProofAttempts.WithLabelValues(side, strategy, label).Inc()
}

// ObserveCache records one cache lookup
func (m *Metrics) ObserveCache(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(tier, result).Inc()
}

// ObservePlaceholders records n placeholder substitutions
func (m *Metrics) ObservePlaceholders(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Placeholders.WithLabelValues(reason).Add(float64(n))
}

// ObserveDuplicate records one skipped duplicate vector
func (m *Metrics) ObserveDuplicate() {
	if m == nil {
		return
	}
	m.DuplicateTests.Inc()
}

// ObserveRecord records one batch record outcome
func (m *Metrics) ObserveRecord(mode, outcome string) {
	if m == nil {
		return
	}
	m.Records.WithLabelValues(mode, outcome).Inc()
}
