package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveVerdict("pass")
	m.ObserveVerdict("pass")
	m.ObserveVerdict("fail")
	m.ObserveCache("lru", true)
	m.ObservePlaceholders("no_generator", 20)
	m.ObserveDuplicate()
	m.ObserveBackend("eval", "ok", 2*time.Second)
	m.ObserveProofAttempt("true", "tactic", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Verdicts.WithLabelValues("pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verdicts.WithLabelValues("fail")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("lru", "hit")))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.Placeholders.WithLabelValues("no_generator")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicateTests))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendRuns.WithLabelValues("eval", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProofAttempts.WithLabelValues("true", "tactic", "false")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveVerdict("pass")
		m.ObserveBackend("eval", "ok", time.Second)
		m.ObserveRecord("pbt", "ok")
		m.ObserveDuplicate()
		m.ObserveBreakerState("prover", "open")
	})
}

func TestBreakerStateGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveBreakerState("prover:gpt", "closed")
	m.ObserveBreakerState("prover:gpt", "open")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("prover:gpt", "open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("prover:gpt", "closed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("prover:gpt", "half_open")))
}
