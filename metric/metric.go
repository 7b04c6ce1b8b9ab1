// Package metric exposes Prometheus collectors for plan execution. A nil
// *Metrics is valid and records nothing, so callers never need to check.
package metric

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "semplan"

// Oracle call outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Stages that can produce Absent cells.
const (
	StagePerception = "perception"
	StageCognition  = "cognition"
	StageAction     = "action"
	StageActuation  = "actuation"
)

// Metrics holds the semplan collectors.
type Metrics struct {
	oracleCalls       *prometheus.CounterVec
	oracleDuration    *prometheus.HistogramVec
	absentCells       *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. Collectors that are
// already registered are reused, so New may be called once per plan run.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Oracle calls by role and outcome.",
		}, []string{"role", "outcome"}),
		oracleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_call_duration_seconds",
			Help:      "Oracle call latency by role.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"role"}),
		absentCells: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "absent_cells_total",
			Help:      "Cells that became Absent, by stage.",
		}, []string{"stage"}),
		inferenceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Inference execution latency by target concept.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"concept"}),
	}

	var err error
	m.oracleCalls, err = register(reg, m.oracleCalls)
	if err != nil {
		return nil, err
	}
	m.oracleDuration, err = register(reg, m.oracleDuration)
	if err != nil {
		return nil, err
	}
	m.absentCells, err = register(reg, m.absentCells)
	if err != nil {
		return nil, err
	}
	m.inferenceDuration, err = register(reg, m.inferenceDuration)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveOracleCall records one oracle call.
func (m *Metrics) ObserveOracleCall(role, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.oracleCalls.WithLabelValues(role, outcome).Inc()
	m.oracleDuration.WithLabelValues(role).Observe(d.Seconds())
}

// AddAbsent counts n cells that became Absent at stage.
func (m *Metrics) AddAbsent(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.absentCells.WithLabelValues(stage).Add(float64(n))
}

// ObserveInference records how long the inference producing concept took.
func (m *Metrics) ObserveInference(concept string, d time.Duration) {
	if m == nil {
		return
	}
	m.inferenceDuration.WithLabelValues(concept).Observe(d.Seconds())
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
