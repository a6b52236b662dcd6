// Package metrics exposes Prometheus instrumentation for resolution runs.
// All methods are nil-safe so tests can pass a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	runsTotal            *prometheus.CounterVec
	runDuration          prometheus.Histogram
	stageDuration        *prometheus.HistogramVec
	rulesEvaluated       prometheus.Counter
	controlsMaterialized prometheus.Histogram
	lockWait             prometheus.Histogram
}

// New registers resolution metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "controlplane",
			Subsystem: "resolution",
			Name:      "runs_total",
			Help:      "Resolution runs by terminal status.",
		}, []string{"status"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "controlplane",
			Subsystem: "resolution",
			Name:      "run_duration_seconds",
			Help:      "End-to-end resolution run duration.",
			Buckets:   prometheus.DefBuckets,
		}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "controlplane",
			Subsystem: "resolution",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each resolution stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		rulesEvaluated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "controlplane",
			Subsystem: "resolution",
			Name:      "rules_evaluated_total",
			Help:      "Applicability rules evaluated across all runs.",
		}),
		controlsMaterialized: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "controlplane",
			Subsystem: "resolution",
			Name:      "controls_materialized",
			Help:      "Control set entries produced per run.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000},
		}),
		lockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "controlplane",
			Subsystem: "resolution",
			Name:      "tenant_lock_wait_seconds",
			Help:      "Time spent waiting for the per-tenant lock.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) RecordRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) AddRulesEvaluated(n int) {
	if m == nil {
		return
	}
	m.rulesEvaluated.Add(float64(n))
}

func (m *Metrics) ObserveControls(n int) {
	if m == nil {
		return
	}
	m.controlsMaterialized.Observe(float64(n))
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}
