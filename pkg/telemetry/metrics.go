package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus primitives for metered admissions and rollup reconciliation.
type Metrics struct {
	admissions        *prometheus.CounterVec
	admissionDuration *prometheus.HistogramVec
	reconcileRuns     *prometheus.CounterVec
	rollupDrift       *prometheus.GaugeVec
}

// NewMetrics registers the collectors on reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	admissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "creditmeter_admissions_total",
		Help: "Metered admissions by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	admissionDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "creditmeter_admission_duration_seconds",
		Help:    "Latency of the admission transaction per endpoint.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	reconcileRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "creditmeter_reconcile_runs_total",
		Help: "Rollup reconciliation runs by status.",
	}, []string{"status"})

	rollupDrift := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "creditmeter_rollup_drift_rows",
		Help: "Rollup rows that disagreed with the ledger in the last reconciliation.",
	}, []string{"period_start"})

	for _, c := range []prometheus.Collector{admissions, admissionDuration, reconcileRuns, rollupDrift} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &Metrics{
		admissions:        admissions,
		admissionDuration: admissionDuration,
		reconcileRuns:     reconcileRuns,
		rollupDrift:       rollupDrift,
	}, nil
}

// ObserveAdmission records one admission attempt and its latency.
func (m *Metrics) ObserveAdmission(endpoint, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	endpointLabel := sanitizeLabel(endpoint)
	m.admissions.WithLabelValues(endpointLabel, sanitizeLabel(outcome)).Inc()
	m.admissionDuration.WithLabelValues(endpointLabel).Observe(duration.Seconds())
}

// ObserveReconcile records a reconciliation run and the number of drifted rows.
func (m *Metrics) ObserveReconcile(periodStart, status string, drifted int) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(sanitizeLabel(status)).Inc()
	m.rollupDrift.WithLabelValues(sanitizeLabel(periodStart)).Set(float64(drifted))
}

func sanitizeLabel(val string) string {
	if val == "" {
		return "unknown"
	}
	return val
}
