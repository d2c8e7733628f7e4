// Package telemetry records Prometheus metrics for detection runs.
package telemetry

import (
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the run collectors of one registry.
type Recorder struct {
	gatherer prometheus.Gatherer

	runsTotal            *prometheus.CounterVec
	runFailures          *prometheus.CounterVec
	transactionsAnalyzed prometheus.Counter
	transactionsFlagged  prometheus.Counter
	violationsTotal      *prometheus.CounterVec
	runDuration          *prometheus.HistogramVec
}

// NewRecorder registers the run collectors on reg.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		gatherer: reg,
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kestrel",
				Subsystem: "detection",
				Name:      "runs_total",
				Help:      "Completed detection runs",
			},
			[]string{"configuration"},
		),
		runFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kestrel",
				Subsystem: "detection",
				Name:      "run_failures_total",
				Help:      "Detection runs rejected or aborted",
			},
			[]string{"configuration"},
		),
		transactionsAnalyzed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "kestrel",
				Subsystem: "detection",
				Name:      "transactions_analyzed_total",
				Help:      "Transactions screened across all runs",
			},
		),
		transactionsFlagged: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "kestrel",
				Subsystem: "detection",
				Name:      "transactions_flagged_total",
				Help:      "Transactions with at least one violation",
			},
		),
		violationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kestrel",
				Subsystem: "detection",
				Name:      "violations_total",
				Help:      "Rule violations by rule identifier",
			},
			[]string{"rule"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "kestrel",
				Subsystem: "detection",
				Name:      "run_duration_seconds",
				Help:      "Wall time of a detection run",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
			},
			[]string{"configuration"},
		),
	}
}

// ObserveRun records a completed run.
func (r *Recorder) ObserveRun(configuration string, m domain.Metrics, elapsed time.Duration) {
	r.runsTotal.WithLabelValues(configuration).Inc()
	r.runDuration.WithLabelValues(configuration).Observe(elapsed.Seconds())
	r.transactionsAnalyzed.Add(float64(m.TotalTransactions))
	r.transactionsFlagged.Add(float64(m.FlaggedCount))
	for rule, n := range m.ViolationsByRule {
		r.violationsTotal.WithLabelValues(string(rule)).Add(float64(n))
	}
}

// ObserveFailure records a run that did not complete.
func (r *Recorder) ObserveFailure(configuration string) {
	r.runFailures.WithLabelValues(configuration).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
