// Package metrics provides Prometheus metrics for the transaction core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Orchestrator metrics
	ActionsTotal   *prometheus.CounterVec
	ApprovalsTotal *prometheus.CounterVec
	Rejected       prometheus.Counter

	// Locator metrics
	LocatorReads   prometheus.Histogram
	LocatorResults *prometheus.CounterVec

	// Reconciliation metrics
	RecordWrites *prometheus.CounterVec
}

// New creates a Metrics instance on its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "stakeflow"
	}
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Contract actions by kind and outcome",
		}, []string{"kind", "outcome"}),
		ApprovalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Allowance checks by result (skipped, confirmed, failed)",
		}, []string{"result"}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_rejected_in_progress_total",
			Help:      "Requests rejected because another action was in flight",
		}),
		LocatorReads: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "locator_reads",
			Help:      "Storage reads per position search",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
		}),
		LocatorResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locator_results_total",
			Help:      "Position searches by result (found, miss, error)",
		}, []string{"result"}),
		RecordWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_writes_total",
			Help:      "Off-chain record writes by result",
		}, []string{"result"}),
	}
	reg.MustRegister(m.ActionsTotal, m.ApprovalsTotal, m.Rejected, m.LocatorReads, m.LocatorResults, m.RecordWrites)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Action(kind, outcome string) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Approval(result string) {
	if m == nil {
		return
	}
	m.ApprovalsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) InProgressRejected() {
	if m == nil {
		return
	}
	m.Rejected.Inc()
}

func (m *Metrics) Search(result string, reads int) {
	if m == nil {
		return
	}
	m.LocatorResults.WithLabelValues(result).Inc()
	m.LocatorReads.Observe(float64(reads))
}

func (m *Metrics) RecordWrite(result string) {
	if m == nil {
		return
	}
	m.RecordWrites.WithLabelValues(result).Inc()
}
