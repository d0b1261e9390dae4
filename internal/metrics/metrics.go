// Package metrics exposes the prometheus instruments shared across the
// service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the instruments the orchestrator and handlers record.
type Metrics struct {
	registry *prometheus.Registry

	TasksCreated     prometheus.Counter
	TaskTransitions  *prometheus.CounterVec
	FundingCreated   *prometheus.CounterVec
	SettlementsSats  prometheus.Counter
	OperationErrors  *prometheus.CounterVec
	PublishFailures  prometheus.Counter
	ActiveHoldsGauge prometheus.Gauge
}

// New registers all instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		TasksCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "satwork_tasks_created_total",
			Help: "Tasks created.",
		}),
		TaskTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "satwork_task_transitions_total",
			Help: "Task state transitions by target state.",
		}, []string{"to"}),
		FundingCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "satwork_funding_created_total",
			Help: "Funding attempts by rail.",
		}, []string{"mode"}),
		SettlementsSats: factory.NewCounter(prometheus.CounterOpts{
			Name: "satwork_settled_sats_total",
			Help: "Total sats settled to workers.",
		}),
		OperationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "satwork_operation_errors_total",
			Help: "Orchestrator operation errors by error kind.",
		}, []string{"op", "kind"}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "satwork_publish_failures_total",
			Help: "Relay publish failures (non-fatal).",
		}),
		ActiveHoldsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "satwork_active_holds",
			Help: "Live hold invoices in the escrow engine.",
		}),
	}
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
