// Package metrics provides Prometheus metrics collection for the
// controller (spec SPEC_FULL.md "Observability"), grounded on the
// teacher's infrastructure/metrics.Metrics collector shape but reworked
// around the orchestrator's own domain events: HTTP traffic, heartbeats,
// quick-test outcomes and campaign-cell outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kitt-bench/controller/internal/runtime"
)

// Metrics holds every Prometheus collector the controller exposes on
// /metrics.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	ErrorsTotal *prometheus.CounterVec

	HeartbeatsTotal    *prometheus.CounterVec
	AgentsOnline       prometheus.Gauge
	QuickTestsTotal    *prometheus.CounterVec
	QuickTestDuration  *prometheus.HistogramVec
	CampaignCellsTotal *prometheus.CounterVec

	SSESubscribers prometheus.Gauge

	ServiceInfo *prometheus.GaugeVec
}

// New creates a Metrics instance registered against prometheus's default
// registry.
func New(serviceName, version string) *Metrics {
	return NewWithRegistry(serviceName, version, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against a specific
// registerer, letting tests use a private registry instead of the global
// default (which would otherwise panic on double-registration across
// table-driven tests).
func NewWithRegistry(serviceName, version string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kitt_http_requests_total",
				Help: "Total number of HTTP requests served by the controller.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kitt_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kitt_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kitt_errors_total",
				Help: "Total number of ServiceErrors returned, by taxonomy code.",
			},
			[]string{"code"},
		),
		HeartbeatsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kitt_agent_heartbeats_total",
				Help: "Total number of agent heartbeats accepted.",
			},
			[]string{"agent_id"},
		),
		AgentsOnline: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kitt_agents_online",
				Help: "Current number of agents considered reachable.",
			},
		),
		QuickTestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kitt_quicktests_total",
				Help: "Total number of quick tests reaching a terminal state, by status.",
			},
			[]string{"engine", "status"},
		),
		QuickTestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kitt_quicktest_duration_seconds",
				Help:    "Quick test wall-clock duration from dispatch to terminal state.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
			},
			[]string{"engine"},
		),
		CampaignCellsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kitt_campaign_cells_total",
				Help: "Total number of campaign matrix cells reaching a terminal state, by status.",
			},
			[]string{"status"},
		),
		SSESubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kitt_sse_subscribers",
				Help: "Current number of open SSE event-stream connections.",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kitt_service_info",
				Help: "Static service build information.",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal, m.RequestDuration, m.RequestsInFlight, m.ErrorsTotal,
			m.HeartbeatsTotal, m.AgentsOnline, m.QuickTestsTotal, m.QuickTestDuration,
			m.CampaignCellsTotal, m.SSESubscribers, m.ServiceInfo,
		)
	}
	m.ServiceInfo.WithLabelValues(serviceName, version, string(runtime.Env())).Set(1)
	return m
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordError records one ServiceError, labelled by its taxonomy code
// (spec apperrors.Code).
func (m *Metrics) RecordError(code string) {
	m.ErrorsTotal.WithLabelValues(code).Inc()
}

// RecordHeartbeat records one accepted heartbeat from agentID.
func (m *Metrics) RecordHeartbeat(agentID string) {
	m.HeartbeatsTotal.WithLabelValues(agentID).Inc()
}

// SetAgentsOnline sets the current reachable-agent gauge.
func (m *Metrics) SetAgentsOnline(n int) {
	m.AgentsOnline.Set(float64(n))
}

// RecordQuickTest records a quick test reaching a terminal status.
func (m *Metrics) RecordQuickTest(engine, status string, duration time.Duration) {
	m.QuickTestsTotal.WithLabelValues(engine, status).Inc()
	m.QuickTestDuration.WithLabelValues(engine).Observe(duration.Seconds())
}

// RecordCampaignCell records a campaign matrix cell reaching a terminal
// status.
func (m *Metrics) RecordCampaignCell(status string) {
	m.CampaignCellsTotal.WithLabelValues(status).Inc()
}

// IncSSESubscribers / DecSSESubscribers track open event-stream connections.
func (m *Metrics) IncSSESubscribers() { m.SSESubscribers.Inc() }
func (m *Metrics) DecSSESubscribers() { m.SSESubscribers.Dec() }
