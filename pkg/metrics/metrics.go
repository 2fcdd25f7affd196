// Package metrics is the Prometheus registry exposed on the control API's
// /metrics endpoint. Every metric is registered against a dedicated
// prometheus.Registry rather than the global default, so constructing more
// than one Registry in a test never panics on duplicate registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter/gauge edged reports, each partitioned the
// way spec.md §4.9's /metrics description asks for.
type Registry struct {
	reg *prometheus.Registry

	ReconcilePasses     *prometheus.CounterVec
	ReconcileActions    *prometheus.CounterVec
	PollOutcomes        *prometheus.CounterVec
	ReportOutcomes      *prometheus.CounterVec
	AdapterHealth       *prometheus.GaugeVec
	AdapterSamples      *prometheus.CounterVec
	LogRingDropsTotal   prometheus.Counter
	ConnectionHealth    prometheus.Gauge
	AnomaliesRecorded   *prometheus.CounterVec
}

// New builds a Registry with its own prometheus.Registry, isolated from the
// global default so tests can construct as many independent Registries as
// they like.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Registry{
		reg: reg,
		ReconcilePasses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "edged_reconcile_passes_total",
			Help: "Number of reconcile passes run, partitioned by outcome.",
		}, []string{"outcome"}),
		ReconcileActions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "edged_reconcile_actions_total",
			Help: "Number of container actions taken by the reconciler, partitioned by action kind.",
		}, []string{"action"}),
		PollOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "edged_cloudsync_poll_total",
			Help: "Number of cloud-sync poll attempts, partitioned by outcome.",
		}, []string{"outcome"}),
		ReportOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "edged_cloudsync_report_total",
			Help: "Number of cloud-sync state reports, partitioned by outcome.",
		}, []string{"outcome"}),
		AdapterHealth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "edged_adapter_health",
			Help: "Adapter session health: 1 connected, 0.5 degraded, 0 disconnected.",
		}, []string{"protocol", "session"}),
		AdapterSamples: f.NewCounterVec(prometheus.CounterOpts{
			Name: "edged_adapter_samples_total",
			Help: "Number of sensor samples read, partitioned by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		LogRingDropsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "edged_log_ring_drops_total",
			Help: "Number of log records dropped from the in-memory ring buffer before upload.",
		}),
		ConnectionHealth: f.NewGauge(prometheus.GaugeOpts{
			Name: "edged_cloud_connection_health",
			Help: "Cloud connection health: 1 online, 0.5 degraded, 0 offline.",
		}),
		AnomaliesRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "edged_anomalies_total",
			Help: "Number of anomalies recorded, partitioned by kind.",
		}, []string{"kind"}),
	}
}

// Handler returns the http.Handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// HealthValue maps the three-state connection/adapter health vocabulary
// shared by cloudsync and adapter onto the gauge scale Prometheus alerting
// rules expect: 1 (fully healthy) down to 0 (down).
func HealthValue(online, degraded bool) float64 {
	switch {
	case online:
		return 1
	case degraded:
		return 0.5
	default:
		return 0
	}
}
