// Package cloudsync is the poll/report loop pair that keeps the device in
// sync with the cloud (C7): two goroutines, one polling for target state
// and one reporting current state, sharing a three-state connection-health
// surface. The poll loop retries on a jpillora/backoff schedule; the report
// loop runs on a fixed ticker.
package cloudsync

import (
	"time"

	"github.com/edged/edged/pkg/reconciler"
)

// ConnectionHealth is the coarse cloud-reachability state, read through
// Syncer.Health (the control API reports it). The log flusher does not
// consult it before uploading.
type ConnectionHealth string

const (
	HealthOnline   ConnectionHealth = "online"
	HealthDegraded ConnectionHealth = "degraded"
	HealthOffline  ConnectionHealth = "offline"
)

const (
	degradedThreshold = 2
	offlineThreshold  = 3
)

// classify maps a consecutive-failure count to the three-state health
// surface described in spec.md §4.7.
func classify(consecutiveFailures int) ConnectionHealth {
	switch {
	case consecutiveFailures >= offlineThreshold:
		return HealthOffline
	case consecutiveFailures >= degradedThreshold:
		return HealthDegraded
	default:
		return HealthOnline
	}
}

// SystemMetrics is the OS-level sample attached to every report-loop PATCH.
type SystemMetrics struct {
	CPUUsagePercent float64 `json:"cpu_usage"`
	MemoryUsedBytes uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes uint64 `json:"memory_total_bytes"`
	TemperatureC    float64 `json:"temperature_c,omitempty"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	LoadAverage1M   float64 `json:"load_average_1m"`
}

// ServiceCurrentState annotates a target Service with what the reconciler
// last observed for it.
type ServiceCurrentState struct {
	reconciler.Service
	ObservedState string `json:"observed_state"`
	ConfigDrift   bool   `json:"config_drift,omitempty"`
}

// CurrentState mirrors TargetState with each service annotated by observed
// runtime state, per spec.md §4.6 responsibility 3.
type CurrentState struct {
	Version  string                `json:"version"`
	Apps     []CurrentApp          `json:"apps"`
	Metrics  SystemMetrics         `json:"metrics"`
	ReportedAt time.Time           `json:"reported_at"`
}

// CurrentApp mirrors a target App with its services annotated.
type CurrentApp struct {
	AppID    string                `json:"app_id"`
	AppName  string                `json:"app_name"`
	Services []ServiceCurrentState `json:"services"`
}

// EventKind enumerates the events CloudSync emits for the logger/anomaly
// recorder (spec.md §4.6 responsibility 4, extended to C7's own health
// transitions).
type EventKind string

const (
	EventPollApplied       EventKind = "poll_applied"
	EventPollUnchanged     EventKind = "poll_unchanged"
	EventPollDenied        EventKind = "poll_denied"
	EventReportSent        EventKind = "report_sent"
	EventReportSkipped     EventKind = "report_skipped"
	EventHealthTransition  EventKind = "health_transition"
)

// Event is one CloudSync lifecycle notification.
type Event struct {
	Kind   EventKind
	Health ConnectionHealth
	Detail string
	Err    error
}
