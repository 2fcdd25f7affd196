// Package auditlog is the audit trail of reconcile actions and admin
// operations: a JSON-lines file log with size-based rotation, queried by
// app, service, operation, time range, and outcome.
package auditlog

import (
	"fmt"
	"time"
)

// Event is one auditable action: a reconciler lifecycle transition, a
// cloud-sync target application, or an admin call through the control API.
type Event struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Actor     string        `json:"actor"`
	Operation string        `json:"operation"`
	AppID     string        `json:"app_id,omitempty"`
	ServiceID string        `json:"service_id,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	ClientIP  string        `json:"client_ip,omitempty"`
}

// Filter selects a subset of events for Query.
type Filter struct {
	AppID       string
	ServiceID   string
	Operation   string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent starts building an event for actor performing operation.
func NewEvent(actor, operation string) Event {
	return Event{ID: generateID(), Timestamp: time.Now(), Actor: actor, Operation: operation, Success: true}
}

func (e Event) WithService(appID, serviceID string) Event {
	e.AppID, e.ServiceID = appID, serviceID
	return e
}

func (e Event) WithError(err error) Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

func (e Event) WithDuration(d time.Duration) Event {
	e.Duration = d
	return e
}

func (e Event) matchesFilter(f Filter) bool {
	if f.AppID != "" && e.AppID != f.AppID {
		return false
	}
	if f.ServiceID != "" && e.ServiceID != f.ServiceID {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	if f.SuccessOnly && !e.Success {
		return false
	}
	if f.FailureOnly && e.Success {
		return false
	}
	return true
}

func generateID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
