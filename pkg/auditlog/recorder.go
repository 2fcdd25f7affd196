package auditlog

import (
	"context"

	"github.com/edged/edged/pkg/cloudsync"
	"github.com/edged/edged/pkg/reconciler"
)

// Recorder drains reconciler and cloud-sync event buses into a Logger,
// turning in-process lifecycle events into a durable audit trail alongside
// the admin operations recorded directly by the control API.
type Recorder struct {
	logger Logger
}

func NewRecorder(logger Logger) *Recorder {
	return &Recorder{logger: logger}
}

// RunReconciler drains reconciler events until ctx is cancelled. Intended as
// one actor in the orchestrator's run.Group, subscribed once at startup.
func (r *Recorder) RunReconciler(ctx context.Context, bus *reconciler.EventBus) error {
	ch := bus.Subscribe(64)
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-ch:
			r.recordReconcilerEvent(e)
		}
	}
}

// RunCloudSync drains cloud-sync events until ctx is cancelled.
func (r *Recorder) RunCloudSync(ctx context.Context, bus *cloudsync.EventBus) error {
	ch := bus.Subscribe(64)
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-ch:
			r.recordCloudSyncEvent(e)
		}
	}
}

func (r *Recorder) recordReconcilerEvent(e reconciler.Event) {
	ev := NewEvent("reconciler", string(e.Kind)).WithService(e.AppID, e.ServiceID)
	if e.Err != nil {
		ev = ev.WithError(e.Err)
	}
	r.logger.Log(ev)
}

func (r *Recorder) recordCloudSyncEvent(e cloudsync.Event) {
	ev := NewEvent("cloudsync", string(e.Kind))
	if e.Err != nil {
		ev = ev.WithError(e.Err)
	}
	r.logger.Log(ev)
}

// RecordAdmin logs an administrative action taken through the control API
// (service and app actions, provision, deprovision, factory reset, config
// updates).
func (r *Recorder) RecordAdmin(operation, clientIP string, err error) {
	ev := NewEvent("admin", operation)
	ev.ClientIP = clientIP
	if err != nil {
		ev = ev.WithError(err)
	}
	r.logger.Log(ev)
}
