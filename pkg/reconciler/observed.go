package reconciler

import (
	"context"

	"github.com/edged/edged/pkg/container"
)

// ServiceKey identifies one service. service_id is only unique within an
// app (§3 Service invariant), so every observed/target lookup is keyed by
// the (app_id, service_id) pair rather than service_id alone.
type ServiceKey struct {
	AppID     string
	ServiceID string
}

// ObservedState is what the reconciler currently sees the container runtime
// doing, keyed by (app_id, service_id).
type ObservedState struct {
	Services map[ServiceKey]container.Info
}

// Observe queries the driver for every known container and indexes the
// result by (app_id, service_id).
func Observe(ctx context.Context, driver container.Driver) (ObservedState, error) {
	infos, err := driver.List(ctx)
	if err != nil {
		return ObservedState{}, err
	}
	out := ObservedState{Services: make(map[ServiceKey]container.Info, len(infos))}
	for _, i := range infos {
		out.Services[ServiceKey{AppID: i.AppID, ServiceID: i.ServiceID}] = i
	}
	return out, nil
}
