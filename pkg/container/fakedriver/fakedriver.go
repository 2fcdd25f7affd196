// Package fakedriver is an in-memory container.Driver used by reconciler
// tests in place of a live backend.
package fakedriver

import (
	"context"
	"fmt"
	"sync"

	"github.com/edged/edged/pkg/container"
	"github.com/edged/edged/pkg/util"
)

// Driver is a thread-safe, in-memory container.Driver. Callers can inject
// failures per-service via FailNext for testing retry/fatal classification.
type Driver struct {
	mu         sync.Mutex
	containers map[string]container.Info
	pulled     map[string]bool
	failNext   map[string]error
}

func New() *Driver {
	return &Driver{
		containers: make(map[string]container.Info),
		pulled:     make(map[string]bool),
		failNext:   make(map[string]error),
	}
}

// FailNext arranges for the next operation against serviceID to return err.
func (d *Driver) FailNext(serviceID string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext[serviceID] = err
}

func (d *Driver) takeFailure(serviceID string) error {
	if err, ok := d.failNext[serviceID]; ok {
		delete(d.failNext, serviceID)
		return err
	}
	return nil
}

func (d *Driver) List(ctx context.Context) ([]container.Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]container.Info, 0, len(d.containers))
	for _, info := range d.containers {
		out = append(out, info)
	}
	return out, nil
}

func (d *Driver) Inspect(ctx context.Context, serviceID string) (container.Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(serviceID); err != nil {
		return container.Info{}, err
	}
	info, ok := d.containers[serviceID]
	if !ok {
		return container.Info{}, util.NewDriverError(util.DriverNotFound, "inspect", fmt.Errorf("no such container: %s", serviceID))
	}
	return info, nil
}

func (d *Driver) Pull(ctx context.Context, image string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pulled[image] = true
	return nil
}

func (d *Driver) Create(ctx context.Context, spec container.Spec) (container.Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(spec.ServiceID); err != nil {
		return container.Info{}, err
	}
	if !d.pulled[spec.Image] {
		return container.Info{}, util.NewDriverError(util.DriverImageUnavailable, "create", fmt.Errorf("image not pulled: %s", spec.Image))
	}
	info := container.Info{
		AppID:             spec.AppID,
		ServiceID:         spec.ServiceID,
		ContainerID:       "fake-" + spec.ServiceID,
		Image:             spec.Image,
		State:             container.StateStopped,
		ConfigFingerprint: spec.ConfigFingerprint,
	}
	d.containers[spec.ServiceID] = info
	return info, nil
}

func (d *Driver) Start(ctx context.Context, serviceID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(serviceID); err != nil {
		return err
	}
	info, ok := d.containers[serviceID]
	if !ok {
		return util.NewDriverError(util.DriverNotFound, "start", fmt.Errorf("no such container: %s", serviceID))
	}
	info.State = container.StateRunning
	d.containers[serviceID] = info
	return nil
}

func (d *Driver) Stop(ctx context.Context, serviceID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(serviceID); err != nil {
		return err
	}
	info, ok := d.containers[serviceID]
	if !ok {
		return util.NewDriverError(util.DriverNotFound, "stop", fmt.Errorf("no such container: %s", serviceID))
	}
	info.State = container.StateStopped
	d.containers[serviceID] = info
	return nil
}

func (d *Driver) Pause(ctx context.Context, serviceID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(serviceID); err != nil {
		return err
	}
	info, ok := d.containers[serviceID]
	if !ok {
		return util.NewDriverError(util.DriverNotFound, "pause", fmt.Errorf("no such container: %s", serviceID))
	}
	info.State = container.StatePaused
	d.containers[serviceID] = info
	return nil
}

func (d *Driver) Unpause(ctx context.Context, serviceID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(serviceID); err != nil {
		return err
	}
	info, ok := d.containers[serviceID]
	if !ok {
		return util.NewDriverError(util.DriverNotFound, "unpause", fmt.Errorf("no such container: %s", serviceID))
	}
	info.State = container.StateRunning
	d.containers[serviceID] = info
	return nil
}

func (d *Driver) Remove(ctx context.Context, serviceID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(serviceID); err != nil {
		return err
	}
	delete(d.containers, serviceID)
	return nil
}
