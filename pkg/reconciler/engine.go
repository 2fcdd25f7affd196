package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edged/edged/pkg/container"
	"github.com/edged/edged/pkg/logging"
	"github.com/edged/edged/pkg/util"
)

// TargetStore is the persistence dependency the engine needs. *store.Store
// satisfies this structurally; defining it here (rather than importing
// pkg/store) keeps the dependency direction leaf-ward and avoids a cycle,
// since pkg/store itself imports this package for the TargetState type.
type TargetStore interface {
	SaveTargetState(ctx context.Context, t TargetState) error
	LoadTargetState(ctx context.Context) (TargetState, bool, error)
}

const maxTransientAttempts = 3

// ServiceResult records the outcome of applying one service's plan.
type ServiceResult struct {
	ServiceID string
	Err       error
}

// PassResult summarizes one reconcile pass.
type PassResult struct {
	Partial bool
	Aborted bool
	Failed  []ServiceResult
}

// Reconciler owns the TargetState row and drives the container runtime
// toward it (C6). It is the only writer of TargetState; CloudSync reads
// CurrentState and proposes new targets through SetTarget.
type Reconciler struct {
	store  TargetStore
	driver container.Driver
	bus    *EventBus
	logger *logging.Logger

	mu      sync.RWMutex
	target  TargetState
	current ObservedState

	paused int32

	trigger chan struct{}
	running int32
}

// New constructs a Reconciler. Call Reload once at startup to pick up any
// persisted target before the first reconcile.
func New(store TargetStore, driver container.Driver, bus *EventBus, logger *logging.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		driver:  driver,
		bus:     bus,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}
}

// Reload loads the last-persisted TargetState from the store, per the
// crash-safety rule in spec.md §4.6: TargetState is the source of truth and
// a restart must reload it before reconciling.
func (r *Reconciler) Reload(ctx context.Context) error {
	t, ok, err := r.store.LoadTargetState(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	r.mu.Lock()
	r.target = t
	r.mu.Unlock()
	return nil
}

// SetTarget persists the new target atomically and schedules a reconcile.
// It returns once the state is durable, not once it has been applied.
func (r *Reconciler) SetTarget(ctx context.Context, t TargetState) error {
	if err := r.store.SaveTargetState(ctx, t); err != nil {
		return err
	}
	r.mu.Lock()
	r.target = t
	r.mu.Unlock()
	r.TriggerReconcile()
	return nil
}

func (r *Reconciler) GetTarget() TargetState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.target
}

// GetCurrent returns the TargetState together with the ObservedState taken
// at the end of the last reconcile pass; CloudSync builds its report from
// the pair.
func (r *Reconciler) GetCurrent() (TargetState, ObservedState) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.target, r.current
}

// PauseReconciliation is a cooperative admin hook: TriggerReconcile calls
// still queue, but Run will not act on them until Resume.
func (r *Reconciler) PauseReconciliation() { atomic.StoreInt32(&r.paused, 1) }
func (r *Reconciler) ResumeReconciliation() {
	atomic.StoreInt32(&r.paused, 0)
	r.TriggerReconcile()
}

// TriggerReconcile asks for a reconcile pass. Coalesced: if one is already
// running, at most one follow-up pass is scheduled rather than one per
// call.
func (r *Reconciler) TriggerReconcile() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run is the engine's actor loop, intended as one member of the
// orchestrator's run.Group.
func (r *Reconciler) Run(ctx context.Context) error {
	defer util.RecoverTask(logging.ComponentReconciler, "reconciler.run")
	r.TriggerReconcile()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.trigger:
			if atomic.LoadInt32(&r.paused) == 1 {
				continue
			}
			r.runPass(ctx)
		}
	}
}

func (r *Reconciler) runPass(ctx context.Context) {
	atomic.StoreInt32(&r.running, 1)
	defer atomic.StoreInt32(&r.running, 0)

	target := r.GetTarget()

	observed, err := Observe(ctx, r.driver)
	if err != nil {
		r.logger.WithComponent(logging.ComponentReconciler).WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Error("observe failed, aborting pass")
		return
	}

	plan := Diff(target, observed)
	result := r.apply(ctx, plan)

	if after, err := Observe(ctx, r.driver); err == nil {
		observed = after
	}
	r.mu.Lock()
	r.current = observed
	r.mu.Unlock()

	r.bus.Publish(Event{Kind: EventPassCompleted, Detail: passDetail(result)})
}

func passDetail(r PassResult) string {
	if r.Aborted {
		return "aborted"
	}
	if r.Partial {
		return "partial"
	}
	return "ok"
}

// apply executes every removal first, then the rest, per the ordering rule
// in spec.md §4.6.
func (r *Reconciler) apply(ctx context.Context, plan Plan) PassResult {
	var result PassResult

	for _, sp := range plan.Removals {
		if err := r.applyService(ctx, sp); err != nil {
			result.Partial = true
			result.Failed = append(result.Failed, ServiceResult{ServiceID: sp.ServiceID, Err: err})
		}
	}
	for _, sp := range plan.Rest {
		if err := r.applyService(ctx, sp); err != nil {
			if isRuntimeDown(err) {
				result.Aborted = true
				return result
			}
			result.Partial = true
			result.Failed = append(result.Failed, ServiceResult{ServiceID: sp.ServiceID, Err: err})
		}
	}
	return result
}

// applyService runs one service's action sequence, making up to
// maxTransientAttempts attempts per action: a Transient driver error is
// retried after a short backoff, and a Conflict on create force-removes the
// old container before the next attempt.
func (r *Reconciler) applyService(ctx context.Context, sp ServicePlan) error {
	for _, action := range sp.Actions {
		if err := r.retryAction(ctx, sp, action); err != nil {
			r.bus.Publish(Event{Kind: EventServiceFailed, AppID: sp.AppID, ServiceID: sp.ServiceID, Err: err})
			return err
		}
	}
	r.publishSuccess(sp)
	return nil
}

func (r *Reconciler) retryAction(ctx context.Context, sp ServicePlan, action ActionKind) error {
	var lastErr error
	for attempt := 1; attempt <= maxTransientAttempts; attempt++ {
		err := r.doAction(ctx, sp, action)
		if err == nil {
			return nil
		}
		lastErr = err

		if isConflict(err) && action == ActionCreate {
			_ = r.driver.Remove(ctx, sp.ServiceID)
			continue
		}
		if !isTransient(err) {
			return err
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return lastErr
}

func (r *Reconciler) doAction(ctx context.Context, sp ServicePlan, action ActionKind) error {
	switch action {
	case ActionPullIfNeeded:
		return r.driver.Pull(ctx, sp.Spec.Image)
	case ActionCreate:
		_, err := r.driver.Create(ctx, sp.Spec)
		return err
	case ActionStart:
		return r.driver.Start(ctx, sp.ServiceID)
	case ActionStop:
		return r.driver.Stop(ctx, sp.ServiceID)
	case ActionPause:
		return r.driver.Pause(ctx, sp.ServiceID)
	case ActionUnpause:
		return r.driver.Unpause(ctx, sp.ServiceID)
	case ActionRemove:
		return r.driver.Remove(ctx, sp.ServiceID)
	}
	return nil
}

func driverClass(err error) (util.DriverClass, bool) {
	var de *util.DriverError
	if errors.As(err, &de) {
		return de.Class, true
	}
	return "", false
}

func isTransient(err error) bool {
	class, ok := driverClass(err)
	return ok && class == util.DriverTransient
}

func isConflict(err error) bool {
	class, ok := driverClass(err)
	return ok && class == util.DriverConflict
}

func isRuntimeDown(err error) bool {
	class, ok := driverClass(err)
	return ok && class == util.DriverRuntimeDown
}

func (r *Reconciler) publishSuccess(sp ServicePlan) {
	for _, action := range sp.Actions {
		switch action {
		case ActionStart:
			r.bus.Publish(Event{Kind: EventServiceStarted, AppID: sp.AppID, ServiceID: sp.ServiceID})
		case ActionStop:
			r.bus.Publish(Event{Kind: EventServiceStopped, AppID: sp.AppID, ServiceID: sp.ServiceID})
		case ActionPause:
			r.bus.Publish(Event{Kind: EventServicePaused, AppID: sp.AppID, ServiceID: sp.ServiceID})
		case ActionPullIfNeeded:
			r.bus.Publish(Event{Kind: EventImagePulled, AppID: sp.AppID, ServiceID: sp.ServiceID, Detail: sp.Spec.Image})
		}
	}
}
