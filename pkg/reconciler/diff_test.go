package reconciler

import (
	"encoding/json"
	"testing"

	"github.com/edged/edged/pkg/container"
)

func svc(id string, state DesiredState) Service {
	return Service{ServiceID: id, ServiceName: id, Image: "img:1", DesiredState: state}
}

func key(appID, serviceID string) ServiceKey {
	return ServiceKey{AppID: appID, ServiceID: serviceID}
}

func TestDiffCreateWhenAbsent(t *testing.T) {
	target := TargetState{Apps: []App{{AppID: "1", Services: []Service{svc("a", DesiredRunning)}}}}
	plan := Diff(target, ObservedState{Services: map[ServiceKey]container.Info{}})

	if len(plan.Rest) != 1 {
		t.Fatalf("expected 1 planned service, got %d", len(plan.Rest))
	}
	want := []ActionKind{ActionPullIfNeeded, ActionCreate, ActionStart}
	assertActions(t, plan.Rest[0].Actions, want)
}

func TestDiffServiceWithAbsentDesiredStateDefaultsToRunning(t *testing.T) {
	raw := []byte(`{
		"apps": [{"app_id": "1", "app_name": "demo", "services": [
			{"service_id": "a", "service_name": "a", "image": "img:1"}
		]}],
		"version": "v1"
	}`)
	var target TargetState
	if err := json.Unmarshal(raw, &target); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	plan := Diff(target, ObservedState{Services: map[ServiceKey]container.Info{}})
	if len(plan.Rest) != 1 {
		t.Fatalf("expected 1 planned service, got %d", len(plan.Rest))
	}
	assertActions(t, plan.Rest[0].Actions, []ActionKind{ActionPullIfNeeded, ActionCreate, ActionStart})
}

func TestDiffStoppedAbsentDoesNotStart(t *testing.T) {
	target := TargetState{Apps: []App{{AppID: "1", Services: []Service{svc("a", DesiredStopped)}}}}
	plan := Diff(target, ObservedState{Services: map[ServiceKey]container.Info{}})
	assertActions(t, plan.Rest[0].Actions, []ActionKind{ActionPullIfNeeded, ActionCreate})
}

func TestDiffRunningRunningIsNoop(t *testing.T) {
	target := TargetState{Apps: []App{{AppID: "1", Services: []Service{svc("a", DesiredRunning)}}}}
	observed := ObservedState{Services: map[ServiceKey]container.Info{
		key("1", "a"): {AppID: "1", ServiceID: "a", State: container.StateRunning, ConfigFingerprint: ServiceFingerprint(target.Apps[0].Services[0])},
	}}
	plan := Diff(target, observed)
	if len(plan.Rest) != 0 {
		t.Fatalf("expected no-op, got %+v", plan.Rest)
	}
}

func TestDiffRunningPausedUnpauses(t *testing.T) {
	target := TargetState{Apps: []App{{AppID: "1", Services: []Service{svc("a", DesiredRunning)}}}}
	observed := ObservedState{Services: map[ServiceKey]container.Info{
		key("1", "a"): {AppID: "1", ServiceID: "a", State: container.StatePaused, ConfigFingerprint: ServiceFingerprint(target.Apps[0].Services[0])},
	}}
	plan := Diff(target, observed)
	assertActions(t, plan.Rest[0].Actions, []ActionKind{ActionUnpause})
}

func TestDiffRunningExitedRecreates(t *testing.T) {
	target := TargetState{Apps: []App{{AppID: "1", Services: []Service{svc("a", DesiredRunning)}}}}
	observed := ObservedState{Services: map[ServiceKey]container.Info{
		key("1", "a"): {AppID: "1", ServiceID: "a", State: container.StateStopped, ConfigFingerprint: ServiceFingerprint(target.Apps[0].Services[0])},
	}}
	plan := Diff(target, observed)
	assertActions(t, plan.Rest[0].Actions, []ActionKind{ActionRemove, ActionPullIfNeeded, ActionCreate, ActionStart})
}

func TestDiffStoppedPausedUnpausesThenStops(t *testing.T) {
	target := TargetState{Apps: []App{{AppID: "1", Services: []Service{svc("a", DesiredStopped)}}}}
	observed := ObservedState{Services: map[ServiceKey]container.Info{
		key("1", "a"): {AppID: "1", ServiceID: "a", State: container.StatePaused, ConfigFingerprint: ServiceFingerprint(target.Apps[0].Services[0])},
	}}
	plan := Diff(target, observed)
	assertActions(t, plan.Rest[0].Actions, []ActionKind{ActionUnpause, ActionStop})
}

func TestDiffRemovesServiceNotInTarget(t *testing.T) {
	target := TargetState{}
	observed := ObservedState{Services: map[ServiceKey]container.Info{
		key("1", "gone"): {AppID: "1", ServiceID: "gone", State: container.StateRunning},
	}}
	plan := Diff(target, observed)
	if len(plan.Removals) != 1 || plan.Removals[0].ServiceID != "gone" || plan.Removals[0].AppID != "1" {
		t.Fatalf("expected removal of app=1/service=gone, got %+v", plan.Removals)
	}
	assertActions(t, plan.Removals[0].Actions, []ActionKind{ActionStop, ActionRemove})
}

func TestDiffDistinguishesSameServiceIDAcrossApps(t *testing.T) {
	// service_id is only unique within an app: two apps each declaring a
	// service "web" must not collide in the observed/target indexing.
	target := TargetState{Apps: []App{
		{AppID: "app1", Services: []Service{svc("web", DesiredRunning)}},
		{AppID: "app2", Services: []Service{svc("web", DesiredStopped)}},
	}}
	observed := ObservedState{Services: map[ServiceKey]container.Info{
		key("app1", "web"): {AppID: "app1", ServiceID: "web", State: container.StateStopped, ConfigFingerprint: ServiceFingerprint(target.Apps[0].Services[0])},
		key("app2", "web"): {AppID: "app2", ServiceID: "web", State: container.StateRunning, ConfigFingerprint: ServiceFingerprint(target.Apps[1].Services[0])},
	}}

	plan := Diff(target, observed)
	if len(plan.Rest) != 2 {
		t.Fatalf("expected one plan per app, got %+v", plan.Rest)
	}

	byApp := map[string]ServicePlan{}
	for _, sp := range plan.Rest {
		byApp[sp.AppID] = sp
	}
	assertActions(t, byApp["app1"].Actions, []ActionKind{ActionRemove, ActionPullIfNeeded, ActionCreate, ActionStart})
	assertActions(t, byApp["app2"].Actions, []ActionKind{ActionStop})
}

func TestDiffSpecDriftForcesRecreate(t *testing.T) {
	drifted := svc("a", DesiredRunning)
	target := TargetState{Apps: []App{{AppID: "1", Services: []Service{drifted}}}}
	observed := ObservedState{Services: map[ServiceKey]container.Info{
		key("1", "a"): {AppID: "1", ServiceID: "a", State: container.StateRunning, ConfigFingerprint: "stale-fingerprint"},
	}}
	plan := Diff(target, observed)
	assertActions(t, plan.Rest[0].Actions, []ActionKind{ActionStop, ActionRemove, ActionPullIfNeeded, ActionCreate, ActionStart})
}

func TestDiffRemovalsPrecedeRest(t *testing.T) {
	target := TargetState{Apps: []App{{AppID: "1", Services: []Service{svc("new", DesiredRunning)}}}}
	observed := ObservedState{Services: map[ServiceKey]container.Info{
		key("1", "old"): {AppID: "1", ServiceID: "old", State: container.StateRunning},
	}}
	plan := Diff(target, observed)
	if len(plan.Removals) != 1 || len(plan.Rest) != 1 {
		t.Fatalf("expected one removal and one creation, got removals=%+v rest=%+v", plan.Removals, plan.Rest)
	}
}

func assertActions(t *testing.T, got, want []ActionKind) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("actions = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("actions = %v, want %v", got, want)
		}
	}
}
