package reconciler

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/edged/edged/pkg/container"
)

// ActionKind is one step of an apply plan.
type ActionKind string

const (
	ActionPullIfNeeded ActionKind = "pull_if_needed"
	ActionCreate       ActionKind = "create"
	ActionStart        ActionKind = "start"
	ActionStop         ActionKind = "stop"
	ActionPause        ActionKind = "pause"
	ActionUnpause      ActionKind = "unpause"
	ActionRemove       ActionKind = "remove"
)

// ServicePlan is the ordered sequence of actions for one service, plus the
// spec to create it with when the plan includes a create.
type ServicePlan struct {
	AppID     string
	ServiceID string
	Spec      container.Spec
	Actions   []ActionKind
}

// Plan is the full ordered apply plan for one reconcile pass: all removals
// first (to free names/ports), then everything else with apps in ascending
// app_id order (numeric when both ids are integers) and each app's services
// in declared order, per spec.md §4.6's ordering rule.
type Plan struct {
	Removals []ServicePlan
	Rest     []ServicePlan
}

// ServiceFingerprint hashes the fields of a service that, if changed,
// require a recreate rather than an in-place transition: image and the
// opaque runtime configuration. Desired state itself is excluded since a
// desired-state-only change is handled by the ordinary state-pair table.
func ServiceFingerprint(svc Service) string {
	type stable struct {
		Image         string            `json:"image"`
		Env           map[string]string `json:"env,omitempty"`
		Ports         []PortBinding     `json:"ports,omitempty"`
		Volumes       []VolumeMount     `json:"volumes,omitempty"`
		Command       []string          `json:"command,omitempty"`
		RestartPolicy string            `json:"restart_policy,omitempty"`
	}
	b, _ := json.Marshal(stable{
		Image: svc.Image, Env: svc.Env, Ports: svc.Ports, Volumes: svc.Volumes,
		Command: svc.Command, RestartPolicy: svc.RestartPolicy,
	})
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum)
}

func toSpec(appID string, svc Service) container.Spec {
	spec := container.Spec{
		AppID:             appID,
		ServiceID:         svc.ServiceID,
		Name:              svc.ServiceName,
		Image:             svc.Image,
		Env:               svc.Env,
		Command:           svc.Command,
		RestartPolicy:     svc.RestartPolicy,
		ConfigFingerprint: ServiceFingerprint(svc),
	}
	for _, p := range svc.Ports {
		spec.Ports = append(spec.Ports, container.PortBinding{
			ContainerPort: p.ContainerPort, HostPort: p.HostPort, Protocol: p.Protocol,
		})
	}
	for _, v := range svc.Volumes {
		spec.Volumes = append(spec.Volumes, container.VolumeMount{
			HostPath: v.HostPath, ContainerPath: v.ContainerPath, ReadOnly: v.ReadOnly,
		})
	}
	return spec
}

// Diff computes the apply plan described by the table in spec.md §4.6. Spec
// drift — the target's fingerprint no longer matching the label recorded
// on the observed container — forces a recreate regardless of what the
// state-pair rule below would otherwise say.
func Diff(target TargetState, observed ObservedState) Plan {
	var plan Plan

	seen := make(map[ServiceKey]bool)

	apps := append([]App(nil), target.Apps...)
	sort.Slice(apps, func(i, j int) bool {
		a, errA := strconv.Atoi(apps[i].AppID)
		b, errB := strconv.Atoi(apps[j].AppID)
		if errA == nil && errB == nil {
			return a < b
		}
		return apps[i].AppID < apps[j].AppID
	})

	for _, app := range apps {
		for _, svc := range app.Services {
			key := ServiceKey{AppID: app.AppID, ServiceID: svc.ServiceID}
			seen[key] = true
			obs, observedPresent := observed.Services[key]

			sp := ServicePlan{AppID: app.AppID, ServiceID: svc.ServiceID, Spec: toSpec(app.AppID, svc)}

			if !observedPresent {
				switch svc.DesiredState {
				case DesiredRunning:
					sp.Actions = []ActionKind{ActionPullIfNeeded, ActionCreate, ActionStart}
				case DesiredStopped:
					sp.Actions = []ActionKind{ActionPullIfNeeded, ActionCreate}
				case DesiredPaused:
					sp.Actions = []ActionKind{ActionPullIfNeeded, ActionCreate, ActionStart, ActionPause}
				}
				plan.Rest = append(plan.Rest, sp)
				continue
			}

			if obs.ConfigFingerprint != "" && obs.ConfigFingerprint != sp.Spec.ConfigFingerprint {
				sp.Actions = recreateActions(svc.DesiredState, obs.State == container.StateRunning)
				plan.Rest = append(plan.Rest, sp)
				continue
			}

			switch svc.DesiredState {
			case DesiredRunning:
				switch obs.State {
				case container.StateRunning:
					// no-op
				case container.StatePaused:
					sp.Actions = []ActionKind{ActionUnpause}
				case container.StateStopped, container.StateMissing:
					sp.Actions = []ActionKind{ActionRemove, ActionPullIfNeeded, ActionCreate, ActionStart}
				}
			case DesiredPaused:
				switch obs.State {
				case container.StateRunning:
					sp.Actions = []ActionKind{ActionPause}
				case container.StatePaused:
					// no-op
				case container.StateStopped, container.StateMissing:
					sp.Actions = []ActionKind{ActionRemove, ActionPullIfNeeded, ActionCreate, ActionStart, ActionPause}
				}
			case DesiredStopped:
				switch obs.State {
				case container.StateRunning:
					sp.Actions = []ActionKind{ActionStop}
				case container.StatePaused:
					sp.Actions = []ActionKind{ActionUnpause, ActionStop}
				case container.StateStopped, container.StateMissing:
					// no-op
				}
			}

			if len(sp.Actions) > 0 {
				plan.Rest = append(plan.Rest, sp)
			}
		}
	}

	// Anything observed but no longer present in target: remove.
	var removeKeys []ServiceKey
	for key := range observed.Services {
		if !seen[key] {
			removeKeys = append(removeKeys, key)
		}
	}
	sort.Slice(removeKeys, func(i, j int) bool {
		if removeKeys[i].AppID != removeKeys[j].AppID {
			return removeKeys[i].AppID < removeKeys[j].AppID
		}
		return removeKeys[i].ServiceID < removeKeys[j].ServiceID
	})
	for _, key := range removeKeys {
		plan.Removals = append(plan.Removals, ServicePlan{
			AppID:     key.AppID,
			ServiceID: key.ServiceID,
			Actions:   []ActionKind{ActionStop, ActionRemove},
		})
	}

	return plan
}

// recreateActions builds the fixed "stop-if-running -> remove -> pull ->
// create -> start (unless stopped) -> pause (if paused)" sequence spec
// drift always forces.
func recreateActions(desired DesiredState, wasRunning bool) []ActionKind {
	actions := []ActionKind{}
	if wasRunning {
		actions = append(actions, ActionStop)
	}
	actions = append(actions, ActionRemove, ActionPullIfNeeded, ActionCreate)
	if desired == DesiredRunning || desired == DesiredPaused {
		actions = append(actions, ActionStart)
	}
	if desired == DesiredPaused {
		actions = append(actions, ActionPause)
	}
	return actions
}
