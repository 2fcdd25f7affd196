// Package reconciler implements the state reconciliation engine (C6): it
// diffs a cloud-supplied TargetState against the ObservedState of the local
// container runtime and drives the runtime toward convergence by computing
// an ordered apply plan and executing it against a container.Driver.
package reconciler

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// DesiredState is the lifecycle state the cloud wants a service to be in.
type DesiredState string

const (
	DesiredRunning DesiredState = "running"
	DesiredStopped DesiredState = "stopped"
	DesiredPaused  DesiredState = "paused"
	DesiredAbsent  DesiredState = "absent"
)

// Service is one container's desired configuration within an App.
type Service struct {
	ServiceID    string                 `json:"service_id"`
	ServiceName  string                 `json:"service_name"`
	Image        string                 `json:"image"`
	DesiredState DesiredState           `json:"desired_state"`
	Env          map[string]string      `json:"env,omitempty"`
	Ports        []PortBinding          `json:"ports,omitempty"`
	Volumes      []VolumeMount          `json:"volumes,omitempty"`
	Command      []string               `json:"command,omitempty"`
	RestartPolicy string                `json:"restart_policy,omitempty"`

	// Extra carries unknown top-level keys verbatim so that round-tripping
	// a TargetState through the store never silently drops cloud fields
	// this build doesn't yet understand.
	Extra map[string]json.RawMessage `json:"-"`
}

// PortBinding maps a container port to a host port.
type PortBinding struct {
	ContainerPort int    `json:"container_port"`
	HostPort      int    `json:"host_port"`
	Protocol      string `json:"protocol,omitempty"`
}

// VolumeMount binds a host path into the container.
type VolumeMount struct {
	HostPath      string `json:"host_path"`
	ContainerPath string `json:"container_path"`
	ReadOnly      bool   `json:"read_only,omitempty"`
}

// App is a named group of services, the unit the cloud organizes deploys
// around.
type App struct {
	AppID    string    `json:"app_id"`
	AppName  string    `json:"app_name"`
	Services []Service `json:"services"`

	Extra map[string]json.RawMessage `json:"-"`
}

// TargetState is the full desired configuration of the device as last
// fetched from the cloud (spec.md §3, §4.6).
type TargetState struct {
	Apps       []App                  `json:"apps"`
	Config     map[string]interface{} `json:"config,omitempty"`
	Version    string                 `json:"version"`
	ReceivedAt time.Time              `json:"received_at"`

	Extra map[string]json.RawMessage `json:"-"`
}

// knownServiceKeys lists the JSON keys Service interprets itself; anything
// else round-trips through Extra.
var knownServiceKeys = map[string]bool{
	"service_id": true, "service_name": true, "image": true,
	"desired_state": true, "env": true, "ports": true, "volumes": true,
	"command": true, "restart_policy": true,
}

// MarshalJSON merges known fields with any preserved Extra fields.
func (s Service) MarshalJSON() ([]byte, error) {
	type alias Service
	base, err := json.Marshal(alias(s))
	if err != nil {
		return nil, err
	}
	return mergeExtra(base, s.Extra)
}

// UnmarshalJSON decodes known fields and stashes the rest in Extra. An
// absent desired_state defaults to running.
func (s *Service) UnmarshalJSON(data []byte) error {
	type alias Service
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = Service(a)
	if s.DesiredState == "" {
		s.DesiredState = DesiredRunning
	}
	extra, err := splitExtra(data, knownServiceKeys)
	if err != nil {
		return err
	}
	s.Extra = extra
	return nil
}

var knownAppKeys = map[string]bool{
	"app_id": true, "app_name": true, "services": true,
}

func (a App) MarshalJSON() ([]byte, error) {
	type alias App
	base, err := json.Marshal(alias(a))
	if err != nil {
		return nil, err
	}
	return mergeExtra(base, a.Extra)
}

func (a *App) UnmarshalJSON(data []byte) error {
	type alias App
	var al alias
	if err := json.Unmarshal(data, &al); err != nil {
		return err
	}
	*a = App(al)
	extra, err := splitExtra(data, knownAppKeys)
	if err != nil {
		return err
	}
	a.Extra = extra
	return nil
}

var knownTargetStateKeys = map[string]bool{
	"apps": true, "config": true, "version": true, "received_at": true,
}

func (t TargetState) MarshalJSON() ([]byte, error) {
	type alias TargetState
	base, err := json.Marshal(alias(t))
	if err != nil {
		return nil, err
	}
	return mergeExtra(base, t.Extra)
}

func (t *TargetState) UnmarshalJSON(data []byte) error {
	type alias TargetState
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = TargetState(a)
	extra, err := splitExtra(data, knownTargetStateKeys)
	if err != nil {
		return err
	}
	t.Extra = extra
	return nil
}

// splitExtra returns every top-level key in data not present in known.
func splitExtra(data []byte, known map[string]bool) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if !known[k] {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		return nil, nil
	}
	return extra, nil
}

// mergeExtra flattens extra's keys back into the already-marshaled base
// object.
func mergeExtra(base []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Fingerprint returns a stable SHA-256 hash over the canonical JSON encoding
// of the state, used to detect cloud-side drift without a full diff
// (spec.md §4.6).
func Fingerprint(t TargetState) (string, error) {
	canon, err := canonicalize(t)
	if err != nil {
		return "", fmt.Errorf("reconciler: canonicalize target state: %w", err)
	}
	sum := sha256.Sum256(canon)
	return fmt.Sprintf("%x", sum), nil
}

// canonicalize produces a byte-stable encoding: apps and services sorted by
// ID, map keys sorted (json.Marshal already sorts map[string]X keys).
func canonicalize(t TargetState) ([]byte, error) {
	sorted := t
	sorted.Apps = append([]App(nil), t.Apps...)
	sort.Slice(sorted.Apps, func(i, j int) bool { return sorted.Apps[i].AppID < sorted.Apps[j].AppID })
	for i := range sorted.Apps {
		svcs := append([]Service(nil), sorted.Apps[i].Services...)
		sort.Slice(svcs, func(a, b int) bool { return svcs[a].ServiceID < svcs[b].ServiceID })
		sorted.Apps[i].Services = svcs
	}
	return json.Marshal(sorted)
}
