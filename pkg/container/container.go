// Package container defines the runtime abstraction the reconciler drives
// (C5): a small Driver interface plus the descriptor types that cross it.
// One interface, swappable backends, errors classified by retryability so
// callers can tell transient from fatal without string-matching error text.
package container

import "context"

// State is the lifecycle state of a container as reported by the runtime.
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
	StatePaused  State = "paused"
	StateMissing State = "missing"
)

// Spec is what the reconciler asks the driver to create.
type Spec struct {
	AppID         string
	ServiceID     string
	Name          string
	Image         string
	Env           map[string]string
	Ports         []PortBinding
	Volumes       []VolumeMount
	Command       []string
	RestartPolicy string

	// ConfigFingerprint is recorded as a label on the created container so
	// a later reconcile pass can detect spec drift without re-deriving it
	// from a possibly-changed target.
	ConfigFingerprint string
}

type PortBinding struct {
	ContainerPort int
	HostPort      int
	Protocol      string
}

type VolumeMount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// Info is what the driver reports back about a container it knows of.
type Info struct {
	AppID       string
	ServiceID   string
	ContainerID string
	Image       string
	State       State
	ExitCode    int
	Error       string

	ConfigFingerprint string
}

// Driver is implemented once per container engine. All methods classify
// failures via util.DriverError so callers can tell transient from fatal
// without string-matching error text.
type Driver interface {
	List(ctx context.Context) ([]Info, error)
	Inspect(ctx context.Context, serviceID string) (Info, error)
	Pull(ctx context.Context, image string) error
	Create(ctx context.Context, spec Spec) (Info, error)
	Start(ctx context.Context, serviceID string) error
	Stop(ctx context.Context, serviceID string) error
	Pause(ctx context.Context, serviceID string) error
	Unpause(ctx context.Context, serviceID string) error
	Remove(ctx context.Context, serviceID string) error
}
