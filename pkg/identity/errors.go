package identity

import (
	"errors"
	"fmt"
)

// Sentinel errors for the provisioning protocol, in the same
// wrap-one-sentinel style as pkg/util/errors.go: callers classify a failure
// with errors.Is against exactly one of these regardless of which phase
// produced it.
var (
	ErrProvisioningDenied = errors.New("provisioning denied")
	ErrTransientNetwork   = errors.New("transient network failure")
	ErrProtocolViolation  = errors.New("provisioning protocol violation")
)

// ProvisioningDenied means the cloud rejected the provisioning secret (bad
// or expired). Never retried — surfaced to the operator as-is.
type ProvisioningDenied struct {
	Phase  string
	Detail string
}

func (e *ProvisioningDenied) Error() string {
	return fmt.Sprintf("provisioning denied in %s: %s", e.Phase, e.Detail)
}

func (e *ProvisioningDenied) Unwrap() error { return ErrProvisioningDenied }

func NewProvisioningDenied(phase, detail string) *ProvisioningDenied {
	return &ProvisioningDenied{Phase: phase, Detail: detail}
}

// TransientNetwork means any phase failed to reach the cloud at all (dial
// error, timeout, 5xx). The Orchestrator retries provisioning with backoff.
type TransientNetwork struct {
	Phase string
	Err   error
}

func (e *TransientNetwork) Error() string {
	return fmt.Sprintf("transient network failure in %s: %v", e.Phase, e.Err)
}

func (e *TransientNetwork) Unwrap() error { return ErrTransientNetwork }

func NewTransientNetwork(phase string, err error) *TransientNetwork {
	return &TransientNetwork{Phase: phase, Err: err}
}

// ProtocolError means the cloud responded but the payload was malformed or
// missing a required field. Aborts provisioning; no automatic retry since a
// malformed response is unlikely to self-correct.
type ProtocolError struct {
	Phase  string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("provisioning protocol error in %s: %s", e.Phase, e.Detail)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocolViolation }

func NewProtocolError(phase, detail string) *ProtocolError {
	return &ProtocolError{Phase: phase, Detail: detail}
}
