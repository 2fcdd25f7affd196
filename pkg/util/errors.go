// Package util provides cross-cutting error types shared by every edged
// component. The taxonomy mirrors the component boundaries described in the
// design: a caller can classify any error from any package with errors.Is
// against one of the sentinels below, regardless of which package raised it.
package util

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/edged/edged/pkg/logging"
)

// Sentinel errors. Every typed error below wraps exactly one of these.
var (
	ErrNotConnected       = errors.New("not connected")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrConfig             = errors.New("invalid configuration")
	ErrStorage            = errors.New("storage failure")
	ErrNetwork            = errors.New("network failure")
	ErrProtocol           = errors.New("protocol violation")
	ErrDriver             = errors.New("driver failure")
	ErrSecurity           = errors.New("security failure")
	ErrPreconditionFailed = errors.New("precondition not met")
	ErrValidationFailed   = errors.New("validation failed")
)

// ConfigError wraps a malformed or inconsistent input: bad target-state
// JSON, an unknown sensor protocol, and so on. Never retried — surfaced to
// the operator as-is.
type ConfigError struct {
	Context string
	Detail  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %s", e.Context, e.Detail)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

func NewConfigError(context, detail string) *ConfigError {
	return &ConfigError{Context: context, Detail: detail}
}

// StorageError wraps a persistent-store failure. Writes are reported to the
// caller as-is; reads may fall back to the last known-good in-memory value.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return ErrStorage }

func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// NetworkError wraps a transient cloud-connectivity failure. Retried with
// backoff by the loop that produced it; escalated to a degraded/offline
// health event only once that loop's own failure threshold is crossed.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return ErrNetwork }

func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err}
}

// ProtocolError wraps semantically invalid data returned by the cloud — a
// document that parses as JSON but violates the TargetState schema. The
// offending document is discarded and the previous good state retained.
type ProtocolError struct {
	Context string
	Detail  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error in %s: %s", e.Context, e.Detail)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

func NewProtocolError(context, detail string) *ProtocolError {
	return &ProtocolError{Context: context, Detail: detail}
}

// DriverClass classifies a container-driver failure so the reconciler can
// decide whether to retry, skip, or abort the whole pass.
type DriverClass string

const (
	DriverNotFound         DriverClass = "not_found"
	DriverConflict         DriverClass = "conflict"
	DriverImageUnavailable DriverClass = "image_unavailable"
	DriverRuntimeDown      DriverClass = "runtime_down"
	DriverTransient        DriverClass = "transient"
	DriverFatal            DriverClass = "fatal"
)

// DriverError wraps a classified container-driver failure.
type DriverError struct {
	Class DriverClass
	Op    string
	Err   error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver error (%s) during %s: %v", e.Class, e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return ErrDriver }

func NewDriverError(class DriverClass, op string, err error) *DriverError {
	return &DriverError{Class: class, Op: op, Err: err}
}

// SecurityError wraps a failed verification: TLS, a signature, a
// provisioning secret. Never retried automatically; may disable remote
// logging/cloud sinks until the operator resolves it.
type SecurityError struct {
	Context string
	Detail  string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security error in %s: %s", e.Context, e.Detail)
}

func (e *SecurityError) Unwrap() error { return ErrSecurity }

func NewSecurityError(context, detail string) *SecurityError {
	return &SecurityError{Context: context, Detail: detail}
}

// PreconditionError represents a failed precondition check with context,
// e.g. "target state must be loaded" before a reconcile pass can start.
type PreconditionError struct {
	Operation    string
	Resource     string
	Precondition string
	Details      string
}

func (e *PreconditionError) Error() string {
	msg := fmt.Sprintf("precondition failed for %s on %s: %s", e.Operation, e.Resource, e.Precondition)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

func (e *PreconditionError) Unwrap() error { return ErrPreconditionFailed }

func NewPreconditionError(operation, resource, precondition, details string) *PreconditionError {
	return &PreconditionError{Operation: operation, Resource: resource, Precondition: precondition, Details: details}
}

// ValidationError represents one or more validation failures accumulated
// while parsing a target state or sensor config.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder accumulates validation errors across several checks so
// callers can report every problem found in one pass instead of failing on
// the first one.
type ValidationBuilder struct {
	errors []string
}

func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

func (v *ValidationBuilder) HasErrors() bool { return len(v.errors) > 0 }

func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}

// RecoverTask wraps the body of a long-running orchestrator goroutine,
// turning a panic into an error-level log record instead of crashing the
// process. Callers decide whether and how to restart the task; RecoverTask
// only contains the blast radius of a single task boundary.
func RecoverTask(component logging.Component, taskName string) {
	if r := recover(); r != nil {
		logging.Default().WithComponent(component).WithFields(map[string]interface{}{
			"task":  taskName,
			"panic": fmt.Sprintf("%v", r),
			"stack": string(debug.Stack()),
		}).Error("task panicked")
	}
}
