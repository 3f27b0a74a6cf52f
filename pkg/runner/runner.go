// Package runner manages the lifecycle of ephemeral compute instances that
// host test execution.
//
// Instances are strictly ephemeral: each instance serves exactly one
// pipeline run and is then terminated, never stopped or reused. The full
// lifecycle is:
//
//	Requested → Ready → InUse → TearingDown → Stopped
//
// with Failed reachable from Requested (provisioning failure). Teardown is
// attempted exactly when provisioning succeeded, regardless of how the run
// that used the instance ended.
package runner

import (
	"context"
	"time"
)

// State is the lifecycle state of a runner instance.
type State string

const (
	StateRequested   State = "requested"
	StateReady       State = "ready"
	StateInUse       State = "in-use"
	StateTearingDown State = "tearing-down"
	StateStopped     State = "stopped"
	StateFailed      State = "failed"
)

// Handle is the platform's opaque identifier for a provisioned instance
// (an EC2 instance ID, a pod name, a container ID).
type Handle string

// Profile describes the capability class of the instance to provision.
type Profile struct {
	// Name is the capability profile label (e.g., "cpu-large", "gpu-single").
	// Required; the platform maps it to concrete machine configuration.
	Name string

	// Labels are additional key/value tags attached to the instance so
	// operators can trace it back to the run that owns it.
	Labels map[string]string
}

// Platform is the contract every compute backend must satisfy.
//
// Implementations are responsible for launching an instance for the given
// profile and fully terminating it on Stop. The returned handle is opaque
// to callers.
type Platform interface {
	// Start requests a new instance with the given capability profile.
	// It returns once the platform has accepted the request; the instance
	// may not be addressable yet (poll Status until StateReady).
	Start(ctx context.Context, profile Profile) (Handle, error)

	// Status reports the current lifecycle state of the instance.
	Status(ctx context.Context, handle Handle) (State, error)

	// Stop terminates the instance. It must be idempotent: stopping an
	// already-terminated or unknown handle is a no-op, not an error.
	Stop(ctx context.Context, handle Handle) error
}

// Instance is a provisioned compute resource, exclusively owned by one
// pipeline run for its entire lifetime.
type Instance struct {
	// Handle is the platform identifier.
	Handle Handle

	// Profile is the capability profile the instance was provisioned with.
	Profile Profile

	// State is the last observed lifecycle state.
	State State

	// RequestedAt is when provisioning was requested.
	RequestedAt time.Time

	// ReadyAt is when the instance became addressable.
	ReadyAt time.Time
}

// Claim marks a ready instance as in use by the stage runner.
func (i *Instance) Claim() {
	if i.State == StateReady {
		i.State = StateInUse
	}
}
