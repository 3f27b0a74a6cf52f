package runner

import (
	"errors"
	"fmt"
)

// Sentinel errors for platform operations.
var (
	// ErrProvisioning indicates the platform rejected or failed the
	// instance request.
	ErrProvisioning = errors.New("instance provisioning failed")

	// ErrQuotaExhausted indicates the platform has no capacity for the
	// requested profile.
	ErrQuotaExhausted = errors.New("instance quota exhausted")

	// ErrProvisionTimeout indicates the instance did not become ready
	// within the configured deadline.
	ErrProvisionTimeout = errors.New("instance provisioning timed out")

	// ErrTeardown indicates the release request failed. The instance may
	// still be running and needs operator attention.
	ErrTeardown = errors.New("instance teardown failed")

	// ErrInstanceLost indicates the instance disappeared while in use.
	ErrInstanceLost = errors.New("instance lost")
)

// PlatformError wraps platform-specific errors with context.
type PlatformError struct {
	// Op is the operation that failed (e.g., "Start", "Stop").
	Op string

	// Platform identifies the backend (e.g., "ec2").
	Platform string

	// Handle is the instance handle, if one was assigned.
	Handle Handle

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PlatformError) Error() string {
	if e.Handle != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Platform, e.Op, e.Handle, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Platform, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PlatformError) Unwrap() error {
	return e.Err
}

// IsProvisioning returns true if the error indicates a provisioning failure.
func IsProvisioning(err error) bool {
	return errors.Is(err, ErrProvisioning)
}

// IsQuotaExhausted returns true if the error indicates quota exhaustion.
func IsQuotaExhausted(err error) bool {
	return errors.Is(err, ErrQuotaExhausted)
}

// IsProvisionTimeout returns true if the error indicates a readiness timeout.
func IsProvisionTimeout(err error) bool {
	return errors.Is(err, ErrProvisionTimeout)
}

// IsTeardown returns true if the error indicates a teardown failure.
func IsTeardown(err error) bool {
	return errors.Is(err, ErrTeardown)
}

// IsInstanceLost returns true if the error indicates the instance vanished.
func IsInstanceLost(err error) bool {
	return errors.Is(err, ErrInstanceLost)
}
