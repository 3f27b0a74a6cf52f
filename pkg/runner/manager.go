package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// ProvisionTimeout bounds how long Provision waits for readiness.
	// Default: 10 minutes.
	ProvisionTimeout time.Duration

	// TeardownTimeout bounds the teardown request. Teardown runs on a
	// context detached from the run so cancellation cannot skip cleanup.
	// Default: 2 minutes.
	TeardownTimeout time.Duration

	// PollRate is the maximum status polls per second while waiting for
	// readiness. Default: 0.5 (one poll every two seconds).
	PollRate float64
}

// DefaultManagerConfig returns the default manager configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ProvisionTimeout: 10 * time.Minute,
		TeardownTimeout:  2 * time.Minute,
		PollRate:         0.5,
	}
}

// Manager provisions and tears down runner instances on a Platform.
//
// A Manager may serve many runs, but each Instance it returns is owned by
// exactly one run. Teardown bookkeeping guarantees at-most-once release per
// instance even if callers defer Teardown on multiple paths.
type Manager struct {
	platform Platform
	name     string
	config   ManagerConfig
	logger   *zap.Logger

	mu       sync.Mutex
	released map[Handle]bool
}

// NewManager creates a Manager for the given platform.
//
// name identifies the platform in errors and logs (e.g., "ec2").
func NewManager(platform Platform, name string, cfg ManagerConfig, logger *zap.Logger) *Manager {
	def := DefaultManagerConfig()
	if cfg.ProvisionTimeout <= 0 {
		cfg.ProvisionTimeout = def.ProvisionTimeout
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = def.TeardownTimeout
	}
	if cfg.PollRate <= 0 {
		cfg.PollRate = def.PollRate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		platform: platform,
		name:     name,
		config:   cfg,
		logger:   logger,
		released: make(map[Handle]bool),
	}
}

// Provision requests an instance and blocks until it is Ready or a
// provisioning failure is reported.
//
// On failure nothing was provisioned from the caller's point of view:
// if the platform accepted the start request but the instance never became
// ready, Provision stops the stray instance itself before returning.
func (m *Manager) Provision(ctx context.Context, profile Profile) (*Instance, error) {
	if profile.Name == "" {
		return nil, fmt.Errorf("capability profile name is required")
	}

	inst := &Instance{
		Profile:     profile,
		State:       StateRequested,
		RequestedAt: time.Now().UTC(),
	}

	handle, err := m.platform.Start(ctx, profile)
	if err != nil {
		inst.State = StateFailed
		if IsQuotaExhausted(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}
	inst.Handle = handle

	m.logger.Info("Instance requested",
		zap.String("platform", m.name),
		zap.String("handle", string(handle)),
		zap.String("profile", profile.Name))

	if err := m.waitReady(ctx, inst); err != nil {
		inst.State = StateFailed
		// The start request was accepted, so there is a stray instance to
		// release. This is internal cleanup of a failed provision, not a
		// run-scoped teardown: the caller is told provisioning failed and
		// must not call Teardown.
		m.stopDetached(handle)
		return nil, err
	}

	inst.State = StateReady
	inst.ReadyAt = time.Now().UTC()

	m.logger.Info("Instance ready",
		zap.String("platform", m.name),
		zap.String("handle", string(handle)),
		zap.Duration("wait", inst.ReadyAt.Sub(inst.RequestedAt)))

	return inst, nil
}

// waitReady polls Status until the instance reports Ready.
func (m *Manager) waitReady(ctx context.Context, inst *Instance) error {
	waitCtx, cancel := context.WithTimeout(ctx, m.config.ProvisionTimeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(m.config.PollRate), 1)

	for {
		if err := limiter.Wait(waitCtx); err != nil {
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("%w: instance %s not ready after %s",
					ErrProvisionTimeout, inst.Handle, m.config.ProvisionTimeout)
			}
			return fmt.Errorf("%w: %v", ErrProvisioning, err)
		}

		state, err := m.platform.Status(waitCtx, inst.Handle)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProvisioning, err)
		}

		switch state {
		case StateReady:
			return nil
		case StateFailed, StateStopped:
			return fmt.Errorf("%w: instance %s entered state %s before becoming ready",
				ErrProvisioning, inst.Handle, state)
		}
	}
}

// Teardown releases the instance.
//
// Teardown must be invoked exactly once per successfully provisioned
// instance, unconditionally, whether the run succeeded, failed, or was
// cancelled. It is idempotent: repeated calls and calls on already-stopped
// instances are no-ops. It deliberately ignores the caller's context
// cancellation, using its own timeout, so an externally cancelled run still
// releases its instance.
func (m *Manager) Teardown(inst *Instance) error {
	if inst == nil || inst.Handle == "" {
		return nil
	}

	m.mu.Lock()
	if m.released[inst.Handle] {
		m.mu.Unlock()
		return nil
	}
	m.released[inst.Handle] = true
	m.mu.Unlock()

	inst.State = StateTearingDown

	if err := m.stopDetached(inst.Handle); err != nil {
		inst.State = StateFailed
		return &PlatformError{
			Op:       "Stop",
			Platform: m.name,
			Handle:   inst.Handle,
			Err:      fmt.Errorf("%w: %v", ErrTeardown, err),
		}
	}

	inst.State = StateStopped
	m.logger.Info("Instance released",
		zap.String("platform", m.name),
		zap.String("handle", string(inst.Handle)))
	return nil
}

// stopDetached stops a handle under the teardown timeout, independent of
// any run context.
func (m *Manager) stopDetached(handle Handle) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.TeardownTimeout)
	defer cancel()
	return m.platform.Stop(ctx, handle)
}
