package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlatform is an in-memory Platform for tests.
type fakePlatform struct {
	mu sync.Mutex

	startErr     error
	statusErr    error
	stopErr      error
	readyAfter   int // Status calls before reporting ready
	terminalBad  bool
	statusCalls  int
	stopCalls    int
	stoppedByID  map[Handle]int
	nextHandleID int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{stoppedByID: make(map[Handle]int)}
}

func (f *fakePlatform) Start(ctx context.Context, profile Profile) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.nextHandleID++
	return Handle("i-0000" + string(rune('a'+f.nextHandleID))), nil
}

func (f *fakePlatform) Status(ctx context.Context, handle Handle) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return "", f.statusErr
	}
	f.statusCalls++
	if f.terminalBad {
		return StateFailed, nil
	}
	if f.statusCalls > f.readyAfter {
		return StateReady, nil
	}
	return StateRequested, nil
}

func (f *fakePlatform) Stop(ctx context.Context, handle Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	f.stoppedByID[handle]++
	return f.stopErr
}

func fastConfig() ManagerConfig {
	return ManagerConfig{
		ProvisionTimeout: 2 * time.Second,
		TeardownTimeout:  time.Second,
		PollRate:         200,
	}
}

func TestProvisionAndTeardown(t *testing.T) {
	p := newFakePlatform()
	p.readyAfter = 2
	m := NewManager(p, "fake", fastConfig(), nil)

	inst, err := m.Provision(context.Background(), Profile{Name: "cpu-large"})
	require.NoError(t, err)
	assert.Equal(t, StateReady, inst.State)
	assert.NotEmpty(t, inst.Handle)
	assert.False(t, inst.ReadyAt.IsZero())

	inst.Claim()
	assert.Equal(t, StateInUse, inst.State)

	require.NoError(t, m.Teardown(inst))
	assert.Equal(t, StateStopped, inst.State)
	assert.Equal(t, 1, p.stoppedByID[inst.Handle])
}

func TestTeardownIsIdempotent(t *testing.T) {
	p := newFakePlatform()
	m := NewManager(p, "fake", fastConfig(), nil)

	inst, err := m.Provision(context.Background(), Profile{Name: "cpu-large"})
	require.NoError(t, err)

	require.NoError(t, m.Teardown(inst))
	require.NoError(t, m.Teardown(inst))
	require.NoError(t, m.Teardown(inst))
	assert.Equal(t, 1, p.stoppedByID[inst.Handle])
}

func TestTeardownNilInstanceIsNoop(t *testing.T) {
	p := newFakePlatform()
	m := NewManager(p, "fake", fastConfig(), nil)

	require.NoError(t, m.Teardown(nil))
	require.NoError(t, m.Teardown(&Instance{}))
	assert.Equal(t, 0, p.stopCalls)
}

func TestProvisionStartRejected(t *testing.T) {
	p := newFakePlatform()
	p.startErr = errors.New("no capacity")
	m := NewManager(p, "fake", fastConfig(), nil)

	_, err := m.Provision(context.Background(), Profile{Name: "cpu-large"})
	require.Error(t, err)
	assert.True(t, IsProvisioning(err))
	// Nothing was provisioned, nothing to stop.
	assert.Equal(t, 0, p.stopCalls)
}

func TestProvisionQuotaExhaustedPassesThrough(t *testing.T) {
	p := newFakePlatform()
	p.startErr = ErrQuotaExhausted
	m := NewManager(p, "fake", fastConfig(), nil)

	_, err := m.Provision(context.Background(), Profile{Name: "gpu-single"})
	require.Error(t, err)
	assert.True(t, IsQuotaExhausted(err))
}

func TestProvisionTimeout(t *testing.T) {
	p := newFakePlatform()
	p.readyAfter = 1 << 30 // never ready
	cfg := fastConfig()
	cfg.ProvisionTimeout = 50 * time.Millisecond
	m := NewManager(p, "fake", cfg, nil)

	_, err := m.Provision(context.Background(), Profile{Name: "cpu-large"})
	require.Error(t, err)
	assert.True(t, IsProvisionTimeout(err))
	// The stray accepted instance is stopped internally.
	assert.Equal(t, 1, p.stopCalls)
}

func TestProvisionInstanceDiesBeforeReady(t *testing.T) {
	p := newFakePlatform()
	p.terminalBad = true
	m := NewManager(p, "fake", fastConfig(), nil)

	_, err := m.Provision(context.Background(), Profile{Name: "cpu-large"})
	require.Error(t, err)
	assert.True(t, IsProvisioning(err))
	assert.Equal(t, 1, p.stopCalls)
}

func TestTeardownSurvivesCancelledRunContext(t *testing.T) {
	p := newFakePlatform()
	m := NewManager(p, "fake", fastConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	inst, err := m.Provision(ctx, Profile{Name: "cpu-large"})
	require.NoError(t, err)

	// Cancel the run; teardown must still reach the platform.
	cancel()
	require.NoError(t, m.Teardown(inst))
	assert.Equal(t, 1, p.stoppedByID[inst.Handle])
}

func TestTeardownFailureReported(t *testing.T) {
	p := newFakePlatform()
	m := NewManager(p, "fake", fastConfig(), nil)

	inst, err := m.Provision(context.Background(), Profile{Name: "cpu-large"})
	require.NoError(t, err)

	p.stopErr = errors.New("api error")
	err = m.Teardown(inst)
	require.Error(t, err)
	assert.True(t, IsTeardown(err))

	var pErr *PlatformError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, "fake", pErr.Platform)
	assert.Equal(t, inst.Handle, pErr.Handle)
}

func TestProvisionRequiresProfileName(t *testing.T) {
	m := NewManager(newFakePlatform(), "fake", fastConfig(), nil)
	_, err := m.Provision(context.Background(), Profile{})
	require.Error(t, err)
}
