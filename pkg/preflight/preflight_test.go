package preflight

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzci/quartz/pkg/diff"
	"github.com/quartzci/quartz/pkg/runner"
)

type sourceFunc func(ctx context.Context, base, head string) ([]string, error)

func (f sourceFunc) ChangedFiles(ctx context.Context, base, head string) ([]string, error) {
	return f(ctx, base, head)
}

type stubPlatform struct {
	statusErr error
}

func (p *stubPlatform) Start(context.Context, runner.Profile) (runner.Handle, error) {
	return "", errors.New("preflight must not start instances")
}

func (p *stubPlatform) Status(context.Context, runner.Handle) (runner.State, error) {
	if p.statusErr != nil {
		return "", p.statusErr
	}
	return runner.StateStopped, nil
}

func (p *stubPlatform) Stop(context.Context, runner.Handle) error {
	return errors.New("preflight must not stop instances")
}

func TestPlanOnlySkipsExternalCalls(t *testing.T) {
	called := false
	source := sourceFunc(func(context.Context, string, string) ([]string, error) {
		called = true
		return nil, nil
	})

	rec, err := Run(context.Background(), source, &stubPlatform{}, Spec{Mode: ModePlanOnly})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Empty(t, rec.Results)
	assert.True(t, rec.Passed())
}

func TestReadSafeAllChecksPass(t *testing.T) {
	source := sourceFunc(func(context.Context, string, string) ([]string, error) {
		return []string{"src/core/aead.c"}, nil
	})

	rec, err := Run(context.Background(), source, &stubPlatform{}, Spec{Mode: ModeReadSafe, Base: "main", Head: "abc"})
	require.NoError(t, err)
	require.Len(t, rec.Results, 2)
	assert.True(t, rec.Passed())
	assert.Equal(t, CapDiffCompare, rec.Results[0].Capability)
	assert.Equal(t, CapPlatformStatus, rec.Results[1].Capability)
}

func TestReadSafeUnresolvableRangeIsAllowed(t *testing.T) {
	source := sourceFunc(func(context.Context, string, string) ([]string, error) {
		return nil, fmt.Errorf("%w: unknown revision", diff.ErrRangeUnresolvable)
	})

	rec, err := Run(context.Background(), source, nil, Spec{Mode: ModeReadSafe, Base: "gone", Head: "abc"})
	require.NoError(t, err)
	require.Len(t, rec.Results, 1)
	assert.True(t, rec.Results[0].Allowed)
}

func TestReadSafeSourceUnavailableFails(t *testing.T) {
	source := sourceFunc(func(context.Context, string, string) ([]string, error) {
		return nil, fmt.Errorf("%w: 503", diff.ErrSourceUnavailable)
	})

	rec, err := Run(context.Background(), source, &stubPlatform{}, Spec{Mode: ModeReadSafe})
	require.Error(t, err)
	require.Len(t, rec.Results, 2)
	assert.False(t, rec.Results[0].Allowed)
	assert.False(t, rec.Passed())
	// The platform check still ran.
	assert.True(t, rec.Results[1].Allowed)
}

func TestReadSafePlatformFailure(t *testing.T) {
	source := sourceFunc(func(context.Context, string, string) ([]string, error) {
		return nil, nil
	})
	platform := &stubPlatform{statusErr: errors.New("credentials expired")}

	rec, err := Run(context.Background(), source, platform, Spec{Mode: ModeReadSafe})
	require.Error(t, err)
	require.Len(t, rec.Results, 2)
	assert.True(t, rec.Results[0].Allowed)
	assert.False(t, rec.Results[1].Allowed)
	assert.Contains(t, rec.Results[1].Detail, "credentials expired")
}
