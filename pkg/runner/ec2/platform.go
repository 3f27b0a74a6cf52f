// Package ec2 implements runner.Platform on Amazon EC2.
//
// Each provisioned instance is tagged with the run that owns it and is
// configured to terminate (not stop) on shutdown, keeping the fleet strictly
// ephemeral.
package ec2

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/quartzci/quartz/pkg/runner"
)

// api is the subset of the EC2 client the platform uses. Extracted for tests.
type api interface {
	RunInstances(ctx context.Context, params *awsec2.RunInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *awsec2.DescribeInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *awsec2.TerminateInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.TerminateInstancesOutput, error)
}

// Platform implements runner.Platform for Amazon EC2.
type Platform struct {
	client api
	cfg    Config
}

// Ensure Platform implements the interface.
var _ runner.Platform = (*Platform)(nil)

// New creates an EC2 platform with the given configuration.
//
// The platform uses AWS SDK v2's default credential chain unless explicit
// credentials are provided in the config.
func New(ctx context.Context, cfg Config) (*Platform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &runner.PlatformError{
			Op:       "New",
			Platform: "ec2",
			Err:      err,
		}
	}

	return &Platform{
		client: awsec2.NewFromConfig(awsCfg),
		cfg:    cfg,
	}, nil
}

// Start launches one instance for the given capability profile.
func (p *Platform) Start(ctx context.Context, profile runner.Profile) (runner.Handle, error) {
	spec, ok := p.cfg.Profiles[profile.Name]
	if !ok {
		return "", p.wrapError("Start", "", fmt.Errorf("unknown capability profile %q", profile.Name))
	}

	tags := []types.Tag{
		{Key: aws.String("quartz:profile"), Value: aws.String(profile.Name)},
	}
	for k, v := range profile.Labels {
		tags = append(tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	input := &awsec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageID),
		InstanceType: types.InstanceType(spec.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		// Shutdown inside the instance terminates it; ephemeral instances
		// are never merely stopped.
		InstanceInitiatedShutdownBehavior: types.ShutdownBehaviorTerminate,
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags:         tags,
			},
		},
	}
	if p.cfg.SubnetID != "" {
		input.SubnetId = aws.String(p.cfg.SubnetID)
	}
	if len(p.cfg.SecurityGroupIDs) > 0 {
		input.SecurityGroupIds = p.cfg.SecurityGroupIDs
	}

	out, err := p.client.RunInstances(ctx, input)
	if err != nil {
		return "", p.wrapError("Start", "", classify(err))
	}
	if len(out.Instances) == 0 || out.Instances[0].InstanceId == nil {
		return "", p.wrapError("Start", "", fmt.Errorf("no instance in RunInstances response"))
	}

	return runner.Handle(*out.Instances[0].InstanceId), nil
}

// Status reports the lifecycle state of the instance.
func (p *Platform) Status(ctx context.Context, handle runner.Handle) (runner.State, error) {
	out, err := p.client.DescribeInstances(ctx, &awsec2.DescribeInstancesInput{
		InstanceIds: []string{string(handle)},
	})
	if err != nil {
		if isNotFound(err) {
			// The instance is gone; report stopped rather than erroring so
			// idempotent teardown paths converge.
			return runner.StateStopped, nil
		}
		return "", p.wrapError("Status", handle, classify(err))
	}

	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			if inst.State == nil {
				continue
			}
			return mapState(inst.State.Name), nil
		}
	}

	return runner.StateStopped, nil
}

// Stop terminates the instance. Terminating an already-terminated or
// unknown instance is a no-op.
func (p *Platform) Stop(ctx context.Context, handle runner.Handle) error {
	_, err := p.client.TerminateInstances(ctx, &awsec2.TerminateInstancesInput{
		InstanceIds: []string{string(handle)},
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return p.wrapError("Stop", handle, classify(err))
	}
	return nil
}

func (p *Platform) wrapError(op string, handle runner.Handle, err error) error {
	return &runner.PlatformError{
		Op:       op,
		Platform: "ec2",
		Handle:   handle,
		Err:      err,
	}
}

// mapState converts EC2 instance states to runner lifecycle states.
func mapState(name types.InstanceStateName) runner.State {
	switch name {
	case types.InstanceStateNamePending:
		return runner.StateRequested
	case types.InstanceStateNameRunning:
		return runner.StateReady
	case types.InstanceStateNameShuttingDown, types.InstanceStateNameStopping:
		return runner.StateTearingDown
	case types.InstanceStateNameTerminated, types.InstanceStateNameStopped:
		return runner.StateStopped
	default:
		return runner.StateFailed
	}
}

// classify maps EC2 API errors onto the runner sentinel taxonomy.
func classify(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.ErrorCode() {
	case "InstanceLimitExceeded", "VcpuLimitExceeded", "InsufficientInstanceCapacity", "MaxSpotInstanceCountExceeded":
		return fmt.Errorf("%w: %v", runner.ErrQuotaExhausted, err)
	}
	return err
}

// isNotFound reports whether the error means the instance does not exist.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "InvalidInstanceID.NotFound", "InvalidInstanceID.Malformed":
		return true
	}
	return false
}
