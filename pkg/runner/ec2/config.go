package ec2

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// ProfileSpec maps a capability profile name to concrete EC2 machine
// configuration.
type ProfileSpec struct {
	// InstanceType is the EC2 instance type (e.g., "c6i.8xlarge").
	InstanceType string `json:"instance_type" yaml:"instance_type"`

	// ImageID is the AMI to launch. Required.
	ImageID string `json:"image_id" yaml:"image_id"`
}

// Config configures the EC2 platform.
type Config struct {
	// Region is the AWS region. Optional; resolution order is explicit
	// config, SDK defaults (env/shared config), then IMDS when running
	// inside EC2.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// CredentialsProfile is the AWS shared-config profile name. Optional.
	CredentialsProfile string `json:"credentials_profile,omitempty" yaml:"credentials_profile,omitempty"`

	// AccessKeyID and SecretAccessKey provide explicit static credentials.
	// Optional; the SDK default chain is used when empty.
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`

	// SubnetID places instances in a specific subnet. Optional.
	SubnetID string `json:"subnet_id,omitempty" yaml:"subnet_id,omitempty"`

	// SecurityGroupIDs attach to launched instances. Optional.
	SecurityGroupIDs []string `json:"security_group_ids,omitempty" yaml:"security_group_ids,omitempty"`

	// Profiles maps capability profile names to machine configuration.
	// At least one entry is required.
	Profiles map[string]ProfileSpec `json:"profiles" yaml:"profiles"`
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if len(c.Profiles) == 0 {
		return fmt.Errorf("at least one capability profile is required")
	}
	for name, spec := range c.Profiles {
		if spec.InstanceType == "" {
			return fmt.Errorf("profile %q: instance_type is required", name)
		}
		if spec.ImageID == "" {
			return fmt.Errorf("profile %q: image_id is required", name)
		}
	}
	return nil
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Only apply explicit region if user set one in config.
	// Let SDK resolve from env/profile first.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.CredentialsProfile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.CredentialsProfile))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // session token (empty for long-term credentials)
		)
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	if awsCfg.Region == "" {
		awsCfg.Region = regionFromIMDS(ctx)
	}
	if awsCfg.Region == "" {
		return aws.Config{}, fmt.Errorf("AWS region could not be resolved; set region explicitly")
	}

	return awsCfg, nil
}

// regionFromIMDS asks the instance metadata service for the local region.
// Returns empty string when not running inside EC2.
func regionFromIMDS(ctx context.Context) string {
	imdsCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	client := imds.New(imds.Options{})
	out, err := client.GetRegion(imdsCtx, &imds.GetRegionInput{})
	if err != nil {
		return ""
	}
	return out.Region
}
