// Package s3sink uploads completed run traces to S3 for retention.
//
// Upload happens once, after the run has finished and the local trace file
// is complete. Upload failures never change the run outcome.
package s3sink

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// api is the subset of the S3 client the sink uses. Extracted for tests.
type api interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config locates the retention bucket.
type Config struct {
	// Bucket is the destination bucket name. Required.
	Bucket string

	// Prefix is the key prefix under which traces are stored
	// (e.g., "quartz/traces").
	Prefix string

	// Region overrides the default region resolution when set.
	Region string
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 sink bucket is required")
	}
	return nil
}

// Sink uploads run traces to one bucket.
type Sink struct {
	client api
	cfg    Config
}

// New creates a sink using the AWS default credential chain.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Sink{
		client: s3.NewFromConfig(awsCfg),
		cfg:    cfg,
	}, nil
}

// NewWithClient creates a sink over an existing S3 client. Used when the
// caller already configured credentials or a custom endpoint.
func NewWithClient(client *s3.Client, cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sink{client: client, cfg: cfg}, nil
}

// Key returns the object key a run's trace is stored under.
func (s *Sink) Key(runID string) string {
	return path.Join(s.cfg.Prefix, runID, "trace.jsonl")
}

// Upload stores the local trace file under the run's key.
func (s *Sink) Upload(ctx context.Context, runID, tracePath string) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	body, err := os.ReadFile(tracePath)
	if err != nil {
		return fmt.Errorf("read trace file: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(s.Key(runID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("put trace object: %w", err)
	}
	return nil
}
