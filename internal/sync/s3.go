package sync

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Destination writes the backup to an S3-compatible bucket.
type S3Destination struct {
	client *s3.Client
	bucket string
	key    string
}

// S3Config locates a backup object.
type S3Config struct {
	Bucket   string
	Key      string
	Region   string
	Endpoint string // non-empty selects path-style addressing (MinIO and similar)
}

// NewS3Destination creates an S3 destination. Credentials come from the
// default AWS chain.
func NewS3Destination(ctx context.Context, c S3Config) (*S3Destination, error) {
	if c.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if c.Key == "" {
		c.Key = "mapstate/backup.jsonl"
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(c.Region),
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if c.Endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Destination{
		client: s3.NewFromConfig(cfg, s3opts...),
		bucket: c.Bucket,
		key:    c.Key,
	}, nil
}

func (d *S3Destination) String() string { return "s3://" + d.bucket + "/" + d.key }

// Write uploads data as the configured object, replacing the previous one.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(d.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", d, err)
	}
	return nil
}
