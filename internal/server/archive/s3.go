// Package archive stores verified webhook payloads in object storage for
// later audit. Archiving is best effort and never affects ledger outcomes.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Archiver keeps a copy of a raw payload.
type Archiver interface {
	Archive(ctx context.Context, eventID string, payload []byte) (string, error)
}

type S3Config struct {
	RootUser     string
	RootPassword string
	Bucket       string
	Region       string
	BaseEndpoint string
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) putObjectAPI {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Archive writes payloads to an S3-compatible bucket (MinIO in development).
type S3Archive struct {
	client putObjectAPI
	bucket string
	now    func() time.Time
}

func NewS3Archive(ctx context.Context, c S3Config) (*S3Archive, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
	if c.RootUser != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.RootUser, c.RootPassword, "")))
	}

	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Archive{client: client, bucket: c.Bucket, now: time.Now}, nil
}

// StorageKey places payloads under a dated prefix. An empty eventID gets a
// random name.
func StorageKey(d time.Time, eventID string) string {
	if eventID == "" {
		eventID = uuid.NewString()
	}
	return fmt.Sprintf("webhooks/%d/%02d/%02d/%s.json", d.Year(), d.Month(), d.Day(), eventID)
}

func (a *S3Archive) Archive(ctx context.Context, eventID string, payload []byte) (string, error) {
	key := StorageKey(a.now().UTC(), eventID)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

// Noop drops payloads. Used when no bucket is configured.
type Noop struct{}

func (Noop) Archive(context.Context, string, []byte) (string, error) { return "", nil }
