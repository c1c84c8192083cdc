package blob

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config is read from the environment by LoadS3ConfigFromEnv.
type S3Config struct {
	Bucket string
	Region string

	// Static credentials. When empty, the SDK default chain applies
	// (instance profile, env, shared config).
	AccessKeyID     string
	SecretAccessKey string

	// Optional custom endpoint (minio and friends). Empty means AWS.
	Endpoint string
}

// LoadS3ConfigFromEnv reads the S3 backend configuration.
// Returns ok=false when no bucket is configured, which callers treat as
// "blob storage disabled" rather than an error.
func LoadS3ConfigFromEnv() (S3Config, bool) {
	cfg := S3Config{
		Bucket:          strings.TrimSpace(os.Getenv("COURIER_S3_BUCKET")),
		Region:          strings.TrimSpace(os.Getenv("AWS_REGION")),
		AccessKeyID:     strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY")),
		Endpoint:        strings.TrimSpace(os.Getenv("COURIER_S3_ENDPOINT")),
	}
	if cfg.Bucket == "" {
		return S3Config{}, false
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return cfg, true
}

// S3Uploader stores objects in one S3 bucket.
type S3Uploader struct {
	log    *slog.Logger
	client *s3.Client
	bucket string
	region string
}

// NewS3Uploader builds the S3 client from config.
func NewS3Uploader(ctx context.Context, log *slog.Logger, cfg S3Config) (*S3Uploader, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("%w: missing bucket", ErrInvalidInput)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{
		log:    log,
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// Put streams one object to the bucket and returns its public URL.
func (u *S3Uploader) Put(ctx context.Context, in PutInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(in.Key),
		Body:          in.Body,
		ContentLength: aws.Int64(in.Size),
		ContentType:   aws.String(in.ContentType),
	})
	if err != nil {
		u.log.Error("blob.put.fail", "bucket", u.bucket, "key", in.Key, "err", err)
		return "", fmt.Errorf("%w: put %s: %v", ErrUnavailable, in.Key, err)
	}

	url := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, in.Key)
	u.log.Info("blob.put.ok", "bucket", u.bucket, "key", in.Key, "bytes", in.Size)
	return url, nil
}

var _ Uploader = (*S3Uploader)(nil)
