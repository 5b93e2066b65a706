package delivery

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures an S3 (or S3-compatible) destination.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every remote path.
	Prefix   string
	Region   string
	Endpoint string

	UsePathStyle bool

	// Static credentials; the default AWS credential chain is used when empty.
	AccessKeyID     string
	SecretAccessKey string
}

// s3API is the minimal subset of s3 client methods we use; allows test fakes.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// newS3Client constructs an s3 client; overridden in tests.
var newS3Client = func(ctx context.Context, cfg S3Config) (s3API, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3Channel uploads artifacts as objects under a bucket prefix.
type S3Channel struct {
	config S3Config
	client s3API
}

// NewS3Channel creates an S3 channel.
func NewS3Channel(ctx context.Context, cfg S3Config) (*S3Channel, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Channel{config: cfg, client: client}, nil
}

// Key returns the object key for remotePath.
func (c *S3Channel) Key(remotePath string) string {
	if c.config.Prefix == "" {
		return remotePath
	}
	return path.Join(c.config.Prefix, remotePath)
}

// Deliver implements Channel.
func (c *S3Channel) Deliver(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.config.Bucket),
		Key:           aws.String(c.Key(remotePath)),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/marc"),
	})
	if err != nil {
		return fmt.Errorf("s3 put s3://%s/%s: %w", c.config.Bucket, c.Key(remotePath), err)
	}
	return nil
}
