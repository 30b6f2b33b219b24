// pkg/blob/s3.go
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// S3API is the subset of the S3 client used by S3Store
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps objects in S3 buckets named by s3://bucket/key URIs
type S3Store struct {
	client S3API
	logger *zap.Logger
}

// NewS3Store creates an S3 store using the default AWS credential chain
func NewS3Store(ctx context.Context, region string, logger *zap.Logger) (*S3Store, error) {
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewS3StoreWithClient(s3.NewFromConfig(awsCfg), logger), nil
}

// NewS3StoreWithClient wraps an existing S3 client
func NewS3StoreWithClient(client S3API, logger *zap.Logger) *S3Store {
	return &S3Store{client: client, logger: logger}
}

// Open fetches the object at uri
func (s *S3Store) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		return nil, fmt.Errorf("failed to get %s: %w", uri, err)
	}
	return out.Body, nil
}

// Write uploads data to uri, replacing any existing object
func (s *S3Store) Write(ctx context.Context, uri string, data []byte) error {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", uri, err)
	}

	s.logger.Debug("Uploaded object",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int("bytes", len(data)))
	return nil
}
