package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/framesight/api/internal/config"
)

// S3Store implements Store on an S3-compatible bucket (AWS S3, Cloudflare
// R2, MinIO). A single PutObject is atomic on S3, which gives Publish its
// all-or-nothing visibility for free.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates an S3-backed artifact store.
func NewS3Store(cfg *config.S3Config) (*S3Store, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 configuration incomplete")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: endpoint}, nil
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
	}, nil
}

func (s *S3Store) SaveInput(ctx context.Context, jobID, ext string, r io.Reader) (string, int64, error) {
	key := path.Join("inputs", jobID+ext)
	cr := &countingReader{r: r}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   cr,
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to upload input: %w", err)
	}
	return key, cr.n, nil
}

func (s *S3Store) OpenInput(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.get(ctx, key)
}

func (s *S3Store) RemoveInput(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete input: %w", err)
	}
	return nil
}

func (s *S3Store) Publish(ctx context.Context, jobID string, kind Kind, r io.Reader) (string, error) {
	key := path.Join("outputs", jobID, string(kind))
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(kind.ContentType()),
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish artifact: %w", err)
	}
	return key, nil
}

func (s *S3Store) Open(ctx context.Context, jobID string, kind Kind) (io.ReadCloser, error) {
	return s.get(ctx, path.Join("outputs", jobID, string(kind)))
}

func (s *S3Store) get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return out.Body, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
