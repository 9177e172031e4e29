// Package export publishes finished manuscripts to S3-compatible object storage.
package export

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Publisher uploads a finished artifact and returns where it was stored.
type Publisher interface {
	Publish(ctx context.Context, localPath, objectName string) (string, error)
}

// Config holds the S3 connection settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Prefix    string
}

// S3Publisher uploads with minio-go.
type S3Publisher struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Publisher creates a publisher. It does not contact the server.
func NewS3Publisher(cfg Config) (*S3Publisher, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("export requires endpoint and bucket")
	}

	// minio-go expects host:port
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &S3Publisher{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (p *S3Publisher) EnsureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", p.bucket, err)
	}
	return nil
}

// ObjectKey joins the configured prefix and objectName.
func (p *S3Publisher) ObjectKey(objectName string) string {
	return strings.TrimPrefix(path.Join(p.prefix, objectName), "/")
}

// Publish uploads localPath as a PDF and returns an s3:// location.
func (p *S3Publisher) Publish(ctx context.Context, localPath, objectName string) (string, error) {
	key := p.ObjectKey(objectName)
	_, err := p.client.FPutObject(ctx, p.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/pdf",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", p.bucket, key), nil
}
