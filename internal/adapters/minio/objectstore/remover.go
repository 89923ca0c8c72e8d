package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config describes the S3-compatible bucket image objects live in.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Client overrides the client built from the fields above.
	Client *minio.Client
}

func (c Config) validate() error {
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if c.Client == nil && c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	return nil
}

// Remover deletes image objects from a MinIO/S3 bucket.
type Remover struct {
	client *minio.Client
	bucket string
}

func NewRemover(cfg Config) (*Remover, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid object store config: %w", err)
	}
	client := cfg.Client
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
	}
	return &Remover{client: client, bucket: cfg.Bucket}, nil
}

func (r *Remover) RemoveObject(ctx context.Context, key string) error {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return errors.New("empty object key")
	}
	err := r.client.RemoveObject(ctx, r.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("remove %s/%s: %w", r.bucket, key, err)
	}
	return nil
}
