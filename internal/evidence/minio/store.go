// Package minio stores evidence in a MinIO (or other S3-compatible) bucket.
package minio

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"statfiler/internal/evidence"
	"statfiler/internal/filing"
)

// Config holds MinIO connection settings.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// API is the subset of *minio.Client the store uses.
type API interface {
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Store implements evidence.Store.
type Store struct {
	client API
	bucket string
}

// New connects to MinIO and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	if err := ensureBucket(ctx, client, cfg.Bucket); err != nil {
		return nil, err
	}
	return NewWithClient(client, cfg.Bucket), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client API, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (s *Store) Driver() evidence.Driver { return evidence.DriverMinio }

func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, opts evidence.PutOptions) (evidence.Info, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err == nil {
		return evidence.Info{}, fmt.Errorf("%w: %s", filing.ErrEvidenceExists, key)
	} else if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return evidence.Info{}, fmt.Errorf("stat %s: %w", key, err)
	}

	up, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return evidence.Info{}, fmt.Errorf("failed to upload file: %w", err)
	}
	return evidence.Info{
		Key:          key,
		Size:         up.Size,
		ContentType:  opts.ContentType,
		ETag:         up.ETag,
		Metadata:     opts.Metadata,
		LastModified: up.LastModified,
	}, nil
}

func (s *Store) Head(ctx context.Context, key string) (evidence.Info, error) {
	obj, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return evidence.Info{}, err
	}
	return evidence.Info{
		Key:          key,
		Size:         obj.Size,
		ContentType:  obj.ContentType,
		ETag:         obj.ETag,
		Metadata:     obj.UserMetadata,
		LastModified: obj.LastModified,
	}, nil
}
