package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"atelier/internal/domain"
)

// MinioStore persists images in a MinIO (S3-compatible) bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	public string
}

// MinioOptions configures the MinIO-backed store.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("storage: minio endpoint is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: make bucket: %w", err)
		}
	}
	scheme := "http"
	if opts.UseSSL {
		scheme = "https"
	}
	return &MinioStore{
		client: client,
		bucket: opts.Bucket,
		public: fmt.Sprintf("%s://%s/%s", scheme, opts.Endpoint, opts.Bucket),
	}, nil
}

// Upload stores the bytes as an object under folder and returns the object URL.
func (s *MinioStore) Upload(ctx context.Context, data []byte, filename, folder string) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("storage: no store configured")
	}
	if len(data) == 0 {
		return "", errors.New("storage: empty payload")
	}
	key, err := sanitizeKey(folder + "/" + uuid.NewString() + "-" + filepath.Base(filename))
	if err != nil {
		return "", err
	}
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("storage: put object: %w", err)
	}
	return s.public + "/" + key, nil
}

// ResolveLocalPath always reports not found: objects live remotely, callers
// fetch them over HTTP instead.
func (s *MinioStore) ResolveLocalPath(string) (string, error) {
	return "", domain.ErrNotFound
}

var _ domain.ImageStore = (*MinioStore)(nil)
