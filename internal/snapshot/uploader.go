// Package snapshot uploads database snapshots to S3-compatible storage.
// When no bucket is configured the NoopUploader is used and snapshots stay
// on local disk only.
package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/tasksync/internal/config"
)

// Uploader ships a snapshot file to durable storage.
type Uploader interface {
	// Upload stores the file at filePath as the snapshot taken at takenAt.
	Upload(ctx context.Context, filePath string, takenAt time.Time) error
}

// s3Client is the subset of *minio.Client used by S3Uploader.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string) error
}

type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	_, err := w.client.FPutObject(ctx, bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: "application/vnd.sqlite3",
	})
	return err
}

// S3Uploader uploads snapshots to S3-compatible storage. Each upload writes
// a timestamped object and refreshes the latest pointer object.
type S3Uploader struct {
	client s3Client
	bucket string
}

// Upload puts the snapshot under both its timestamped key and the latest key.
func (u *S3Uploader) Upload(ctx context.Context, filePath string, takenAt time.Time) error {
	for _, key := range []string{objectKey(takenAt), latestKey} {
		if err := u.client.FPutObject(ctx, u.bucket, key, filePath); err != nil {
			return fmt.Errorf("upload snapshot %s: %w", key, err)
		}
	}
	return nil
}

// NoopUploader is used when S3 storage is not configured.
type NoopUploader struct{}

// Upload does nothing.
func (NoopUploader) Upload(context.Context, string, time.Time) error {
	return nil
}

// NewUploader returns a NoopUploader when cfg has no bucket and an
// S3Uploader otherwise.
func NewUploader(cfg config.SnapshotStorageConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return NoopUploader{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}
	endpoint := stripScheme(cfg.Endpoint, &useSSL)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{
		client: &minioClientWrapper{client: client},
		bucket: cfg.Bucket,
	}, nil
}

// stripScheme removes an http:// or https:// prefix from endpoint, since
// minio expects a bare host. An explicit scheme overrides useSSL.
func stripScheme(endpoint string, useSSL *bool) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		*useSSL = true
		return strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		*useSSL = false
		return strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint
}

const latestKey = "snapshots/latest.db"

// objectKey returns the key for a snapshot taken at t.
// Convention: snapshots/20060102T150405Z.db
func objectKey(t time.Time) string {
	return "snapshots/" + t.UTC().Format("20060102T150405Z") + ".db"
}
