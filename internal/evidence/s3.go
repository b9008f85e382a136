package evidence

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sitewatch/sitewatch/internal/logger"
)

// S3Config holds connection settings for an S3-compatible object store.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Writer saves snapshots to an S3-compatible bucket.
type S3Writer struct {
	client *minio.Client
	bucket string
	logger *logger.Logger
}

// NewS3Writer connects to the object store and ensures the bucket exists.
func NewS3Writer(ctx context.Context, config S3Config, log *logger.Logger) (*S3Writer, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %q: %w", config.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", config.Bucket, err)
		}
	}

	return &S3Writer{client: client, bucket: config.Bucket, logger: log}, nil
}

// Save uploads the snapshot and returns its object key.
func (w *S3Writer) Save(ctx context.Context, cameraID, violation string, capturedAt time.Time, jpeg []byte) (string, error) {
	key := objectPath(cameraID, violation, capturedAt)

	_, err := w.client.PutObject(
		ctx,
		w.bucket,
		key,
		bytes.NewReader(jpeg),
		int64(len(jpeg)),
		minio.PutObjectOptions{ContentType: "image/jpeg"},
	)
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}

	w.logger.Debug("Uploaded evidence snapshot", "bucket", w.bucket, "key", key, "bytes", len(jpeg))
	return key, nil
}
