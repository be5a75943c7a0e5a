package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ArchiveConfig configures off-site copies of finished clips.
type ArchiveConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	UseSSL          bool          `yaml:"use_ssl"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
}

func (c ArchiveConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" || c.Bucket == "" {
		return fmt.Errorf("archive endpoint and bucket are required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("archive max_retries cannot be negative")
	}
	return nil
}

type objectPutter interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archive uploads clips to a MinIO/S3 bucket under a yyyy/mm/dd prefix.
type Archive struct {
	client objectPutter
	config ArchiveConfig
	logger *zap.Logger
}

// NewArchive connects to the object store and creates the bucket if needed.
func NewArchive(ctx context.Context, config ArchiveConfig, logger *zap.Logger) (*Archive, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.L().Named("archive")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, &StorageError{Op: "bucket_exists", Path: config.Bucket, Err: err, Retryable: true}
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{Region: config.Region}); err != nil {
			return nil, &StorageError{Op: "make_bucket", Path: config.Bucket, Err: err}
		}
		logger.Info("Created MinIO bucket", zap.String("bucket", config.Bucket))
	}

	return newArchive(client, config, logger), nil
}

func newArchive(client objectPutter, config ArchiveConfig, logger *zap.Logger) *Archive {
	return &Archive{client: client, config: config, logger: logger}
}

// ObjectKey is the key a clip taken at t is stored under.
func ObjectKey(t time.Time, file string) string {
	return path.Join(t.Format("2006"), t.Format("01"), t.Format("02"), filepath.Base(file))
}

// Upload copies the clip at filePath to the bucket, retrying with
// exponential backoff, and returns the object key.
func (a *Archive) Upload(ctx context.Context, filePath string, capturedAt time.Time) (string, error) {
	key := ObjectKey(capturedAt, filePath)

	newBackoff := func() backoff.BackOff {
		ebo := backoff.NewExponentialBackOff()
		if a.config.RetryBackoff > 0 {
			ebo.InitialInterval = a.config.RetryBackoff
		}
		ebo.Reset()
		return backoff.WithMaxRetries(ebo, uint64(a.config.MaxRetries))
	}

	attempt := 0
	op := func() error {
		attempt++
		info, err := a.client.FPutObject(ctx, a.config.Bucket, key, filePath, minio.PutObjectOptions{
			ContentType: contentType(filePath),
		})
		if err != nil {
			a.logger.Warn("Archive upload failed",
				zap.String("key", key),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		a.logger.Info("Clip archived",
			zap.String("key", key),
			zap.Int64("size", info.Size),
			zap.String("etag", info.ETag))
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(newBackoff(), ctx)); err != nil {
		return "", &StorageError{Op: "archive", Path: key, Err: err, Retryable: true}
	}
	return key, nil
}

func contentType(file string) string {
	switch filepath.Ext(file) {
	case ".avi":
		return "video/x-msvideo"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
