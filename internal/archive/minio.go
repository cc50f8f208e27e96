package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/mikeyg42/birdwatcher/internal/logging"
)

// MinIOConfig contains MinIO configuration
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Region          string

	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// Retry settings on top of the client's own retries
	MaxRetries   uint64
	RetryBackoff time.Duration
}

// MinIOStore uploads files to one bucket.
type MinIOStore struct {
	client *minio.Client
	config MinIOConfig
	logger *zap.Logger
}

// NewMinIOStore connects and makes sure the bucket exists.
func NewMinIOStore(ctx context.Context, config MinIOConfig, logger *zap.Logger) (*MinIOStore, error) {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 2 * time.Minute
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = time.Second
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &MinIOStore{
		client: client,
		config: config,
		logger: logging.Named(logger, "minio-store"),
	}

	ctx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{Region: config.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		store.logger.Info("Created MinIO bucket", zap.String("bucket", config.Bucket))
	}
	return store, nil
}

// Upload puts the file at path under key, retrying transient failures.
func (s *MinIOStore) Upload(ctx context.Context, key, path, contentType string) error {
	newBackoff := func() backoff.BackOff {
		ebo := backoff.NewExponentialBackOff()
		ebo.InitialInterval = s.config.RetryBackoff
		ebo.Reset()
		if s.config.MaxRetries > 0 {
			return backoff.WithMaxRetries(ebo, s.config.MaxRetries)
		}
		return ebo
	}

	attempt := 0
	op := func() error {
		attempt++
		reqCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()

		info, err := s.client.FPutObject(reqCtx, s.config.Bucket, key, path, minio.PutObjectOptions{
			ContentType: contentType,
		})
		if err != nil {
			status := minio.ToErrorResponse(err).StatusCode
			s.logger.Warn("upload attempt failed",
				zap.String("key", key),
				zap.Int("attempt", attempt),
				zap.Int("status", status),
				zap.Error(err))
			if !retryable(status) {
				return backoff.Permanent(&UploadError{Op: "put", Key: key, Err: err, StatusCode: status})
			}
			return err
		}
		s.logger.Debug("uploaded object", zap.String("key", key), zap.Int64("bytes", info.Size))
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(newBackoff(), ctx)); err != nil {
		var uerr *UploadError
		if errors.As(err, &uerr) {
			return uerr
		}
		return &UploadError{Op: "put", Key: key, Err: err, Retryable: true}
	}
	return nil
}

// retryable treats throttling, timeouts, server errors and transport
// failures (status 0) as transient.
func retryable(status int) bool {
	switch {
	case status == 0:
		return true
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}
