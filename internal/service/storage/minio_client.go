package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"healthnexus-backend/pkg/logger"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerHalfOpen
	CircuitBreakerOpen
)

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	MaxFailures  int
	Timeout      time.Duration
	ResetTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns default circuit breaker settings
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxFailures:  5,
		Timeout:      10 * time.Second,
		ResetTimeout: 30 * time.Second,
	}
}

// MinioClient wraps the MinIO client with a circuit breaker. After
// ResetTimeout the breaker moves to half-open and allows one probe.
type MinioClient struct {
	client *minio.Client
	config *CircuitBreakerConfig

	mu          sync.Mutex
	state       CircuitBreakerState
	failures    int
	lastFailure time.Time
}

// NewMinioClient creates a new MinIO client with resilience features
func NewMinioClient(endpoint, accessKey, secretKey string, secure bool) (*MinioClient, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinioClient{
		client: minioClient,
		config: DefaultCircuitBreakerConfig(),
		state:  CircuitBreakerClosed,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist
func (c *MinioClient) EnsureBucket(ctx context.Context, bucketName string) error {
	exists, err := c.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	logger.Info("Object storage bucket created", zap.String("bucket", bucketName))
	return nil
}

// allow reports whether a request may proceed under the breaker
func (c *MinioClient) allow() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CircuitBreakerOpen {
		if time.Since(c.lastFailure) >= c.config.ResetTimeout {
			c.state = CircuitBreakerHalfOpen
			return nil
		}
		return errors.New("circuit breaker is open")
	}
	return nil
}

// onSuccess handles a successful operation
func (c *MinioClient) onSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.state = CircuitBreakerClosed
	c.lastFailure = time.Time{}
}

// onFailure handles a failed operation
func (c *MinioClient) onFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++
	c.lastFailure = time.Now()

	if c.failures >= c.config.MaxFailures || c.state == CircuitBreakerHalfOpen {
		c.state = CircuitBreakerOpen
		logger.Warn("MinIO circuit breaker opened",
			zap.Int("failures", c.failures),
			zap.Error(err))
	} else {
		logger.Warn("MinIO operation failed",
			zap.Int("failures", c.failures),
			zap.Error(err))
	}
}

// UploadFile uploads an object with timeout and circuit breaker handling
func (c *MinioClient) UploadFile(ctx context.Context, bucketName, objectName string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if err := c.allow(); err != nil {
		return minio.UploadInfo{}, err
	}

	uploadCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	info, err := c.client.PutObject(uploadCtx, bucketName, objectName, reader, size, opts)
	if err != nil {
		c.onFailure(err)
		return minio.UploadInfo{}, fmt.Errorf("upload failed: %w", err)
	}

	c.onSuccess()
	return info, nil
}

// GetFile downloads an object with circuit breaker handling
func (c *MinioClient) GetFile(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error) {
	if err := c.allow(); err != nil {
		return nil, err
	}

	obj, err := c.client.GetObject(ctx, bucketName, objectName, opts)
	if err != nil {
		c.onFailure(err)
		return nil, fmt.Errorf("download failed: %w", err)
	}

	c.onSuccess()
	return obj, nil
}

// DeleteFile removes an object with circuit breaker handling
func (c *MinioClient) DeleteFile(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	if err := c.allow(); err != nil {
		return err
	}

	deleteCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if err := c.client.RemoveObject(deleteCtx, bucketName, objectName, opts); err != nil {
		c.onFailure(err)
		return fmt.Errorf("delete failed: %w", err)
	}

	c.onSuccess()
	return nil
}

// PresignedGetURL generates a temporary download URL for an object
func (c *MinioClient) PresignedGetURL(ctx context.Context, bucketName, objectName string, expiry time.Duration) (*url.URL, error) {
	if err := c.allow(); err != nil {
		return nil, err
	}

	u, err := c.client.PresignedGetObject(ctx, bucketName, objectName, expiry, nil)
	if err != nil {
		c.onFailure(err)
		return nil, fmt.Errorf("presign failed: %w", err)
	}

	c.onSuccess()
	return u, nil
}

// GetState returns the current circuit breaker state
func (c *MinioClient) GetState() CircuitBreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ResetCircuitBreaker forces the breaker closed
func (c *MinioClient) ResetCircuitBreaker() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = CircuitBreakerClosed
	c.failures = 0
	c.lastFailure = time.Time{}
}
