package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"healthnexus-backend/pkg/constants"
)

// ArtifactStore persists screenshot frames and recording blobs for
// consultation sessions in object storage.
type ArtifactStore struct {
	client *MinioClient
	bucket string
}

// NewArtifactStore creates an artifact store over the given client
func NewArtifactStore(client *MinioClient, bucket string) *ArtifactStore {
	if bucket == "" {
		bucket = constants.ArtifactBucket
	}
	return &ArtifactStore{client: client, bucket: bucket}
}

// Init ensures the artifact bucket exists
func (s *ArtifactStore) Init(ctx context.Context) error {
	return s.client.EnsureBucket(ctx, s.bucket)
}

// ScreenshotKey builds the object key for a screenshot frame
func ScreenshotKey(sessionID, screenshotID uuid.UUID) string {
	return fmt.Sprintf("sessions/%s/screenshots/%s.png", sessionID, screenshotID)
}

// RecordingKey builds the object key for a session recording
func RecordingKey(sessionID, recordingID uuid.UUID) string {
	return fmt.Sprintf("sessions/%s/recordings/%s.webm", sessionID, recordingID)
}

// PutScreenshot uploads a captured frame and returns its object key
func (s *ArtifactStore) PutScreenshot(ctx context.Context, sessionID, screenshotID uuid.UUID, frame io.Reader, size int64) (string, error) {
	key := ScreenshotKey(sessionID, screenshotID)
	_, err := s.client.UploadFile(ctx, s.bucket, key, frame, size, minio.PutObjectOptions{
		ContentType: "image/png",
	})
	if err != nil {
		return "", fmt.Errorf("failed to store screenshot: %w", err)
	}
	return key, nil
}

// PutRecording uploads a recording blob and returns its object key
func (s *ArtifactStore) PutRecording(ctx context.Context, sessionID, recordingID uuid.UUID, blob io.Reader, size int64) (string, error) {
	key := RecordingKey(sessionID, recordingID)
	_, err := s.client.UploadFile(ctx, s.bucket, key, blob, size, minio.PutObjectOptions{
		ContentType: "video/webm",
	})
	if err != nil {
		return "", fmt.Errorf("failed to store recording: %w", err)
	}
	return key, nil
}

// ArtifactURL returns a presigned download URL for a stored artifact
func (s *ArtifactStore) ArtifactURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = constants.PresignedURLExpiry
	}
	u, err := s.client.PresignedGetURL(ctx, s.bucket, objectKey, expiry)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Delete removes a stored artifact
func (s *ArtifactStore) Delete(ctx context.Context, objectKey string) error {
	return s.client.DeleteFile(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{})
}
