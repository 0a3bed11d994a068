// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Consultation session constants
const (
	// CallDurationTickInterval is how often a session's elapsed duration is recomputed
	CallDurationTickInterval = 1 * time.Second

	// MaxMedicalNoteLength caps the free-text content of one medical note
	MaxMedicalNoteLength = 8192

	// MaxCallMessageLength caps one in-call chat message body
	MaxCallMessageLength = 4096
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute

	// RefreshTokenExpiry is the default refresh token lifetime
	RefreshTokenExpiry = 24 * time.Hour
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Storage constants
const (
	// PresignedURLExpiry is the validity period for presigned artifact URLs
	PresignedURLExpiry = 15 * time.Minute

	// ArtifactBucket is the object storage bucket for screenshots and recordings
	ArtifactBucket = "consult-artifacts"
)

// Push notification constants
const (
	// PushTokenExpiry is how long a registered device token is retained without refresh
	PushTokenExpiry = 30 * 24 * time.Hour
)

// Audit constants
const (
	// AuditLogRetention is how long audit events are kept
	AuditLogRetention = 90 * 24 * time.Hour
)
