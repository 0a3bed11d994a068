package push

import (
	"context"
	"fmt"

	"healthnexus-backend/pkg/logger"
	"healthnexus-backend/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Provider defines interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal, low
	Sound    string            `json:"sound,omitempty"`
	Badge    *int              `json:"badge,omitempty"`
	Category string            `json:"category,omitempty"`
}

// CallInvitationData contains data for a consultation call invitation
type CallInvitationData struct {
	SessionID     uuid.UUID `json:"session_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	DoctorName    string    `json:"doctor_name"`
	Timestamp     int64     `json:"timestamp"`
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"  // Firebase Cloud Messaging
	TokenTypeAPNs TokenType = "apns" // Apple Push Notification Service
	TokenTypeWeb  TokenType = "web"  // Web Push
)

// Token represents a push notification token for a user
type Token struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	Platform  string    `json:"platform,omitempty"` // ios, android, web
	Active    bool      `json:"active"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository defines interface for storing and retrieving push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	GetByToken(ctx context.Context, token string) (*Token, error)
	Update(ctx context.Context, token *Token) error
	Delete(ctx context.Context, token string) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
	MarkInactive(ctx context.Context, token string) error
}

// Service handles push notification operations
type Service struct {
	provider Provider
	repo     TokenRepository
	metrics  *metrics.Metrics
}

// NewService creates a new push notification service. The metrics argument
// may be nil.
func NewService(provider Provider, repo TokenRepository, m *metrics.Metrics) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
		metrics:  m,
	}
}

func (s *Service) recordSend(notifType string, result *SendResult, err error) {
	if s.metrics == nil {
		return
	}
	if err != nil {
		s.metrics.RecordPushNotificationFailure(notifType, "all")
		return
	}
	if result.SuccessCount > 0 {
		s.metrics.RecordPushNotification(notifType, "all")
	}
	if result.FailureCount > 0 {
		s.metrics.RecordPushNotificationFailure(notifType, "all")
	}
}

// RegisterToken registers a new push notification token for a user
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	existing, err := s.repo.GetByToken(ctx, token.Token)
	if err == nil && existing != nil {
		existing.Active = true
		existing.UpdatedAt = token.UpdatedAt
		existing.DeviceID = token.DeviceID
		existing.Platform = token.Platform
		return s.repo.Update(ctx, existing)
	}

	return s.repo.Store(ctx, token)
}

// UnregisterToken removes a push notification token
func (s *Service) UnregisterToken(ctx context.Context, token string) error {
	return s.repo.Delete(ctx, token)
}

// UnregisterAllTokens removes all tokens for a user
func (s *Service) UnregisterAllTokens(ctx context.Context, userID uuid.UUID) error {
	return s.repo.DeleteByUserID(ctx, userID)
}

// SendCallInvitation notifies the patient that their doctor has started the
// consultation. Having no registered tokens is not an error.
func (s *Service) SendCallInvitation(ctx context.Context, data *CallInvitationData, patientID uuid.UUID) error {
	notification := &Notification{
		Title:    "Your consultation is starting",
		Body:     fmt.Sprintf("Dr. %s is ready to see you", data.DoctorName),
		Priority: "high",
		Sound:    "default",
		Category: "CONSULT_INVITE",
		Data: map[string]string{
			"type":           "call_invitation",
			"session_id":     data.SessionID.String(),
			"appointment_id": data.AppointmentID.String(),
			"doctor_id":      data.DoctorID.String(),
			"doctor_name":    data.DoctorName,
			"timestamp":      fmt.Sprintf("%d", data.Timestamp),
		},
	}

	tokens := s.activeTokens(ctx, patientID)
	if len(tokens) == 0 {
		logger.Info("No active push tokens for patient",
			zap.String("patient_id", patientID.String()),
			zap.String("session_id", data.SessionID.String()))
		return nil
	}

	result, err := s.provider.Send(ctx, notification, tokens)
	s.recordSend("call_invitation", result, err)
	if err != nil {
		logger.Error("Failed to send call invitation",
			zap.String("session_id", data.SessionID.String()),
			zap.Int("token_count", len(tokens)),
			zap.Error(err))
		return fmt.Errorf("failed to send call invitation: %w", err)
	}

	logger.Info("Call invitation sent",
		zap.String("session_id", data.SessionID.String()),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount),
		zap.Int("invalid_tokens", len(result.InvalidTokens)))

	if len(result.InvalidTokens) > 0 {
		s.handleInvalidTokens(ctx, result.InvalidTokens)
	}

	return nil
}

// SendCallEndedNotification notifies a participant that the consultation ended
func (s *Service) SendCallEndedNotification(ctx context.Context, sessionID uuid.UUID, duration int64, userIDs []uuid.UUID) error {
	notification := &Notification{
		Title:    "Consultation ended",
		Body:     fmt.Sprintf("Your consultation lasted %s", formatDuration(duration)),
		Priority: "normal",
		Sound:    "default",
		Data: map[string]string{
			"type":       "call_ended",
			"session_id": sessionID.String(),
			"duration":   fmt.Sprintf("%d", duration),
		},
	}

	var allTokens []string
	for _, userID := range userIDs {
		allTokens = append(allTokens, s.activeTokens(ctx, userID)...)
	}

	if len(allTokens) == 0 {
		return nil
	}

	result, err := s.provider.Send(ctx, notification, allTokens)
	s.recordSend("call_ended", result, err)
	if err != nil {
		logger.Error("Failed to send call ended notification",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		return err
	}

	logger.Info("Call ended notification sent",
		zap.String("session_id", sessionID.String()),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount))

	if len(result.InvalidTokens) > 0 {
		s.handleInvalidTokens(ctx, result.InvalidTokens)
	}

	return nil
}

// activeTokens collects a user's active token values. Lookup failures are
// logged and treated as no tokens.
func (s *Service) activeTokens(ctx context.Context, userID uuid.UUID) []string {
	tokens, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		logger.Warn("Failed to get push tokens for user",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return nil
	}

	var result []string
	for _, token := range tokens {
		if token.Active {
			result = append(result, token.Token)
		}
	}
	return result
}

// handleInvalidTokens marks invalid tokens as inactive
func (s *Service) handleInvalidTokens(ctx context.Context, invalidTokens []string) {
	for _, tokenStr := range invalidTokens {
		if err := s.repo.MarkInactive(ctx, tokenStr); err != nil {
			logger.Warn("Failed to mark token as inactive",
				zap.String("token_prefix", maskPushToken(tokenStr)),
				zap.Error(err))
		}
	}
}

// formatDuration formats duration in seconds to human-readable format
func formatDuration(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	minutes = minutes % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// MockProvider is a mock implementation for development/testing
type MockProvider struct {
	NotificationsSent int
}

// Send implements Provider interface
func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.NotificationsSent++

	logger.Debug("MockProvider: Sending notification",
		zap.String("title", notification.Title),
		zap.String("body", notification.Body),
		zap.Int("token_count", len(tokens)))

	return &SendResult{
		SuccessCount: len(tokens),
	}, nil
}
