package push

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthnexus-backend/pkg/audit"
	"healthnexus-backend/pkg/logger"
	"healthnexus-backend/pkg/push"
	"healthnexus-backend/pkg/response"
)

// Handler handles push notification token HTTP requests
type Handler struct {
	pushService *push.Service
	audit       *audit.Logger
}

// NewHandler creates a new push token handler
func NewHandler(pushService *push.Service, auditLogger *audit.Logger) *Handler {
	return &Handler{
		pushService: pushService,
		audit:       auditLogger,
	}
}

// auditEvent records an audit entry without affecting the request outcome
func (h *Handler) auditEvent(c *gin.Context, eventType audit.EventType, userID uuid.UUID) {
	if h.audit == nil {
		return
	}
	err := h.audit.Log(c.Request.Context(), &audit.Event{
		UserID:    userID,
		EventType: eventType,
		IPAddress: c.ClientIP(),
		Success:   true,
	})
	if err != nil {
		logger.Warn("Failed to write audit event",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

// RegisterTokenRequest represents request to register a push token
type RegisterTokenRequest struct {
	Token    string         `json:"token" binding:"required"`
	Type     push.TokenType `json:"type" binding:"required,oneof=fcm apns web"`
	DeviceID string         `json:"device_id"`
	Platform string         `json:"platform" binding:"omitempty,oneof=ios android web"`
}

// RegisterToken registers a push token for the authenticated user
// POST /v1/push/tokens
func (h *Handler) RegisterToken(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	token := &push.Token{
		UserID:    userID,
		Token:     req.Token,
		Type:      req.Type,
		DeviceID:  req.DeviceID,
		Platform:  req.Platform,
		Active:    true,
		CreatedAt: time.Now().Unix(),
		UpdatedAt: time.Now().Unix(),
	}

	if err := h.pushService.RegisterToken(c.Request.Context(), token); err != nil {
		logger.Error("Failed to register push token",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		response.InternalError(c, "Failed to register token")
		return
	}

	h.auditEvent(c, audit.EventPushTokenRegister, userID)
	response.Success(c, http.StatusOK, gin.H{
		"message":  "Token registered",
		"token_id": token.ID,
	})
}

// UnregisterTokenRequest represents request to unregister a push token
type UnregisterTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// UnregisterToken removes one push token
// DELETE /v1/push/tokens
func (h *Handler) UnregisterToken(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req UnregisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.pushService.UnregisterToken(c.Request.Context(), req.Token); err != nil {
		logger.Error("Failed to unregister push token",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		response.InternalError(c, "Failed to unregister token")
		return
	}

	h.auditEvent(c, audit.EventPushTokenUnregister, userID)
	response.Success(c, http.StatusOK, gin.H{"message": "Token unregistered"})
}

// UnregisterAllTokens removes every push token of the authenticated user
// DELETE /v1/push/tokens/all
func (h *Handler) UnregisterAllTokens(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.pushService.UnregisterAllTokens(c.Request.Context(), userID); err != nil {
		logger.Error("Failed to unregister all push tokens",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		response.InternalError(c, "Failed to unregister tokens")
		return
	}

	h.auditEvent(c, audit.EventPushTokenUnregister, userID)
	response.Success(c, http.StatusOK, gin.H{"message": "All tokens unregistered"})
}
