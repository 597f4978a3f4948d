package push

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatroom-backend/pkg/push"
	"chatroom-backend/pkg/response"
)

// TokenStore persists device push tokens
type TokenStore interface {
	Store(ctx context.Context, token *push.Token) error
	Remove(ctx context.Context, userID uuid.UUID, deviceToken string) error
}

// Handler handles push token HTTP requests
type Handler struct {
	tokens TokenStore
}

// NewHandler creates a new push token handler
func NewHandler(tokens TokenStore) *Handler {
	return &Handler{tokens: tokens}
}

// RegisterTokenRequest represents request to register a push token
type RegisterTokenRequest struct {
	Token string         `json:"token" binding:"required"`
	Type  push.TokenType `json:"type" binding:"required,oneof=fcm apns"`
}

// RegisterToken stores a device token for the authenticated user
// POST /v1/push/tokens
func (h *Handler) RegisterToken(c *gin.Context) {
	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	err := h.tokens.Store(c.Request.Context(), &push.Token{
		UserID: userID,
		Token:  req.Token,
		Type:   req.Type,
	})
	if err != nil {
		response.InternalError(c, "Failed to register push token")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Token registered"})
}

// UnregisterTokenRequest represents request to remove a push token
type UnregisterTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// UnregisterToken removes a device token for the authenticated user
// DELETE /v1/push/tokens
func (h *Handler) UnregisterToken(c *gin.Context) {
	var req UnregisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.tokens.Remove(c.Request.Context(), userID, req.Token); err != nil {
		response.InternalError(c, "Failed to remove push token")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Token removed"})
}

// RegisterRoutes registers push token routes on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	tokens := rg.Group("/push/tokens")
	{
		tokens.POST("", h.RegisterToken)
		tokens.DELETE("", h.UnregisterToken)
	}
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
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
