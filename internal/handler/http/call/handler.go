package call

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatroom-backend/internal/domain"
	"chatroom-backend/internal/service/call"
	apperrors "chatroom-backend/pkg/errors"
	"chatroom-backend/pkg/pagination"
	"chatroom-backend/pkg/response"
)

// Handler handles call lifecycle HTTP requests
type Handler struct {
	callService *call.Service
}

// NewHandler creates a new call handler
func NewHandler(callService *call.Service) *Handler {
	return &Handler{
		callService: callService,
	}
}

// InitiateCallRequest represents call initiation request
type InitiateCallRequest struct {
	CalleeID  string `json:"callee_id" binding:"required,uuid"`
	MediaKind string `json:"media_kind" binding:"required,oneof=audio video"`
}

// InitiateCall starts a new call
// POST /v1/calls/initiate
func (h *Handler) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	initiatorID, ok := currentUserID(c)
	if !ok {
		return
	}

	calleeID, err := uuid.Parse(req.CalleeID)
	if err != nil {
		response.ValidationError(c, "Invalid callee ID")
		return
	}

	created, err := h.callService.Initiate(c.Request.Context(), &call.InitiateInput{
		InitiatorID: initiatorID,
		CalleeID:    calleeID,
		MediaKind:   domain.MediaKind(req.MediaKind),
	})
	if err != nil {
		h.serviceError(c, err, "Failed to initiate call")
		return
	}

	response.Success(c, http.StatusCreated, created)
}

// AcceptCall marks the authenticated callee as joined
// POST /v1/calls/:id/accept
func (h *Handler) AcceptCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	updated, err := h.callService.Accept(c.Request.Context(), callID, userID)
	if err != nil {
		h.serviceError(c, err, "Failed to accept call")
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// RejectCall declines a ringing call
// POST /v1/calls/:id/reject
func (h *Handler) RejectCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	if err := h.callService.Reject(c.Request.Context(), callID, userID); err != nil {
		h.serviceError(c, err, "Failed to reject call")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Call rejected",
		"call_id": callID,
	})
}

// EndCall records the authenticated participant leaving the call
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	updated, err := h.callService.Leave(c.Request.Context(), callID, userID)
	if err != nil {
		h.serviceError(c, err, "Failed to end call")
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// GetCall retrieves a single call record
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	found, err := h.callService.Get(c.Request.Context(), callID, userID)
	if err != nil {
		h.serviceError(c, err, "Failed to get call")
		return
	}

	response.Success(c, http.StatusOK, found)
}

// GetHistory lists the user's finished calls, newest first
// GET /v1/calls/history?page=&limit=
func (h *Handler) GetHistory(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	params, err := pagination.Parse(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	page, err := h.callService.History(c.Request.Context(), userID, params)
	if err != nil {
		h.serviceError(c, err, "Failed to get call history")
		return
	}

	response.Success(c, http.StatusOK, page)
}

// RegisterRoutes registers call routes on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	calls := rg.Group("/calls")
	{
		calls.POST("/initiate", h.InitiateCall)
		calls.GET("/history", h.GetHistory)
		calls.GET("/:id", h.GetCall)
		calls.POST("/:id/accept", h.AcceptCall)
		calls.POST("/:id/reject", h.RejectCall)
		calls.POST("/:id/end", h.EndCall)
	}
}

func (h *Handler) serviceError(c *gin.Context, err error, fallback string) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		response.FromAppError(c, appErr)
		return
	}
	response.InternalError(c, fallback)
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

func callAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, uuid.Nil, false
	}

	userID, ok := currentUserID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}

	return callID, userID, true
}
