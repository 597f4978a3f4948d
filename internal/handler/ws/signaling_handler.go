package ws

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatroom-backend/internal/relay"
	"chatroom-backend/pkg/jwt"
	"chatroom-backend/pkg/logger"
	"chatroom-backend/pkg/metrics"
)

// Handler upgrades authenticated HTTP requests to signaling WebSocket
// connections and hands them to the relay hub.
type Handler struct {
	hub        *relay.Hub
	jwtManager *jwt.Manager

	// maxConnections is the maximum number of concurrent WebSocket connections
	maxConnections int
	semaphore      chan struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Reject empty origins - require explicit origin for security
			return false
		}
		for _, allowed := range allowedOrigins() {
			if origin == allowed {
				return true
			}
		}
		return false
	},
}

// allowedOrigins returns the origins permitted to open signaling
// connections, from WS_ALLOWED_ORIGINS (comma-separated).
func allowedOrigins() []string {
	raw := os.Getenv("WS_ALLOWED_ORIGINS")
	if raw == "" {
		return []string{"http://localhost:3000"}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// NewHandler creates a signaling WebSocket handler
func NewHandler(hub *relay.Hub, jwtManager *jwt.Manager) *Handler {
	maxConns := 1000
	if val := os.Getenv("WS_MAX_SIGNALING_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	return &Handler{
		hub:            hub,
		jwtManager:     jwtManager,
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
	}
}

// ServeWS handles WebSocket requests for signaling.
// GET /v1/ws/signaling?token=<jwt>
//
// The connection cap bounds live connections, not handshakes: the
// semaphore slot is held until the client's read pump exits.
func (h *Handler) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("signaling connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}
	release := func() { <-h.semaphore }

	// Browsers cannot set headers on WebSocket requests, so the token
	// may arrive as a query parameter instead.
	token := c.Query("token")
	if token == "" {
		authHeader := c.GetHeader("Authorization")
		if parts := strings.Split(authHeader, " "); len(parts) == 2 && parts[0] == "Bearer" {
			token = parts[1]
		}
	}
	if token == "" {
		release()
		metrics.SignalingConnectionUnauthorizedTotal.Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}

	// Identity failure fails closed: no valid token, no signaling.
	claims, err := h.jwtManager.ValidateToken(token)
	if err != nil {
		release()
		metrics.SignalingConnectionUnauthorizedTotal.Inc()
		logger.Debug("signaling connection refused", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		release()
		logger.Warn("websocket upgrade failed",
			zap.String("user_id", claims.UserID.String()),
			zap.Error(err))
		return
	}

	// The slot is released when the connection's read pump exits.
	h.hub.HandleConnection(conn, claims.UserID, release)
}
