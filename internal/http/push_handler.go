package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chat-relay/internal/domain"
	"chat-relay/internal/newsfeed"
	"chat-relay/internal/push"
)

// PushHandler expone las conexiones permanentes y la entrada de broadcasts.
type PushHandler struct {
	logger     *zap.Logger
	hub        *push.Hub
	dispatcher *push.Dispatcher
	newsfeed   newsfeed.Client
	upgrader   websocket.Upgrader
}

func NewPushHandler(logger *zap.Logger, hub *push.Hub, dispatcher *push.Dispatcher, feed newsfeed.Client) *PushHandler {
	return &PushHandler{
		logger:     logger,
		hub:        hub,
		dispatcher: dispatcher,
		newsfeed:   feed,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// ServeWS maneja GET /ws?userId=.
func (h *PushHandler) ServeWS(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	h.hub.ServeConn(c.Request.Context(), userID, ws)
}

// Broadcast maneja POST /api/push/broadcast.
func (h *PushHandler) Broadcast(c *gin.Context) {
	var req domain.BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid broadcast request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	delivered, err := h.dispatcher.Deliver(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "broadcast", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": domain.StatusSuccess, "deliveredCount": delivered})
}

// NewsStatus maneja GET /api/news-status?user_id=.
func (h *PushHandler) NewsStatus(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	status, err := h.newsfeed.Status(c.Request.Context(), userID)
	if err != nil {
		h.logger.Warn("news status failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "news service unavailable"})
		return
	}
	c.JSON(http.StatusOK, status)
}
