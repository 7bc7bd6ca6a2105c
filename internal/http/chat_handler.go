package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-relay/internal/domain"
	"chat-relay/internal/service"
)

// defaultUserID se usa cuando la peticion no identifica al usuario.
const defaultUserID = "1"

// ChatHandler mantiene dependencias para endpoints de chats y mensajes.
type ChatHandler struct {
	logger *zap.Logger
	chats  *service.ChatService
	relay  *service.RelayService
}

// NewChatHandler crea una instancia de ChatHandler con dependencias necesarias.
func NewChatHandler(logger *zap.Logger, chats *service.ChatService, relay *service.RelayService) *ChatHandler {
	return &ChatHandler{logger: logger, chats: chats, relay: relay}
}

func userIDFrom(raw string) string {
	if id := strings.TrimSpace(raw); id != "" {
		return id
	}
	return defaultUserID
}

// ListChats maneja GET /api/chats.
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.chats.ListChats(c.Request.Context(), userIDFrom(c.Query("user_id")))
	if err != nil {
		writeError(c, h.logger, "list chats", err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

// CreateChat maneja POST /api/chats.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req struct {
		Title  string `json:"title"`
		UserID string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid create chat request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat data"})
		return
	}

	chat, err := h.chats.CreateChat(c.Request.Context(), userIDFrom(req.UserID), req.Title)
	if err != nil {
		writeError(c, h.logger, "create chat", err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

// GetChat maneja GET /api/chats/:id.
func (h *ChatHandler) GetChat(c *gin.Context) {
	chat, err := h.chats.GetChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "fetch chat", err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

// ListMessages maneja GET /api/chats/:id/messages.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	msgs, err := h.chats.ListMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "fetch messages", err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// PostMessage maneja POST /api/chats/:id/messages. Con stream=true la
// respuesta es un stream SSE de eventos init, update, done o error.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
		ModelID string `json:"modelId"`
		Stream  bool   `json:"stream"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid post message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message data"})
		return
	}
	turn := domain.TurnRequest{Content: req.Content, ModelID: req.ModelID, Stream: req.Stream}
	chatID := c.Param("id")

	if req.Stream {
		sink := newSSESink(c)
		if err := h.relay.StreamTurn(c.Request.Context(), chatID, turn, sink); err != nil && !c.Writer.Written() {
			writeError(c, h.logger, "create message", err)
		}
		return
	}

	result, err := h.relay.CompleteTurn(c.Request.Context(), chatID, turn)
	if err != nil {
		writeError(c, h.logger, "create message", err)
		return
	}
	c.JSON(http.StatusCreated, result)
}
