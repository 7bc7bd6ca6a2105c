package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-relay/internal/domain"
	"chat-relay/internal/llm"
	"chat-relay/internal/service"
)

// writeError traduce errores de servicio a respuestas JSON.
func writeError(c *gin.Context, logger *zap.Logger, op string, err error) {
	switch {
	case errors.Is(err, llm.ErrUnknownModel):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown model"})
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
	default:
		logger.Error(op+" failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not " + op})
	}
}
