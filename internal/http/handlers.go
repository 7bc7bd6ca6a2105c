package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-relay/internal/llm"
)

// SystemHandler atiende salud del proceso y el catalogo de modelos.
type SystemHandler struct {
	catalog *llm.Catalog
}

func NewSystemHandler(catalog *llm.Catalog) *SystemHandler {
	return &SystemHandler{catalog: catalog}
}

// Health maneja GET /api/health.
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListModels maneja GET /api/models.
func (h *SystemHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"default": h.catalog.DefaultID(),
		"models":  h.catalog.Models(),
	})
}
