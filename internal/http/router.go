package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	systemH *SystemHandler,
	chatH *ChatHandler,
	pushH *PushHandler,
) *gin.Engine {
	r := gin.New()
	r.Use(zapLoggerMiddleware(logger), gin.Recovery())

	// El websocket negocia su propia respuesta.
	r.GET("/ws", pushH.ServeWS)

	api := r.Group("/api", jsonContentTypeMiddleware())
	api.GET("/health", systemH.Health)
	api.GET("/models", systemH.ListModels)

	api.GET("/chats", chatH.ListChats)
	api.POST("/chats", chatH.CreateChat)
	api.GET("/chats/:id", chatH.GetChat)
	api.GET("/chats/:id/messages", chatH.ListMessages)
	api.POST("/chats/:id/messages", chatH.PostMessage)

	api.POST("/push/broadcast", pushH.Broadcast)
	api.GET("/news-status", pushH.NewsStatus)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json; el stream
// SSE lo reemplaza antes de escribir el primer evento.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
