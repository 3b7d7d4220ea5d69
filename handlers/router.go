package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter wires the middleware chain and every route
func NewRouter(chat *ChatHandler, health *HealthHandler, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(RequestID(), AccessLog(logger), Recovery(logger), CORS())

	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/chat", chat.Chat)
	r.POST("/search", chat.Search)

	return r
}
