package handlers

import (
	"net/http"

	"traffic-fine-chatbot/service"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports liveness and readiness
type HealthHandler struct {
	kb *service.KnowledgeBase
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(kb *service.KnowledgeBase) *HealthHandler {
	return &HealthHandler{kb: kb}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Ready handles GET /ready. The server only starts after the knowledge base
// loaded, so a missing one means it was wired incorrectly.
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.kb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"knowledge_base": gin.H{
			"entries":   h.kb.Len(),
			"dimension": h.kb.Dimension(),
		},
	})
}
