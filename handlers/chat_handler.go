package handlers

import (
	"errors"
	"net/http"

	"traffic-fine-chatbot/models"
	"traffic-fine-chatbot/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// InvalidMessageResponse is shown to the user for an empty message
const InvalidMessageResponse = "Vui lòng nhập câu hỏi hợp lệ."

// ChatHandler handles HTTP requests for the chatbot
type ChatHandler struct {
	chatService *service.ChatService
	retriever   *service.Retriever
	logger      *zap.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService, retriever *service.Retriever, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		chatService: chatService,
		retriever:   retriever,
		logger:      logger,
	}
}

// ChatRequest represents the request body for a chat message
type ChatRequest struct {
	Message string `json:"message"`
}

// Chat handles POST /chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	result, err := h.chatService.Answer(c.Request.Context(), req.Message)
	if err != nil {
		if errors.Is(err, service.ErrEmptyQuestion) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success":  false,
				"response": InvalidMessageResponse,
				"error": gin.H{
					"code":    "INVALID_MESSAGE",
					"message": err.Error(),
				},
			})
			return
		}

		h.logger.Error("chat failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "CHAT_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"response": result.Answer,
		"data": gin.H{
			"request_id":    result.RequestID,
			"sub_questions": result.SubQuestions,
		},
	})
}

// SearchRequest represents the request body for a raw similarity search
type SearchRequest struct {
	Query string `json:"query" binding:"required"`
	TopK  *int   `json:"top_k" binding:"omitempty,min=0,max=50"`
}

// Search handles POST /search
func (h *ChatHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	k := service.DefaultTopK
	if req.TopK != nil {
		k = *req.TopK
	}

	results, err := h.retriever.Retrieve(c.Request.Context(), req.Query, k)
	if err != nil {
		status, code := http.StatusInternalServerError, "SEARCH_FAILED"
		switch {
		case errors.Is(err, service.ErrInvalidTopK):
			status, code = http.StatusBadRequest, "INVALID_TOP_K"
		case errors.Is(err, service.ErrEmbeddingFailed):
			status, code = http.StatusBadGateway, "EMBEDDING_FAILED"
		}
		h.logger.Warn("search failed", zap.Error(err))
		c.JSON(status, gin.H{
			"success": false,
			"error": gin.H{
				"code":    code,
				"message": err.Error(),
			},
		})
		return
	}

	if results == nil {
		results = []models.RetrievalResult{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"results": results,
		},
	})
}
