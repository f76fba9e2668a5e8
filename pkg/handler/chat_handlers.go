// Chat HTTP handlers - question answering and conversation management
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quarryhq/quarry/pkg/models"
	"github.com/quarryhq/quarry/pkg/service"
)

// Bounds applied to request-level overrides before resolution.
const (
	minTemperature = 0.0
	maxTemperature = 1.0
	minMaxChunks   = 1
	maxMaxChunks   = 20
)

// ChatHandler handles chat-related HTTP requests
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
	}
}

// RegisterRoutes registers chat routes
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/chat", h.Chat)
	r.POST("/chat/stream", h.ChatStream)

	// Conversation management
	conversations := r.Group("/conversations")
	{
		conversations.POST("", h.CreateConversation)
		conversations.GET("", h.ListConversations)
		conversations.GET("/:id", h.GetConversation)
		conversations.GET("/:id/messages", h.GetMessages)
		conversations.DELETE("/:id", h.DeleteConversation)
	}
}

// Chat answers a question against a dataset
// POST /api/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	clampChatRequest(&req)

	response, err := h.chatService.SendMessage(c.Request.Context(), UserID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// ChatStream answers a question, emitting deltas over SSE
// POST /api/chat/stream
func (h *ChatHandler) ChatStream(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	clampChatRequest(&req)

	events, err := h.chatService.StreamMessage(c.Request.Context(), UserID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // Disable nginx buffering

	w := c.Writer
	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}

		fmt.Fprintf(w, "data: %s\n\n", data)
		w.Flush()
	}

	// Send done event
	fmt.Fprintf(w, "data: [DONE]\n\n")
	w.Flush()
}

// CreateConversation starts an empty conversation over a dataset
// POST /api/conversations
func (h *ChatHandler) CreateConversation(c *gin.Context) {
	var req models.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.chatService.CreateConversation(UserID(c), req.DatasetID, req.Title, req.DocumentIDs, req.SegmentIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, conv)
}

// ListConversations lists conversations
// GET /api/conversations?dataset_id=xxx
func (h *ChatHandler) ListConversations(c *gin.Context) {
	conversations, err := h.chatService.GetConversations(UserID(c), c.Query("dataset_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, conversations)
}

// GetConversation gets a conversation by ID
// GET /api/conversations/:id
func (h *ChatHandler) GetConversation(c *gin.Context) {
	conv, err := h.chatService.GetConversation(UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

// GetMessages lists a conversation's messages in order
// GET /api/conversations/:id/messages
func (h *ChatHandler) GetMessages(c *gin.Context) {
	conv, err := h.chatService.GetConversation(UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	messages, err := h.chatService.GetMessages(conv.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, messages)
}

// DeleteConversation deletes a conversation and its messages
// DELETE /api/conversations/:id
func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	if err := h.chatService.DeleteConversation(UserID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// clampChatRequest bounds user-supplied overrides. Out-of-range values
// are clamped rather than rejected.
func clampChatRequest(req *models.ChatRequest) {
	if req.Temperature != nil {
		if *req.Temperature < minTemperature {
			*req.Temperature = minTemperature
		}
		if *req.Temperature > maxTemperature {
			*req.Temperature = maxTemperature
		}
	}
	if req.MaxChunks != nil {
		if *req.MaxChunks < minMaxChunks {
			*req.MaxChunks = minMaxChunks
		}
		if *req.MaxChunks > maxMaxChunks {
			*req.MaxChunks = maxMaxChunks
		}
	}
}
