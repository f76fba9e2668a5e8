// Prompt HTTP handlers - reusable prompt template CRUD
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quarryhq/quarry/pkg/models"
	"github.com/quarryhq/quarry/pkg/service"
)

// PromptHandler handles prompt-related HTTP requests
type PromptHandler struct {
	promptService *service.PromptService
}

// NewPromptHandler creates a new prompt handler
func NewPromptHandler(promptService *service.PromptService) *PromptHandler {
	return &PromptHandler{
		promptService: promptService,
	}
}

// RegisterRoutes registers prompt routes
func (h *PromptHandler) RegisterRoutes(r *gin.RouterGroup) {
	prompts := r.Group("/prompts")
	{
		prompts.POST("", h.CreatePrompt)
		prompts.GET("", h.ListPrompts)
		prompts.GET("/:id", h.GetPrompt)
		prompts.DELETE("/:id", h.DeletePrompt)
	}
}

// CreatePrompt registers a prompt template
// POST /api/prompts
func (h *PromptHandler) CreatePrompt(c *gin.Context) {
	var req models.CreatePromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prompt, err := h.promptService.CreatePrompt(UserID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, prompt)
}

// ListPrompts lists the caller's prompt templates
// GET /api/prompts
func (h *PromptHandler) ListPrompts(c *gin.Context) {
	prompts, err := h.promptService.ListPrompts(UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, prompts)
}

// GetPrompt gets a prompt template by ID
// GET /api/prompts/:id
func (h *PromptHandler) GetPrompt(c *gin.Context) {
	prompt, err := h.promptService.GetPrompt(UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, prompt)
}

// DeletePrompt deletes a prompt template
// DELETE /api/prompts/:id
func (h *PromptHandler) DeletePrompt(c *gin.Context) {
	if err := h.promptService.DeletePrompt(UserID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
