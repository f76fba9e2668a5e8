// Provider HTTP handlers - provider CRUD, model catalog and presets
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quarryhq/quarry/pkg/models"
	"github.com/quarryhq/quarry/pkg/service"
)

// ProviderHandler handles provider-related HTTP requests
type ProviderHandler struct {
	providerService *service.ProviderService
}

// NewProviderHandler creates a new provider handler
func NewProviderHandler(providerService *service.ProviderService) *ProviderHandler {
	return &ProviderHandler{
		providerService: providerService,
	}
}

// RegisterRoutes registers provider routes
func (h *ProviderHandler) RegisterRoutes(r *gin.RouterGroup) {
	providers := r.Group("/providers")
	{
		providers.POST("", h.CreateProvider)
		providers.GET("", h.ListProviders)
		providers.GET("/:id", h.GetProvider)
		providers.PATCH("/:id", h.UpdateProvider)
		providers.DELETE("/:id", h.DeleteProvider)
		providers.POST("/:id/test", h.TestProvider)
	}

	r.GET("/models", h.ListModels)
	r.GET("/presets", GetPresets)
	r.PUT("/presets", UpdatePresets)
}

// CreateProvider registers a provider, filling catalog defaults from
// the preset for its type
// POST /api/providers
func (h *ProviderHandler) CreateProvider(c *gin.Context) {
	var req models.CreateProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	provider, err := h.providerService.CreateProvider(UserID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, provider)
}

// ListProviders lists the caller's providers
// GET /api/providers
func (h *ProviderHandler) ListProviders(c *gin.Context) {
	providers, err := h.providerService.ListProviders(UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, providers)
}

// GetProvider gets a provider by ID
// GET /api/providers/:id
func (h *ProviderHandler) GetProvider(c *gin.Context) {
	provider, err := h.providerService.GetProvider(UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, provider)
}

// UpdateProvider applies a partial update
// PATCH /api/providers/:id
func (h *ProviderHandler) UpdateProvider(c *gin.Context) {
	var req models.UpdateProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	provider, err := h.providerService.UpdateProvider(UserID(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, provider)
}

// DeleteProvider deletes a provider
// DELETE /api/providers/:id
func (h *ProviderHandler) DeleteProvider(c *gin.Context) {
	if err := h.providerService.DeleteProvider(UserID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// TestProvider runs a round-trip completion through the provider
// POST /api/providers/:id/test
func (h *ProviderHandler) TestProvider(c *gin.Context) {
	var req models.TestProviderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	err := h.providerService.TestProvider(c.Request.Context(), UserID(c), c.Param("id"), req.Model)
	if err != nil {
		if errors.Is(err, service.ErrProviderNotFound) || errors.Is(err, service.ErrModelNotAvailable) {
			respondError(c, err)
			return
		}
		// Provider-side failures are a test outcome, not a server error.
		c.JSON(http.StatusOK, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListModels returns every provider's catalog with availability
// GET /api/models
func (h *ProviderHandler) ListModels(c *gin.Context) {
	catalog, err := h.providerService.ListModels(c.Request.Context(), UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, catalog)
}

// GetPresets returns the provider presets config
// GET /api/presets
func GetPresets(c *gin.Context) {
	config, err := models.LoadPresets()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load presets: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, config)
}

// UpdatePresets overwrites the presets file in the user's home
// directory, which takes precedence over the embedded defaults
// PUT /api/presets
func UpdatePresets(c *gin.Context) {
	var config models.PresetsConfig
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := models.SavePresets(&config); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save presets: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, config)
}
