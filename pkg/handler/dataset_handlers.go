// Dataset HTTP handlers - dataset CRUD and document ingestion
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quarryhq/quarry/pkg/models"
	"github.com/quarryhq/quarry/pkg/service"
)

// DatasetHandler handles dataset-related HTTP requests
type DatasetHandler struct {
	datasetService *service.DatasetService
}

// NewDatasetHandler creates a new dataset handler
func NewDatasetHandler(datasetService *service.DatasetService) *DatasetHandler {
	return &DatasetHandler{
		datasetService: datasetService,
	}
}

// RegisterRoutes registers dataset routes
func (h *DatasetHandler) RegisterRoutes(r *gin.RouterGroup) {
	datasets := r.Group("/datasets")
	{
		datasets.POST("", h.CreateDataset)
		datasets.GET("", h.ListDatasets)
		datasets.GET("/:id", h.GetDataset)
		datasets.PATCH("/:id", h.UpdateDataset)
		datasets.DELETE("/:id", h.DeleteDataset)

		// Documents
		datasets.POST("/:id/documents", h.AddDocument)
		datasets.GET("/:id/documents", h.ListDocuments)
		datasets.GET("/:id/documents/:docId", h.GetDocument)
		datasets.DELETE("/:id/documents/:docId", h.DeleteDocument)
		datasets.GET("/:id/documents/:docId/segments", h.ListSegments)
	}
}

// CreateDataset creates a new dataset
// POST /api/datasets
func (h *DatasetHandler) CreateDataset(c *gin.Context) {
	var req models.CreateDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dataset, err := h.datasetService.CreateDataset(UserID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dataset)
}

// ListDatasets lists the caller's datasets
// GET /api/datasets
func (h *DatasetHandler) ListDatasets(c *gin.Context) {
	datasets, err := h.datasetService.ListDatasets(UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, datasets)
}

// GetDataset gets a dataset by ID
// GET /api/datasets/:id
func (h *DatasetHandler) GetDataset(c *gin.Context) {
	dataset, err := h.datasetService.GetDataset(UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dataset)
}

// UpdateDataset applies a partial update
// PATCH /api/datasets/:id
func (h *DatasetHandler) UpdateDataset(c *gin.Context) {
	var req models.UpdateDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dataset, err := h.datasetService.UpdateDataset(UserID(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dataset)
}

// DeleteDataset deletes a dataset with its documents and conversations
// DELETE /api/datasets/:id
func (h *DatasetHandler) DeleteDataset(c *gin.Context) {
	if err := h.datasetService.DeleteDataset(UserID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// AddDocument ingests a document into a dataset
// POST /api/datasets/:id/documents
func (h *DatasetHandler) AddDocument(c *gin.Context) {
	var req models.CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := h.datasetService.AddDocument(c.Request.Context(), UserID(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, doc)
}

// ListDocuments lists a dataset's documents
// GET /api/datasets/:id/documents
func (h *DatasetHandler) ListDocuments(c *gin.Context) {
	docs, err := h.datasetService.ListDocuments(UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, docs)
}

// GetDocument gets a document by ID
// GET /api/datasets/:id/documents/:docId
func (h *DatasetHandler) GetDocument(c *gin.Context) {
	doc, err := h.datasetService.GetDocument(UserID(c), c.Param("id"), c.Param("docId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

// DeleteDocument deletes a document and its segments
// DELETE /api/datasets/:id/documents/:docId
func (h *DatasetHandler) DeleteDocument(c *gin.Context) {
	if err := h.datasetService.DeleteDocument(UserID(c), c.Param("id"), c.Param("docId")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ListSegments lists a document's segments in position order
// GET /api/datasets/:id/documents/:docId/segments
func (h *DatasetHandler) ListSegments(c *gin.Context) {
	segments, err := h.datasetService.ListSegments(UserID(c), c.Param("id"), c.Param("docId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, segments)
}
