// Shared handler helpers - caller identity and error mapping
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quarryhq/quarry/pkg/service"
)

// headerUserID carries the caller identity. Authentication is out of
// scope; every store is scoped by this value.
const headerUserID = "X-User-ID"

const defaultUserID = "default"

// UserID returns the caller identity for the request.
func UserID(c *gin.Context) string {
	if id := c.GetHeader(headerUserID); id != "" {
		return id
	}
	return defaultUserID
}

// respondError maps service errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrDatasetNotFound),
		errors.Is(err, service.ErrDocumentNotFound),
		errors.Is(err, service.ErrConversationNotFound),
		errors.Is(err, service.ErrPromptNotFound),
		errors.Is(err, service.ErrProviderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, service.ErrNoProvider),
		errors.Is(err, service.ErrEmptyDocument),
		errors.Is(err, service.ErrModelNotAvailable):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
