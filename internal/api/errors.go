package api

import (
	"errors"
	"net/http"

	"recipestock/internal/inventory"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps domain errors onto status codes. Anything untyped is a 500
// and is logged.
func (h *APIHandler) writeError(c *gin.Context, err error) {
	var (
		validation *inventory.ValidationError
		notFound   *inventory.NotFoundError
		short      *inventory.InsufficientStockError
		conflict   *inventory.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "field": validation.Field})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.As(err, &short):
		c.JSON(http.StatusConflict, gin.H{"error": short.Error(), "shortages": short.Shortages})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error()})
	default:
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *APIHandler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
}
