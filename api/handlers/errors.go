// Package handlers maps the processor's operations onto the REST surface.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/liliang-cn/ragstore/internal/domain"
)

// respondError translates a pipeline error into a status code. Anything
// unrecognised is a 500: the stores are either broken or were compensated.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrProtectedMetadata),
		errors.Is(err, domain.ErrEmptyExtraction),
		errors.Is(err, domain.ErrFilterParse),
		errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	c.JSON(status, gin.H{"error": err.Error()})
}
