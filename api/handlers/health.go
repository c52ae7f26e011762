package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/liliang-cn/ragstore/internal/processor"
)

type HealthHandler struct {
	processor *processor.Service
}

func NewHealthHandler(p *processor.Service) *HealthHandler {
	return &HealthHandler{processor: p}
}

// Health pings the database and the blob store. Any failing dependency
// turns the response into a 503.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := h.processor.Health(ctx)

	status := http.StatusOK
	overall := "ok"
	for _, result := range checks {
		if result != "ok" {
			status = http.StatusServiceUnavailable
			overall = "degraded"
		}
	}

	c.JSON(status, gin.H{
		"status": overall,
		"checks": checks,
	})
}
