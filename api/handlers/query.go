package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/liliang-cn/ragstore/internal/domain"
	"github.com/liliang-cn/ragstore/internal/processor"
)

type QueryHandler struct {
	processor *processor.Service
}

func NewQueryHandler(p *processor.Service) *QueryHandler {
	return &QueryHandler{processor: p}
}

// Query runs the retrieval pipeline over the stored corpus.
func (h *QueryHandler) Query(c *gin.Context) {
	var req domain.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	response, err := h.processor.Query(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

type embedRequest struct {
	Text string `json:"text" binding:"required"`
}

// Embed returns the raw embedding vector for a piece of text.
func (h *QueryHandler) Embed(c *gin.Context) {
	var req embedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	vector, err := h.processor.Embed(c.Request.Context(), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"embedding": vector,
		"dimension": len(vector),
	})
}
