package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/liliang-cn/ragstore/api/middleware"
	"github.com/liliang-cn/ragstore/internal/processor"
	"github.com/liliang-cn/ragstore/internal/validate"
)

type DocumentsHandler struct {
	processor *processor.Service
}

func NewDocumentsHandler(p *processor.Service) *DocumentsHandler {
	return &DocumentsHandler{processor: p}
}

// Upload ingests one multipart file. The optional "metadata" form field
// carries a JSON object of user metadata.
func (h *DocumentsHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}
	if fileHeader.Size > validate.MaxFileSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("file exceeds maximum size of %d bytes", validate.MaxFileSize),
		})
		return
	}

	data, err := readMultipartFile(fileHeader)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read uploaded file: " + err.Error()})
		return
	}

	var userMetadata map[string]interface{}
	if raw := c.PostForm("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &userMetadata); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "metadata must be a JSON object: " + err.Error()})
			return
		}
	}

	result, err := h.processor.Upload(c.Request.Context(), processor.UploadInput{
		Filename:     fileHeader.Filename,
		Data:         data,
		UploadedBy:   middleware.User(c),
		UserMetadata: userMetadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *DocumentsHandler) List(c *gin.Context) {
	documents, err := h.processor.ListDocuments(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"documents": documents,
		"count":     len(documents),
	})
}

func (h *DocumentsHandler) Get(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}

	doc, err := h.processor.GetDocument(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *DocumentsHandler) GetByHash(c *gin.Context) {
	hash := c.Param("hash")
	doc, err := h.processor.GetByHash(c.Request.Context(), hash)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Download streams the original bytes, or the extracted text with
// ?format=extracted.
func (h *DocumentsHandler) Download(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}

	result, err := h.processor.Download(c.Request.Context(), id, c.Query("format"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.MimeType, result.Data)
}

func (h *DocumentsHandler) Chunks(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}

	chunks, err := h.processor.Chunks(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"document_id": id,
		"chunks":      chunks,
		"count":       len(chunks),
	})
}

// Context returns the continuous text around one chunk. ?before and
// ?after control how many neighbouring chunks to include (default 1 each).
// The path segment accepts a row id or a document UUID.
func (h *DocumentsHandler) Context(c *gin.Context) {
	chunkIndex, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chunk index must be an integer"})
		return
	}

	before, ok := queryInt(c, "before", 1)
	if !ok {
		return
	}
	after, ok := queryInt(c, "after", 1)
	if !ok {
		return
	}

	window, err := h.processor.Context(c.Request.Context(), c.Param("id"), chunkIndex, before, after)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, window)
}

func queryInt(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an integer"})
		return 0, false
	}
	return value, true
}

func (h *DocumentsHandler) Delete(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}

	deleted, err := h.processor.DeleteByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "document deleted",
		"deleted": deleted,
	})
}

func (h *DocumentsHandler) DeleteByHash(c *gin.Context) {
	hash := c.Param("hash")
	deleted, err := h.processor.DeleteByHash(c.Request.Context(), hash)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "document deleted",
		"deleted": deleted,
	})
}

func documentID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document id must be an integer"})
		return 0, false
	}
	return id, true
}

func readMultipartFile(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}
