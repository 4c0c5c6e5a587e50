package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"lexchat/internal/apperr"
	"lexchat/internal/service/upload"
)

const (
	defaultFilePage  = 50
	maxFilePage      = 100
	defaultUsagePage = 50
	maxUsagePage     = 500
)

// multipartOverhead leaves room for boundaries and part headers around the file.
const multipartOverhead = 1 << 20

func (h *Handler) uploadFile(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	maxBytes := h.uploads.MaxBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(c, fmt.Errorf("%w: file exceeds %d MB", apperr.ErrValidation, maxBytes>>20))
			return
		}
		h.respondError(c, fmt.Errorf("%w: multipart field \"file\" is required", apperr.ErrValidation))
		return
	}
	if fileHeader.Size > maxBytes {
		h.respondError(c, fmt.Errorf("%w: file exceeds %d MB", apperr.ErrValidation, maxBytes>>20))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		h.respondError(c, fmt.Errorf("%w: open upload: %v", apperr.ErrInternal, err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		h.respondError(c, fmt.Errorf("%w: read upload: %v", apperr.ErrInternal, err))
		return
	}

	file, err := h.uploads.Upload(c.Request.Context(), upload.UploadRequest{
		UserID:      userID,
		FileName:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, file)
}

func (h *Handler) listFiles(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	limit, offset, ok := pagination(c, defaultFilePage, maxFilePage)
	if !ok {
		return
	}
	files, err := h.content.ListFiles(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files, "limit": limit, "offset": offset})
}

func (h *Handler) deleteFile(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.uploads.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getUsage(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	limit, offset, ok := pagination(c, defaultUsagePage, maxUsagePage)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	rows, err := h.content.ListUsage(ctx, userID, limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	summary, err := h.content.UsageSummary(ctx, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": rows, "summary": summary})
}

// serveStoredFile serves an object from the local backend. Only the owner may read it.
func (h *Handler) serveStoredFile(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	name := c.Param("name")
	if c.Param("uid") != userID || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.File(filepath.Join(h.filesDir, "users", userID, "files", name))
}
