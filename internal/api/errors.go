package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"lexchat/internal/apperr"
	"lexchat/internal/worker"
)

var errRateLimited = errors.New("too many requests, slow down")

// statusFor maps an error to its status code and the message safe to show.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests, "server is busy, please retry"
	case errors.Is(err, worker.ErrJobCancelled):
		return http.StatusConflict, "request cancelled"
	case errors.Is(err, worker.ErrDispatcherClosed):
		return http.StatusServiceUnavailable, "server is shutting down"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	}
	switch apperr.Kind(err) {
	case apperr.ErrNotFound:
		return http.StatusNotFound, err.Error()
	case apperr.ErrValidation:
		return http.StatusBadRequest, strings.TrimPrefix(err.Error(), apperr.ErrValidation.Error()+": ")
	case apperr.ErrConflict:
		return http.StatusConflict, err.Error()
	case apperr.ErrUnauthorized:
		return http.StatusUnauthorized, "invalid credentials"
	case apperr.ErrGeneration:
		return http.StatusBadGateway, "failed to generate a response"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// respondError writes err as JSON. Server-side causes are logged, never returned.
func (h *Handler) respondError(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) && c.Request.Context().Err() != nil {
		// client went away
		c.Status(499)
		return
	}
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, gin.H{"error": msg})
}
