package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"lexchat/internal/service/conversation"
)

var errStreamingUnsupported = errors.New("streaming not supported")

// sseWriter frames conversation events as server-sent events. Headers go out
// with the first event so a request rejected before that can still be
// answered with a plain JSON error.
type sseWriter struct {
	c       *gin.Context
	flusher http.Flusher
	started bool
}

func newSSEWriter(c *gin.Context) (*sseWriter, error) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}
	return &sseWriter{c: c, flusher: flusher}, nil
}

func (w *sseWriter) Started() bool {
	return w.started
}

func (w *sseWriter) Emit(event conversation.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if !w.started {
		header := w.c.Writer.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		header.Set("X-Accel-Buffering", "no")
		w.c.Status(http.StatusOK)
		w.started = true
	}
	if _, err := fmt.Fprintf(w.c.Writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}
