package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"lexchat/internal/service/conversation"
)

const wsWriteTimeout = 10 * time.Second

type sendMessageRequest struct {
	Content  string `json:"content" binding:"required,max=100000"`
	FileName string `json:"file_name" binding:"max=255"`
	FileURL  string `json:"file_url" binding:"omitempty,max=2048"`
}

func (r sendMessageRequest) toSend(userID, chatID string) conversation.SendRequest {
	return conversation.SendRequest{
		UserID:   userID,
		ChatID:   chatID,
		Content:  r.Content,
		FileName: r.FileName,
		FileURL:  r.FileURL,
	}
}

// sendMessage answers once the assistant reply is stored.
func (h *Handler) sendMessage(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	if !h.limiter.Allow(userID) {
		h.respondError(c, errRateLimited)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.streamTimeout)
	defer cancel()

	var result *conversation.SendResult
	err := h.workers.Do(ctx, userID, func(jobCtx context.Context) error {
		var err error
		result, err = h.conversations.Send(jobCtx, req.toSend(userID, c.Param("id")))
		return err
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// streamMessage runs the exchange as server-sent events.
func (h *Handler) streamMessage(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	if !h.limiter.Allow(userID) {
		h.respondError(c, errRateLimited)
		return
	}
	sse, err := newSSEWriter(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.streamTimeout)
	defer cancel()

	err = h.workers.Do(ctx, userID, func(jobCtx context.Context) error {
		return h.conversations.Stream(jobCtx, req.toSend(userID, c.Param("id")), sse.Emit)
	})
	if err == nil {
		return
	}
	if !sse.Started() {
		h.respondError(c, err)
		return
	}
	// the error event, if any, already went out with the stream
	h.logger.Debug("stream ended early", "user_id", userID, "chat_id", c.Param("id"), "error", err)
}

// websocketMessages carries any number of exchanges over one connection.
// Each client frame is a send request; events come back in stream order.
func (h *Handler) websocketMessages(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	chatID := c.Param("id")
	// check ownership before upgrading so a bad chat id gets a plain 404
	if _, err := h.content.GetChat(c.Request.Context(), userID, chatID); err != nil {
		h.respondError(c, err)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 16 * 1024,
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	defer ws.Close()
	h.logger.Info("websocket connected", "user_id", userID, "chat_id", chatID)

	emit := func(event conversation.Event) error {
		_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return ws.WriteJSON(event)
	}
	fail := func(err error) error {
		_, msg := statusFor(err)
		return emit(conversation.Event{Type: conversation.EventError, Error: msg})
	}

	for {
		var req sendMessageRequest
		if err := ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read failed", "user_id", userID, "error", err)
			}
			h.logger.Info("websocket disconnected", "user_id", userID, "chat_id", chatID)
			return
		}
		if err := validate.Struct(req); err != nil {
			if emit(conversation.Event{Type: conversation.EventError, Error: validationError(err)}) != nil {
				return
			}
			continue
		}
		if !h.limiter.Allow(userID) {
			if fail(errRateLimited) != nil {
				return
			}
			continue
		}

		started := false
		tracked := func(event conversation.Event) error {
			started = true
			return emit(event)
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.streamTimeout)
		err := h.workers.Do(ctx, userID, func(jobCtx context.Context) error {
			return h.conversations.Stream(jobCtx, req.toSend(userID, chatID), tracked)
		})
		cancel()
		if err != nil && !started {
			if fail(err) != nil {
				return
			}
		}
	}
}
