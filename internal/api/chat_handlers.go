package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	defaultChatPage    = 50
	defaultMessagePage = 100
	maxMessagePage     = 500
)

type createChatRequest struct {
	Title string `json:"title" binding:"max=500"`
}

type renameChatRequest struct {
	Title string `json:"title" binding:"required,max=500"`
}

func (h *Handler) listChats(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	limit, offset, ok := pagination(c, defaultChatPage, defaultChatPage)
	if !ok {
		return
	}
	chats, err := h.content.ListChats(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats, "limit": limit, "offset": offset})
}

func (h *Handler) createChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req createChatRequest
	// an empty body creates a chat with the default title
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	chat, err := h.content.CreateChat(c.Request.Context(), userID, req.Title)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func (h *Handler) getChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	chat, err := h.content.GetChat(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *Handler) renameChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req renameChatRequest
	if !bindJSON(c, &req) {
		return
	}
	chat, err := h.content.RenameChat(c.Request.Context(), userID, c.Param("id"), req.Title)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *Handler) deleteChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.content.DeleteChat(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listMessages(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	limit, offset, ok := pagination(c, defaultMessagePage, maxMessagePage)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	chat, err := h.content.GetChat(ctx, userID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	messages, err := h.content.ListMessages(ctx, chat.ID, limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "limit": limit, "offset": offset})
}
