package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lexchat/internal/auth"
)

type registerRequest struct {
	Name     string `json:"name" binding:"required,max=255"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type updateUserRequest struct {
	Name string `json:"name" binding:"required,max=255"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.content.RegisterUser(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("user registered", "user_id", user.ID)
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) loginUser(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	user, err := h.content.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	token, err := h.auth.IssueToken(ctx, user.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.auth.SetSessionCookies(c, token, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"csrf_token": csrfToken,
		"expires_in": int(h.auth.TokenTTL().Seconds()),
		"user":       user,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if dropped := h.workers.CancelUser(ctx, userID); dropped > 0 {
		h.logger.Info("queued work cancelled on logout", "user_id", userID, "jobs", dropped)
	}
	if token, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.RevokeToken(ctx, token); err != nil {
			h.respondError(c, err)
			return
		}
	}
	h.auth.ClearSessionCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) getMe(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	user, err := h.content.GetUser(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) updateMe(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req updateUserRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.content.UpdateUserName(c.Request.Context(), userID, req.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// deleteMe removes the account. Stored objects go first; rows cascade from the user.
func (h *Handler) deleteMe(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	h.workers.CancelUser(ctx, userID)

	for {
		files, err := h.content.ListFiles(ctx, userID, 100, 0)
		if err != nil {
			h.respondError(c, err)
			return
		}
		if len(files) == 0 {
			break
		}
		for _, f := range files {
			if err := h.uploads.Delete(ctx, userID, f.ID); err != nil {
				h.respondError(c, err)
				return
			}
		}
	}
	if err := h.auth.RevokeUserTokens(ctx, userID); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.content.DeleteUser(ctx, userID); err != nil {
		h.respondError(c, err)
		return
	}
	h.auth.ClearSessionCookies(c)
	h.logger.Info("user deleted", "user_id", userID)
	c.Status(http.StatusNoContent)
}
