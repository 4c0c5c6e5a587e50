package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"lexchat/internal/auth"
	"lexchat/internal/metrics"
	"lexchat/internal/service/content"
	"lexchat/internal/service/conversation"
	"lexchat/internal/service/upload"
)

// Workers runs per-user jobs; *worker.Dispatcher satisfies it.
type Workers interface {
	Do(ctx context.Context, userID string, fn func(context.Context) error) error
	CancelUser(ctx context.Context, userID string) int
	Stats() (running, idle, pending int)
}

type Options struct {
	// SendRate and SendBurst bound message sends per user.
	SendRate      rate.Limit
	SendBurst     int
	StreamTimeout time.Duration
	// LocalFilesDir, when set, serves stored uploads under FilesBaseURL to their owners.
	LocalFilesDir string
	FilesBaseURL  string
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Handler wires HTTP routes to the services.
type Handler struct {
	content       *content.Service
	auth          *auth.Service
	conversations *conversation.Service
	uploads       *upload.Service
	workers       Workers
	limiter       *userLimiter
	streamTimeout time.Duration
	filesDir      string
	filesBaseURL  string
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// NewHandler constructs a Handler instance.
func NewHandler(contentSvc *content.Service, authSvc *auth.Service, conversations *conversation.Service,
	uploads *upload.Service, workers Workers, opts Options) *Handler {
	if opts.SendRate <= 0 {
		opts.SendRate = rate.Every(time.Second)
	}
	if opts.SendBurst <= 0 {
		opts.SendBurst = 5
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = 5 * time.Minute
	}
	if opts.FilesBaseURL == "" {
		opts.FilesBaseURL = "/files"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		content:       contentSvc,
		auth:          authSvc,
		conversations: conversations,
		uploads:       uploads,
		workers:       workers,
		limiter:       newUserLimiter(opts.SendRate, opts.SendBurst),
		streamTimeout: opts.StreamTimeout,
		filesDir:      opts.LocalFilesDir,
		filesBaseURL:  strings.TrimRight(opts.FilesBaseURL, "/"),
		logger:        opts.Logger,
		metrics:       opts.Metrics,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(gin.Recovery(), h.requestLogger())
	router.GET("/health", h.health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	if h.filesDir != "" {
		router.GET(h.filesBaseURL+"/users/:uid/files/:name", h.auth.Middleware(), h.serveStoredFile)
	}

	api := router.Group("/api")
	api.POST("/auth/register", h.registerUser)
	api.POST("/auth/login", h.loginUser)

	authed := api.Group("")
	authed.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	authed.POST("/auth/logout", h.logoutUser)

	authed.GET("/users/me", h.getMe)
	authed.PATCH("/users/me", h.updateMe)
	authed.DELETE("/users/me", h.deleteMe)

	authed.GET("/chats", h.listChats)
	authed.POST("/chats", h.createChat)
	authed.GET("/chats/:id", h.getChat)
	authed.PATCH("/chats/:id", h.renameChat)
	authed.DELETE("/chats/:id", h.deleteChat)
	authed.GET("/chats/:id/messages", h.listMessages)
	authed.POST("/chats/:id/messages", h.sendMessage)
	authed.POST("/chats/:id/messages/stream", h.streamMessage)
	authed.GET("/chats/:id/messages/ws", h.websocketMessages)

	authed.POST("/files/upload", h.uploadFile)
	authed.GET("/files", h.listFiles)
	authed.DELETE("/files/:id", h.deleteFile)

	authed.GET("/usage", h.getUsage)
}

func (h *Handler) health(c *gin.Context) {
	running, idle, pending := h.workers.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"workers": gin.H{
			"running": running,
			"idle":    idle,
			"pending": pending,
		},
	})
}

func (h *Handler) authorizedUserID(c *gin.Context) (string, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return "", false
	}
	return userID, true
}

// pagination reads limit and offset, clamping limit to [1, ceiling].
func pagination(c *gin.Context, def, ceiling int) (limit, offset int, ok bool) {
	limit, offset = def, 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return 0, 0, false
		}
		limit = min(v, ceiling)
	}
	if raw := c.Query("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return 0, 0, false
		}
		offset = v
	}
	return limit, offset, true
}
