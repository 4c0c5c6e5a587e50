package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"lexchat/internal/api"
	"lexchat/internal/auth"
	"lexchat/internal/config"
	"lexchat/internal/logging"
	"lexchat/internal/metrics"
	"lexchat/internal/objectstore"
	"lexchat/internal/redis"
	"lexchat/internal/service/ai"
	"lexchat/internal/service/content"
	"lexchat/internal/service/conversation"
	"lexchat/internal/service/upload"
	"lexchat/internal/storage"
	"lexchat/internal/worker"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbType := cfg.BasicConfig.Database
	logger.Info("opening database", "driver", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := storage.Migrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer rdb.Close()
	}

	m := metrics.New()

	sessions, err := newSessionStore(ctx, cfg, db, rdb, logger)
	if err != nil {
		return err
	}
	authService := auth.NewService(sessions, auth.Options{
		TTL:            time.Duration(cfg.Auth.SessionTTLHours) * time.Hour,
		CookieName:     cfg.Auth.CookieName,
		CSRFCookieName: cfg.Auth.CSRFCookieName,
		CSRFHeaderName: cfg.Auth.CSRFHeaderName,
		SecureCookies:  cfg.Auth.SecureCookies,
	})

	gateway, err := ai.NewService(ctx, cfg, logger, m)
	if err != nil {
		return fmt.Errorf("init ai gateway: %w", err)
	}
	contentService := content.NewService(db, content.Options{Logger: logger})
	conversations := conversation.New(contentService, gateway, conversation.Options{Logger: logger, Metrics: m})

	objects, err := objectstore.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init object store: %w", err)
	}
	if closer, ok := objects.(io.Closer); ok {
		defer closer.Close()
	}
	uploads := upload.New(contentService, objects, upload.Options{
		MaxUploadMB:   cfg.BasicConfig.MaxUploadMB,
		UserStorageMB: cfg.BasicConfig.UserStorageMB,
		Logger:        logger,
		Metrics:       m,
	})

	var broadcaster *worker.Broadcaster
	if rdb != nil {
		broadcaster = worker.NewBroadcaster(rdb, logger)
	}
	dispatcher := worker.NewDispatcher(worker.Config{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
		Broadcaster: broadcaster,
		Logger:      logger,
	})
	defer dispatcher.Close()

	handlerOpts := api.Options{
		SendRate:  rate.Every(time.Minute / time.Duration(cfg.BasicConfig.SendRatePerMinute)),
		SendBurst: cfg.BasicConfig.SendRateBurst,
		// room for queueing ahead of the provider call itself
		StreamTimeout: time.Duration(cfg.AI.TimeoutSeconds)*time.Second + time.Minute,
		FilesBaseURL:  cfg.Storage.PublicBaseURL,
		Logger:        logger,
		Metrics:       m,
	}
	if cfg.Storage.Backend == "local" {
		handlerOpts.LocalFilesDir = cfg.Storage.LocalDir
	}
	handlers := api.NewHandler(contentService, authService, conversations, uploads, dispatcher, handlerOpts)

	if !strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "provider", cfg.AI.Provider, "model", gateway.ModelName())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", "error", err)
	}
	logger.Info("server exited")
	return nil
}

// newSessionStore picks the session backend. The SQL store gets a sweeper
// that lives as long as ctx.
func newSessionStore(ctx context.Context, cfg *config.Config, db *storage.DB, rdb *redis.Client, logger *slog.Logger) (auth.SessionStore, error) {
	switch cfg.Auth.Store {
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis session store requires redis.enabled")
		}
		return auth.NewRedisStore(rdb), nil
	default:
		store := auth.NewSQLStore(db)
		store.StartSweeper(ctx, time.Duration(cfg.Auth.SweepIntervalMins)*time.Minute, logger)
		return store, nil
	}
}
