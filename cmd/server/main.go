// Package main runs the live-stream playback HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-stream/backend/config"
	"github.com/aura-stream/backend/internal/auth"
	"github.com/aura-stream/backend/internal/events"
	"github.com/aura-stream/backend/internal/metrics"
	"github.com/aura-stream/backend/internal/middleware"
	"github.com/aura-stream/backend/internal/playback"
	"github.com/aura-stream/backend/internal/sessions"
	"github.com/aura-stream/backend/internal/store"
	"github.com/aura-stream/backend/internal/streams"
	"github.com/aura-stream/backend/internal/webhooks"
	"github.com/aura-stream/backend/pkg/database"
	"github.com/aura-stream/backend/pkg/queue"
	"github.com/aura-stream/backend/pkg/redis"
	"github.com/aura-stream/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}
	webhookNets, err := middleware.ParseCIDRs(strings.Join(cfg.Webhook.AllowedCIDRs, ","))
	if err != nil {
		logger.Fatal("webhook allow-list", zap.Error(err))
	}
	if len(webhookNets) == 0 {
		logger.Warn("WEBHOOK_ALLOWED_CIDRS is empty, encoder webhooks accept any source")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jobQueue := queue.NewQueue(rdb.Client, logger)
	publisher := events.NewQueuePublisher(jobQueue)
	m := metrics.New()

	st := store.NewPostgres(pool, cfg.Database.MaxRetries)
	registry := streams.NewRegistry(st, logger)
	signer := playback.NewSigner(cfg.Playback.BaseURL, cfg.Playback.SecretKey)
	manager := sessions.NewManager(st, registry, signer, publisher, m, logger, sessions.Config{
		URLTTL:            cfg.Playback.URLTTLSeconds,
		EndAllConcurrency: cfg.Playback.EndAllConcurrency,
		HighViewers:       cfg.Playback.HighViewers,
	})
	webhookSvc := webhooks.NewService(registry, manager, publisher, m, logger, nil)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours, auth.WithIssuer(cfg.JWT.Issuer))
	streamHandler := streams.NewHandler(registry, logger)
	sessionHandler := sessions.NewHandler(manager, logger)
	webhookHandler := webhooks.NewHandler(webhookSvc, logger)

	var playbackLimiter *middleware.RateLimiter
	if cfg.Playback.RatePerMinute > 0 {
		playbackLimiter = middleware.NewRateLimiter(cfg.Playback.RatePerMinute)
	}

	router := gin.New()
	// ClientIP feeds the webhook allow-list, so forwarded headers are only trusted from known proxies.
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Fatal("trusted proxies", zap.Error(err))
	}
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(m.Middleware())

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Streams
		api.GET("/streams", streamHandler.List)
		api.GET("/streams/live", streamHandler.Live)
		api.GET("/streams/:id", streamHandler.GetByID)
		api.POST("/streams/:id/playback-url", middleware.RateLimitUser(playbackLimiter), sessionHandler.PlaybackURL)

		// Sessions
		api.GET("/sessions/:id", sessionHandler.Get)
		api.POST("/sessions/:id/heartbeat", sessionHandler.Heartbeat)
		api.POST("/sessions/:id/end", sessionHandler.End)

		// Users
		api.GET("/users/me/stats", sessionHandler.Stats)
	}

	// Encoder webhooks (no JWT; network allow-list only)
	hooks := router.Group("/webhooks")
	hooks.Use(middleware.AllowIPs(webhookNets))
	{
		hooks.POST("/stream-start", webhookHandler.StreamStart)
		hooks.POST("/stream-stop", webhookHandler.StreamStop)
		hooks.POST("/stream-error", webhookHandler.StreamError)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
