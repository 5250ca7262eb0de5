// Package main runs the background worker that forwards domain events to the notifier.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-stream/backend/config"
	"github.com/aura-stream/backend/internal/worker"
	"github.com/aura-stream/backend/pkg/queue"
	"github.com/aura-stream/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jobQueue := queue.NewQueue(rdb.Client, logger)
	notifier := worker.NewNotifier(worker.NotifierConfig{
		URL:             cfg.Notifier.URL,
		Timeout:         time.Duration(cfg.Notifier.TimeoutSeconds) * time.Second,
		BreakerFailures: uint32(cfg.Notifier.BreakerFailures),
		BreakerOpen:     time.Duration(cfg.Notifier.BreakerOpenSec) * time.Second,
	}, jobQueue, logger)
	if cfg.Notifier.URL == "" {
		logger.Warn("NOTIFIER_URL is empty, events will be dropped")
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		notifier.Run(workerCtx)
		close(done)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("worker did not stop in time")
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
