// Package main runs the background processing worker for queued recordings.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/posnetek/backend/config"
	"github.com/posnetek/backend/internal/inference"
	"github.com/posnetek/backend/internal/processing"
	"github.com/posnetek/backend/internal/realtime"
	"github.com/posnetek/backend/internal/recordings"
	"github.com/posnetek/backend/internal/worker"
	"github.com/posnetek/backend/pkg/database"
	"github.com/posnetek/backend/pkg/queue"
	"github.com/posnetek/backend/pkg/redis"
	"github.com/posnetek/backend/pkg/storage"
)

func main() {
	cfg, cfgErr := config.Load()
	logger := newLogger(cfg != nil && cfg.Development())
	defer logger.Sync()
	if cfgErr != nil {
		logger.Fatal("load config", zap.Error(cfgErr))
	}
	if !cfg.Redis.Enabled() {
		logger.Fatal("worker requires REDIS_ADDR")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Endpoint:        cfg.Storage.EndpointURL(),
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		Bucket:          cfg.Storage.Bucket,
	}, logger)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}

	httpClient := &http.Client{Timeout: cfg.Processing.HTTPClientTimeout}
	ai, err := inference.NewClient(inference.Config{
		APIKey:             cfg.Inference.APIKey,
		BaseURL:            cfg.Inference.BaseURL,
		TranscriptionModel: cfg.Inference.TranscriptionModel,
		SummaryModel:       cfg.Inference.SummaryModel,
		TitleModel:         cfg.Inference.TitleModel,
		HTTPClient:         httpClient,
	}, logger)
	if err != nil {
		logger.Fatal("inference", zap.Error(err))
	}

	// Status events reach WebSocket clients through the servers' Redis subscriptions.
	pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, pubsub, nil)

	recordingRepo := recordings.NewRepository(pool)
	processor := processing.NewProcessor(recordingRepo, s3Client, ai, ai, httpClient, processing.Options{
		HeaderExtraction: cfg.Processing.HeaderExtraction,
		Timeout:          cfg.Processing.Timeout,
		LockTTL:          cfg.Processing.LockTTL,
	}, logger)
	processor.SetNotifier(hub)
	processor.SetLocker(rdb.Locker("lock:recording:"))

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processWorker := worker.NewProcessWorker(processor, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		processWorker.Run(workerCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(queue.PollTimeout + 5*time.Second):
		logger.Warn("worker did not stop in time")
	}
	logger.Info("worker stopped")
}

func newLogger(development bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if development {
		config = zap.NewDevelopmentConfig()
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
