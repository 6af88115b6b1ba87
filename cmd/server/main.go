// Package main runs the recordings HTTP server with WebSocket status events and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/posnetek/backend/config"
	"github.com/posnetek/backend/internal/auth"
	"github.com/posnetek/backend/internal/inference"
	"github.com/posnetek/backend/internal/middleware"
	"github.com/posnetek/backend/internal/processing"
	"github.com/posnetek/backend/internal/realtime"
	"github.com/posnetek/backend/internal/recordings"
	"github.com/posnetek/backend/internal/worker"
	"github.com/posnetek/backend/pkg/database"
	"github.com/posnetek/backend/pkg/queue"
	"github.com/posnetek/backend/pkg/redis"
	"github.com/posnetek/backend/pkg/response"
	"github.com/posnetek/backend/pkg/storage"
)

func main() {
	cfg, cfgErr := config.Load()
	logger := newLogger(cfg != nil && cfg.Development())
	defer logger.Sync()
	if cfgErr != nil {
		logger.Fatal("load config", zap.Error(cfgErr))
	}
	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
	} else {
		logger.Info("redis disabled: single-instance locking, local status events, no background queue")
	}

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

	verifier, err := auth.NewVerifier(cfg.Auth.PublicKey, cfg.Auth.ProviderURL, cfg.Auth.Audience)
	if err != nil {
		logger.Fatal("auth", zap.Error(err))
	}

	// Realtime status events
	var hub *realtime.Hub
	if rdb != nil {
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, pubsub, pubsub)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}
	defer hub.Close()

	// Recordings
	recordingRepo := recordings.NewRepository(pool)
	recordingHandler := recordings.NewHandler(recordingRepo, s3Client, recordings.HandlerOptions{
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		Development:    cfg.Development(),
	}, logger)

	// Processing
	processor := processing.NewProcessor(recordingRepo, s3Client, ai, ai, httpClient, processing.Options{
		HeaderExtraction: cfg.Processing.HeaderExtraction,
		Timeout:          cfg.Processing.Timeout,
		LockTTL:          cfg.Processing.LockTTL,
	}, logger)
	processor.SetNotifier(hub)
	processingHandler := processing.NewHandler(processor, cfg.Development(), logger)

	// Background queue (requires Redis)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workerDone := make(chan struct{})
	if rdb != nil {
		processor.SetLocker(rdb.Locker("lock:recording:"))
		jobQueue := queue.NewQueue(rdb.Client, logger)
		if cfg.Processing.AutoProcess {
			recordingHandler.SetEnqueuer(jobQueue)
		}
		processWorker := worker.NewProcessWorker(processor, jobQueue, logger)
		go func() {
			defer close(workerDone)
			processWorker.Run(workerCtx)
		}()
	} else {
		close(workerDone)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, verifier, logger))

	// Protected API (identity provider token required)
	api := router.Group("")
	api.Use(middleware.JWT(verifier))
	{
		api.POST("/upload", recordingHandler.Upload)
		api.POST("/process", processingHandler.Process)

		api.GET("/recordings", recordingHandler.List)
		api.GET("/recordings/:id", recordingHandler.Get)
		api.PATCH("/recordings/:id", recordingHandler.Patch)
		api.DELETE("/recordings/:id", recordingHandler.Delete)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("worker did not stop before shutdown deadline")
	}
	logger.Info("server stopped")
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
