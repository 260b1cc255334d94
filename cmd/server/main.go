package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/lk2023060901/resumable-upload/internal/conf"
	"github.com/lk2023060901/resumable-upload/internal/data"
	"github.com/lk2023060901/resumable-upload/internal/pkg/logger"
	"github.com/lk2023060901/resumable-upload/internal/pkg/sse"
	"github.com/lk2023060901/resumable-upload/internal/pkg/workerpool"
	"github.com/lk2023060901/resumable-upload/internal/server"
	"github.com/lk2023060901/resumable-upload/internal/upload/biz"
	"github.com/lk2023060901/resumable-upload/internal/upload/service"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "config.yaml", "config file path")
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize global logger
	log, err := logger.InitGlobal(config.Log)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	log.Info("config loaded successfully", zap.String("path", *configFile))

	chunkSize, _ := config.Upload.ChunkSizeBytes()
	maxChunkBody, _ := config.Upload.MaxChunkBodyBytes()

	// Initialize data layer
	ctx := context.Background()
	d, cleanup, err := data.NewData(ctx, config, log)
	if err != nil {
		log.Fatal("failed to initialize data layer", zap.Error(err))
	}
	defer cleanup()

	// Initialize use case and service
	uploadUseCase := biz.NewUploadUseCase(d.Ledger, d.Backend, d.Locker, biz.UploadOptions{
		ChunkSize:      chunkSize,
		BackendTimeout: config.Upload.BackendTimeout,
	}, log)
	events := sse.NewHub(sse.DefaultBuffer)
	uploadService := service.NewUploadService(uploadUseCase, events, maxChunkBody, log)
	uploadService.SetKeepAlive(config.Upload.EventKeepAlive)

	// Start stale record reaper for ledgers without native expiry
	reapCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	if d.Stale != nil && config.Upload.RecordTTL > 0 {
		pool, err := workerpool.New(&workerpool.Config{
			Workers:        config.Upload.ReapWorkers,
			ReleaseTimeout: config.Server.ShutdownTimeout,
		}, log.Logger)
		if err != nil {
			log.Fatal("failed to create reaper pool", zap.Error(err))
		}
		defer pool.Shutdown()

		reaper := biz.NewReaper(uploadUseCase, d.Stale, pool, biz.ReaperOptions{
			TTL:       config.Upload.RecordTTL,
			Interval:  config.Upload.ReapInterval,
			BatchSize: config.Upload.ReapBatch,
		}, log)
		go reaper.Run(reapCtx)
	}

	httpServer := server.NewHTTPServer(config, log, d, uploadService, maxChunkBody)

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	log.Info("server started successfully",
		zap.String("ledger", config.Upload.Ledger),
		zap.String("backend", config.Upload.Backend),
		zap.Int64("chunk_size", chunkSize),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	stopReaper()
	// 结束所有进度事件流，避免 Shutdown 等待长连接
	events.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
