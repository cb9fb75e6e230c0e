package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harshakreox/ghostqa/internal/application/orchestrator"
	"github.com/harshakreox/ghostqa/internal/application/workers"
	"github.com/harshakreox/ghostqa/internal/config"
	"github.com/harshakreox/ghostqa/internal/domain"
	"github.com/harshakreox/ghostqa/pkg/adapters/catalog/sqlstore"
	"github.com/harshakreox/ghostqa/pkg/adapters/engine/httpengine"
	eventsmemory "github.com/harshakreox/ghostqa/pkg/adapters/events/memory"
	eventsredis "github.com/harshakreox/ghostqa/pkg/adapters/events/redis"
	"github.com/harshakreox/ghostqa/pkg/adapters/metrics/prometheus"
	storagememory "github.com/harshakreox/ghostqa/pkg/adapters/storage/memory"
	storageredis "github.com/harshakreox/ghostqa/pkg/adapters/storage/redis"
	"github.com/harshakreox/ghostqa/pkg/api/grpc"
	"github.com/harshakreox/ghostqa/pkg/api/http"
	"github.com/harshakreox/ghostqa/pkg/api/websocket"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting GhostQA orchestrator",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx := context.Background()

	// History and event bus
	var (
		records     domain.RecordStore
		eventBus    domain.EventBus
		redisClient *goredis.Client
	)
	switch cfg.Storage.Backend {
	case config.BackendRedis:
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		consumer := cfg.Storage.ConsumerName
		if consumer == "" {
			consumer = fmt.Sprintf("ghostqa-%d", os.Getpid())
		}
		bus, err := eventsredis.NewStreamsEventBus(
			redisClient,
			cfg.Storage.ConsumerGroup,
			consumer,
			cfg.Storage.StreamMaxLen,
			logger,
		)
		if err != nil {
			logger.Fatal("failed to create event bus", zap.Error(err))
		}
		eventBus = bus
		records = storageredis.NewRecordStore(redisClient, cfg.Storage.RecordTTL, cfg.Storage.HistoryLimit, logger)
	default:
		eventBus = eventsmemory.NewInMemoryEventBus()
		records = storagememory.NewRecordStore(cfg.Storage.HistoryLimit)
	}

	// Feature/Project Store
	catalog, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:       cfg.Catalog.Driver,
		DSN:          cfg.Catalog.DSN,
		MaxOpenConns: cfg.Catalog.MaxOpenConns,
		PingTimeout:  cfg.Catalog.PingTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("failed to open feature store", zap.Error(err))
	}
	if cfg.Catalog.EnsureSchema {
		if err := catalog.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to prepare feature store schema", zap.Error(err))
		}
	}

	engine := httpengine.New(cfg.Engine.URL, cfg.Engine.Timeout, logger)
	metricsCollector := prometheus.NewCollector()

	controller, err := orchestrator.NewController(&orchestrator.Config{
		Engine:     engine,
		Store:      catalog,
		Records:    records,
		Events:     eventBus,
		Metrics:    metricsCollector,
		Logger:     logger,
		Settings:   cfg.Orchestrator.Settings(),
		MinWorkers: cfg.Workers.MinPoolSize,
	})
	if err != nil {
		logger.Fatal("failed to create orchestrator", zap.Error(err))
	}

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:        cfg.HTTPPort,
		Controller:  controller,
		StopTimeout: cfg.Timeouts.ShutdownTimeout,
		Logger:      logger,
	})

	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	wsHandler := websocket.NewHandler(eventBus, logger)
	if err := wsHandler.Start(streamCtx); err != nil {
		logger.Fatal("failed to subscribe event stream", zap.Error(err))
	}
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:       cfg.GRPCPort,
		Controller: controller,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	if cfg.Orchestrator.AutoStart {
		state, err := controller.Start(ctx)
		if err != nil {
			logger.Fatal("failed to start orchestrator", zap.Error(err))
		}
		logger.Info("orchestrator auto-started", zap.String("state", string(state)))
	}

	logger.Info("GhostQA orchestrator ready",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("catalog_driver", cfg.Catalog.Driver))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Drain work first so its final events still reach stream clients.
	if _, err := controller.Stop(shutdownCtx, false); err != nil {
		if errors.Is(err, workers.ErrDrainTimeout) {
			logger.Warn("drain timed out, in-flight executions abandoned")
		} else {
			logger.Error("orchestrator shutdown error", zap.Error(err))
		}
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	stopStream()
	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if err := catalog.Close(); err != nil {
		logger.Error("feature store close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("GhostQA orchestrator shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
