package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/cellvert/internal/application/listener"
	"github.com/aescanero/cellvert/internal/application/orchestrator"
	"github.com/aescanero/cellvert/internal/config"
	"github.com/aescanero/cellvert/pkg/adapters/backend"
	backendhttp "github.com/aescanero/cellvert/pkg/adapters/backend/http"
	backendmemory "github.com/aescanero/cellvert/pkg/adapters/backend/memory"
	"github.com/aescanero/cellvert/pkg/adapters/backend/script"
	eventsmemory "github.com/aescanero/cellvert/pkg/adapters/events/memory"
	"github.com/aescanero/cellvert/pkg/adapters/events/redis"
	"github.com/aescanero/cellvert/pkg/adapters/host"
	"github.com/aescanero/cellvert/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aescanero/cellvert/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/cellvert/pkg/adapters/storage/redis"
	"github.com/aescanero/cellvert/pkg/api/grpc"
	"github.com/aescanero/cellvert/pkg/api/http"
	"github.com/aescanero/cellvert/pkg/api/websocket"
	"github.com/aescanero/cellvert/pkg/ports"

	"github.com/google/uuid"
	promclient "github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/health"
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

	sessionID := uuid.New().String()

	logger.Info("starting cellvert",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("session_id", sessionID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize event bus and history
	var (
		eventBus    ports.EventBus
		history     ports.CheckpointHistory
		redisClient *goredis.Client
	)

	switch cfg.EventBus {
	case "redis":
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

		streams, err := redis.NewStreamsEventBus(
			redisClient,
			cfg.Redis.ConsumerGroup,
			cfg.Redis.ConsumerName,
			logger,
		)
		if err != nil {
			logger.Fatal("failed to create event bus", zap.Error(err))
		}
		streams.SetBlockTimeout(cfg.Redis.BlockTimeout)
		eventBus = streams

		history = redisstorage.NewCheckpointHistory(redisClient, cfg.Orchestrator.HistoryTTL, logger)
	default:
		eventBus = eventsmemory.NewInMemoryEventBus()
		history = storagememory.NewInMemoryCheckpointHistory()
	}

	// Initialize backend
	rawBackend, err := newBackend(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create backend", zap.Error(err))
	}
	versioned := backend.WithRetry(rawBackend, cfg.Backend.MaxAttempts, cfg.Backend.RetryDelay, logger)

	metricsCollector := prometheus.NewCollector(promclient.DefaultRegisterer)

	// Initialize application components
	bridge := host.NewBridge(eventBus, sessionID, logger)

	orchestratorMgr := orchestrator.NewManager(
		versioned,
		bridge,
		eventBus,
		history,
		metricsCollector,
		orchestrator.NewValidator(),
		logger,
		orchestrator.Options{
			SessionID:      sessionID,
			HostEchoesRuns: cfg.Orchestrator.HostEchoesRuns,
		},
	)
	orchestratorMgr.Start()

	eventListener := listener.New(eventBus, orchestratorMgr, logger)
	if err := eventListener.Start(ctx); err != nil {
		logger.Fatal("failed to start event listener", zap.Error(err))
	}

	wsHandler := websocket.NewHandler(eventBus, logger)
	if err := wsHandler.Start(ctx); err != nil {
		logger.Fatal("failed to start websocket stream", zap.Error(err))
	}

	grpcHealth := health.NewServer()
	healthMonitor := listener.NewHealthMonitor(
		orchestratorMgr,
		metricsCollector,
		grpcHealth,
		cfg.Orchestrator.HealthCheckInterval,
		cfg.Orchestrator.StuckThreshold,
		logger,
	)
	healthMonitor.Start()

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Addr:         cfg.GetHTTPAddr(),
		Orchestrator: orchestratorMgr,
		Document:     bridge,
		EventBus:     eventBus,
		History:      history,
		Health:       healthMonitor,
		Logger:       logger,
	})
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Addr:   cfg.GetGRPCAddr(),
		Health: grpcHealth,
		Logger: logger,
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

	logger.Info("cellvert started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("event_bus", cfg.EventBus),
		zap.String("backend", cfg.Backend.Kind))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	healthMonitor.Stop()

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	eventListener.Stop()

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	// Stops the websocket subscriptions
	cancel()

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("cellvert shut down complete")
}

// newBackend creates the configured versioning backend
func newBackend(cfg *config.Config, logger *zap.Logger) (ports.Backend, error) {
	switch cfg.Backend.Kind {
	case "script":
		return script.NewBackend(script.Config{
			Dir:          cfg.Backend.ScriptDir,
			CommitScript: cfg.Backend.CommitScript,
			RevertScript: cfg.Backend.RevertScript,
			Timeout:      cfg.Backend.Timeout,
			Logger:       logger,
		})
	case "memory":
		logger.Warn("using in-memory backend, external state is not versioned")
		return backendmemory.NewWorkspace(), nil
	default:
		return backendhttp.NewClient(&backendhttp.Config{
			BaseURL: cfg.Backend.URL,
			Token:   cfg.Backend.Token,
			Timeout: cfg.Backend.Timeout,
			Logger:  logger,
		})
	}
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
