package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Aidin1998/swapflow/internal/api"
	"github.com/Aidin1998/swapflow/internal/config"
	"github.com/Aidin1998/swapflow/internal/database"
	"github.com/Aidin1998/swapflow/internal/notify"
	"github.com/Aidin1998/swapflow/internal/order"
	"github.com/Aidin1998/swapflow/internal/queue"
	"github.com/Aidin1998/swapflow/internal/ws"
	"github.com/Aidin1998/swapflow/pkg/logger"
)

// The API front end: accepts orders, enqueues them for the worker fleet and
// streams status updates to WebSocket subscribers.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate schema", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	orders := order.NewGormRepository(db, zapLogger)
	q := queue.NewRedisQueue(rdb, queue.Config{
		Concurrency:   cfg.Queue.Concurrency,
		MaxAttempts:   cfg.Queue.MaxRetryAttempts,
		BackoffBase:   cfg.Queue.BackoffBase,
		KeepCompleted: cfg.Queue.KeepCompleted,
		KeepFailed:    cfg.Queue.KeepFailed,
		CompletedAge:  cfg.Queue.CompletedAge,
		FailedAge:     cfg.Queue.FailedAge,
	}, zapLogger)

	bus := notify.NewRedisBus(rdb, zapLogger)
	registry := ws.NewRegistry(zapLogger)
	relay := ws.NewRelay(registry, bus, zapLogger)
	if err := relay.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start update relay", zap.Error(err))
	}

	wsHandler := ws.NewHandler(registry, orders, zapLogger)
	server := api.NewServer(zapLogger, orders, q, wsHandler, db, rdb)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.Addr)
	}()

	select {
	case <-ctx.Done():
		zapLogger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			zapLogger.Error("API server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shut down API server", zap.Error(err))
	}
	if err := bus.Close(); err != nil {
		zapLogger.Error("Failed to close notification bus", zap.Error(err))
	}
	if err := rdb.Close(); err != nil {
		zapLogger.Error("Failed to close Redis client", zap.Error(err))
	}
	zapLogger.Info("Shutdown complete")
	os.Exit(0)
}
