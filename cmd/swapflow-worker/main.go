package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Aidin1998/swapflow/internal/config"
	"github.com/Aidin1998/swapflow/internal/database"
	"github.com/Aidin1998/swapflow/internal/notify"
	"github.com/Aidin1998/swapflow/internal/order"
	"github.com/Aidin1998/swapflow/internal/queue"
	"github.com/Aidin1998/swapflow/internal/router"
	"github.com/Aidin1998/swapflow/internal/venue"
	"github.com/Aidin1998/swapflow/internal/worker"
	"github.com/Aidin1998/swapflow/pkg/logger"
	"github.com/Aidin1998/swapflow/pkg/metrics"
)

// The execution worker: drains the order queue and drives each order through
// routing, building, submission and confirmation.
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

	r := router.New(zapLogger,
		venue.NewSimRaydium(cfg.Venues.RaydiumQuoteDelay, cfg.Venues.SwapDelay, cfg.Venues.FailureRate, zapLogger),
		venue.NewSimMeteora(cfg.Venues.MeteoraQuoteDelay, cfg.Venues.SwapDelay, cfg.Venues.FailureRate, zapLogger),
	)

	w := worker.New(q, orders, r, bus, cfg.Venues.SlippageTolerance, zapLogger)
	if err := w.Run(ctx); err != nil {
		zapLogger.Fatal("Failed to start worker", zap.Error(err))
	}

	metricsSrv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Error("Metrics listener failed", zap.Error(err))
		}
	}()

	// Sample queue depth every 30s.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			counts, err := q.Counts(ctx)
			if err != nil {
				zapLogger.Error("Failed to sample queue counts", zap.Error(err))
				continue
			}
			metrics.QueueDepth.WithLabelValues("waiting").Set(float64(counts.Waiting))
			metrics.QueueDepth.WithLabelValues("delayed").Set(float64(counts.Delayed))
			metrics.QueueDepth.WithLabelValues("active").Set(float64(counts.Active))
		}
	}()
	zapLogger.Info("Worker started",
		zap.Int("concurrency", cfg.Queue.Concurrency),
		zap.Int("max_attempts", cfg.Queue.MaxRetryAttempts))

	<-ctx.Done()
	zapLogger.Info("Shutdown signal received")

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := metricsSrv.Shutdown(closeCtx); err != nil {
		zapLogger.Error("Failed to shut down metrics listener", zap.Error(err))
	}
	if err := q.Close(closeCtx); err != nil {
		zapLogger.Error("Failed to drain queue", zap.Error(err))
	}
	if err := bus.Close(); err != nil {
		zapLogger.Error("Failed to close notification bus", zap.Error(err))
	}
	if err := rdb.Close(); err != nil {
		zapLogger.Error("Failed to close Redis client", zap.Error(err))
	}
	zapLogger.Info("Shutdown complete")
}
