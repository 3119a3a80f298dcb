// Package api exposes the HTTP surface of the pipeline: order submission,
// order lookup and the per-order WebSocket status stream.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/swapflow/internal/order"
	"github.com/Aidin1998/swapflow/internal/queue"
	"github.com/Aidin1998/swapflow/internal/ws"
)

var validate = validator.New()

// Server is the API front end. The database and redis handles are only used
// by the health endpoint and may be nil, in which case their checks are
// skipped.
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server
	logger  *zap.Logger

	orders order.Repository
	queue  queue.Queue
	wsh    *ws.Handler
	db     *gorm.DB
	redis  *redis.Client
}

// NewServer wires the routes over the given order store, job queue and
// WebSocket handler.
func NewServer(logger *zap.Logger, orders order.Repository, q queue.Queue, wsh *ws.Handler, db *gorm.DB, rdb *redis.Client) *Server {
	s := &Server{
		logger: logger,
		orders: orders,
		queue:  q,
		wsh:    wsh,
		db:     db,
		redis:  rdb,
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.router = router
	s.registerRoutes()
	return s
}

// Start serves until Shutdown is called or the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", zap.String("addr", addr))
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.healthCheck)

		orders := v1.Group("/orders")
		{
			orders.POST("/execute", s.executeOrder)
			orders.GET("", s.listOrders)
			orders.GET("/:id", s.getOrder)
		}
	}

	if s.wsh != nil {
		s.router.GET("/ws/orders/:id", s.wsh.Serve)
	}
}

// healthCheck reports the reachability of each dependency. Any failing check
// degrades the overall status to 503.
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if s.db != nil {
		status := "ok"
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			status = err.Error()
			healthy = false
		}
		checks["database"] = status
	}

	if s.redis != nil {
		status := "ok"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			status = err.Error()
			healthy = false
		}
		checks["redis"] = status
	}

	if counts, err := s.queue.Counts(ctx); err != nil {
		checks["queue"] = err.Error()
		healthy = false
	} else {
		checks["queue"] = counts
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().UTC(),
	})
}
