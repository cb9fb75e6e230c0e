package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/harshakreox/ghostqa/internal/application/orchestrator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server hosts the REST control surface for one controller.
type Server struct {
	router      *gin.Engine
	server      *http.Server
	controller  *orchestrator.Controller
	stopTimeout time.Duration
	logger      *zap.Logger
}

// Config wires a Server.
type Config struct {
	Port       int
	Controller *orchestrator.Controller
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	// StopTimeout bounds the graceful drain of a stop request.
	StopTimeout time.Duration
	Logger      *zap.Logger
}

// NewServer builds the router and registers every route. The WebSocket
// stream is attached separately with SetupWebSocket.
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 30 * time.Second
	}

	s := &Server{
		router:      router,
		controller:  cfg.Controller,
		stopTimeout: stopTimeout,
		logger:      cfg.Logger,
	}

	metrics := promhttp.Handler()
	if cfg.Gatherer != nil {
		metrics = promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})
	}
	s.setupRoutes(metrics)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes(metrics http.Handler) {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics))

	v1 := s.router.Group("/api/v1/orchestrator")
	{
		v1.POST("/start", s.handleStart)
		v1.POST("/stop", s.handleStop)
		v1.GET("/status", s.handleStatus)

		v1.POST("/queue/feature", s.handleQueueFeature)
		v1.POST("/queue/project", s.handleQueueProject)
		v1.GET("/queue", s.handleGetQueue)
		v1.POST("/regression", s.handleTriggerRegression)
		v1.POST("/discovery", s.handleTriggerDiscovery)

		v1.GET("/config", s.handleGetConfig)
		v1.PATCH("/config", s.handleUpdateConfig)

		v1.GET("/history", s.handleHistory)
		v1.GET("/history/:id", s.handleGetRecord)
	}
}

// SetupWebSocket mounts the live event stream.
func (s *Server) SetupWebSocket(handler interface{ HandleEventStream(*gin.Context) }) {
	s.router.GET("/api/v1/orchestrator/events/ws", handler.HandleEventStream)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the control surface until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("control surface listening", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("control surface: %w", err)
}

// Shutdown stops accepting requests and waits for open ones within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("control surface shutdown: %w", err)
	}
	s.logger.Info("control surface stopped")
	return nil
}

// requestLogger logs one line per request: probes at debug, server errors
// at error, everything else at info.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if q := c.Request.URL.RawQuery; q != "" {
			fields = append(fields, zap.String("query", q))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case path == "/health" || path == "/metrics":
			logger.Debug("probe", fields...)
		case status >= http.StatusInternalServerError:
			logger.Error("request failed", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}
