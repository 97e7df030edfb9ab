package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/careaccess/go-core/internal/delegation"
	"github.com/careaccess/go-core/internal/engine"
	"github.com/careaccess/go-core/internal/metrics"
	"github.com/careaccess/go-core/internal/override"
)

// Config configures the HTTP API server
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Version      string
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		Version:      "1.0.0",
	}
}

// Server is the HTTP API server
type Server struct {
	engine      *engine.Engine
	delegations *delegation.Manager
	overrides   *override.Manager
	metrics     metrics.Metrics
	router      *gin.Engine
	httpServer  *http.Server
	logger      *zap.Logger
	config      Config
	startTime   time.Time
}

// New creates the HTTP API server
func New(cfg Config, eng *engine.Engine, delegations *delegation.Manager, overrides *override.Manager, m metrics.Metrics, logger *zap.Logger) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		engine:      eng,
		delegations: delegations,
		overrides:   overrides,
		metrics:     m,
		router:      router,
		logger:      logger,
		config:      cfg,
		startTime:   time.Now(),
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.Use(s.requestLogger(), s.recovery())

	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/readyz", s.readyHandler)
	s.router.GET("/metrics", gin.WrapH(s.metrics.HTTPHandler()))

	v1 := s.router.Group("/v1")
	{
		v1.POST("/authorize", s.authorizeHandler)
		v1.POST("/authorize/batch", s.batchAuthorizeHandler)

		v1.POST("/delegations", s.createDelegationHandler)
		v1.POST("/delegations/:id/approve", s.approveDelegationHandler)
		v1.POST("/delegations/:id/revoke", s.revokeDelegationHandler)

		v1.POST("/overrides", s.activateOverrideHandler)
		v1.POST("/overrides/:id/deactivate", s.deactivateOverrideHandler)

		admin := v1.Group("/admin")
		{
			admin.POST("/cache/invalidate", s.invalidateCacheHandler)
			admin.POST("/ratelimit/reset", s.resetLimitsHandler)
		}
	}
}

// Start begins serving. It blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.Int("port", s.config.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP makes the server usable with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", c.ClientIP()))
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					ErrorResponse{Error: "internal server error"})
			}
		}()
		c.Next()
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	snapshot := s.engine.Health(c.Request.Context())

	status := http.StatusOK
	if !snapshot.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy":    snapshot.Healthy,
		"components": snapshot.Components,
		"cacheStats": snapshot.CacheStats,
		"uptime":     time.Since(s.startTime).String(),
		"version":    s.config.Version,
	})
}

func (s *Server) readyHandler(c *gin.Context) {
	snapshot := s.engine.Health(c.Request.Context())
	if !snapshot.Healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}
