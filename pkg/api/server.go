package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"camcoord/pkg/api/middleware"
	"camcoord/pkg/cluster"
	"camcoord/pkg/coordinator"
	"camcoord/pkg/logger"
)

// Server encapsulates the HTTP API server and its dependencies.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	svc       *coordinator.Service
	manager   *cluster.Manager
	validator *middleware.Validator
	log       *zap.Logger
}

// Config holds API server configuration.
type Config struct {
	Addr    string
	Service *coordinator.Service
	Manager *cluster.Manager

	// Auth is optional: with neither a JWT service nor an API key store
	// configured the API runs open, for single-node dev setups.
	Auth middleware.AuthConfig

	RateLimit middleware.RateLimiterConfig
	Tracing   bool
}

// NewServer creates a new API server with all dependencies.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Middleware stack (order matters)
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	if cfg.Tracing {
		router.Use(middleware.TracingMiddleware("camcoord"))
	}
	router.Use(requestLogger())
	if cfg.RateLimit.RequestsPerMinute > 0 {
		router.Use(middleware.RateLimitMiddlewareWithConfig(cfg.RateLimit))
	} else {
		router.Use(middleware.RateLimitMiddleware())
	}
	router.Use(middleware.BodySizeLimitMiddleware(1 << 20)) // 1MB body limit

	if cfg.Auth.JWTService != nil || cfg.Auth.APIKeyStore != nil {
		// Peer RPCs and probes stay open: heartbeats must never stall
		// behind a token lookup.
		cfg.Auth.SkipPaths = append(cfg.Auth.SkipPaths,
			"/health", "/metrics", "/v1/cluster/*")
		router.Use(middleware.AuthMiddleware(cfg.Auth))
	}

	s := &Server{
		router:    router,
		svc:       cfg.Service,
		manager:   cfg.Manager,
		validator: middleware.NewValidator(middleware.DefaultValidatorConfig()),
		log:       logger.Get().Named("api"),
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Router exposes the gin engine for handler tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.log.Info("starting server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes sets up all API endpoints.
func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	{
		leases := v1.Group("/leases")
		{
			leases.POST("/acquire", s.acquireLease)
			leases.POST("/renew", s.renewLease)
			leases.POST("/release", s.releaseLease)
			leases.GET("", s.listLeases)
			leases.GET("/:resource_id", s.getLease)
		}

		clusterGroup := v1.Group("/cluster")
		{
			clusterGroup.GET("/status", s.clusterStatus)
			clusterGroup.GET("/leader", s.getLeader)
			clusterGroup.POST("/vote", s.handleVote)
			clusterGroup.POST("/heartbeat", s.handleHeartbeat)
		}
	}
}

// requestLogger is a middleware that logs HTTP requests.
func requestLogger() gin.HandlerFunc {
	log := logger.Get().Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// healthCheck returns server health status with dependency checks.
func (s *Server) healthCheck(c *gin.Context) {
	deps := make(map[string]bool)
	deps["store"] = s.svc != nil && s.svc.Healthy()
	deps["cluster"] = s.manager != nil

	healthy := true
	for _, ok := range deps {
		if !ok {
			healthy = false
			break
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	resp := gin.H{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	}
	if s.manager != nil {
		resp["role"] = s.manager.Status().Role
	}
	c.JSON(httpStatus, resp)
}
