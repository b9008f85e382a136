// Package web exposes the HTTP API for cameras, streams, batch jobs, and
// alerts.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sitewatch/sitewatch/internal/alerts"
	"github.com/sitewatch/sitewatch/internal/batch"
	"github.com/sitewatch/sitewatch/internal/config"
	"github.com/sitewatch/sitewatch/internal/logger"
	"github.com/sitewatch/sitewatch/internal/notify"
	"github.com/sitewatch/sitewatch/internal/registry"
	"github.com/sitewatch/sitewatch/internal/stream"
)

// Server is the HTTP API server.
type Server struct {
	config     config.WebConfig
	logger     *logger.Logger
	httpServer *http.Server
	router     *gin.Engine

	registry   *registry.Registry
	supervisor *stream.Supervisor
	runner     *batch.Runner
	alertStore *alerts.Store
	hub        *notify.Hub

	version   string
	startTime time.Time
}

// NewServer creates the server and wires its routes.
func NewServer(
	cfg config.WebConfig,
	reg *registry.Registry,
	supervisor *stream.Supervisor,
	runner *batch.Runner,
	alertStore *alerts.Store,
	hub *notify.Hub,
	log *logger.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	s := &Server{
		config:     cfg,
		logger:     log,
		router:     router,
		registry:   reg,
		supervisor: supervisor,
		runner:     runner,
		alertStore: alertStore,
		hub:        hub,
		version:    "dev",
		startTime:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// SetVersion sets the application version reported by /api/status.
func (s *Server) SetVersion(version string) {
	s.version = version
}

// Router returns the underlying handler. Used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Web server is disabled")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		s.logger.Info("Starting web server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server error", "address", addr, "error", err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Stopping web server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)

		cameras := api.Group("/cameras")
		{
			cameras.GET("", s.handleListCameras)
			cameras.POST("", s.handleCreateCamera)
			cameras.GET("/:id", s.handleGetCamera)
			cameras.PUT("/:id", s.handleUpdateCamera)
			cameras.DELETE("/:id", s.handleDeleteCamera)
		}

		streams := api.Group("/streams")
		{
			streams.GET("", s.handleListStreams)
			streams.GET("/:camera_id", s.handleGetStream)
			streams.POST("/:camera_id/start", s.handleStartStream)
			streams.POST("/:camera_id/stop", s.handleStopStream)
		}

		batchJobs := api.Group("/batch")
		{
			batchJobs.GET("", s.handleListJobs)
			batchJobs.POST("", s.handleSubmitJob)
			batchJobs.GET("/:id", s.handleGetJob)
			batchJobs.DELETE("/:id", s.handleCancelJob)
		}

		alertsGroup := api.Group("/alerts")
		{
			alertsGroup.GET("", s.handleListAlerts)
			alertsGroup.GET("/stats", s.handleAlertStats)
			alertsGroup.GET("/:id", s.handleGetAlert)
			alertsGroup.PATCH("/:id", s.handleUpdateAlert)
		}

		api.GET("/ws/:channel", s.handleWebsocket)
	}
}

// ginLogger creates a Gin middleware for logging.
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
