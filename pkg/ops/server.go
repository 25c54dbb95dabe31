package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cmdworker/pkg/coordination"
	"cmdworker/pkg/logger"
	"cmdworker/pkg/worker"
)

// Server exposes the worker's operational surface: health, node status, the
// cluster registry, and Prometheus metrics. It carries no job control; jobs
// only arrive by queue.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	worker      *worker.Worker
	coordinator coordination.Coordinator
}

// Config holds ops server configuration.
type Config struct {
	Port        string
	Worker      *worker.Worker
	Coordinator coordination.Coordinator
}

// NewServer creates the ops HTTP server.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(MetricsMiddleware())
	router.Use(requestLogger())

	s := &Server{
		router:      router,
		worker:      cfg.Worker,
		coordinator: cfg.Coordinator,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Router returns the underlying handler, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	logger.Info("ops server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start ops server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("ops server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.health)
	s.router.GET("/status", s.status)
	s.router.GET("/cluster", s.cluster)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) status(c *gin.Context) {
	status := s.worker.Status()
	c.JSON(http.StatusOK, gin.H{
		"node":       status,
		"descriptor": s.worker.Descriptor,
		"uptime":     time.Since(status.StartedAt).String(),
	})
}

// cluster lists every node currently registered in the coordination
// backend, each with the status document it announced.
func (s *Server) cluster(c *gin.Context) {
	if s.coordinator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "coordination unavailable"})
		return
	}

	ids, err := s.coordinator.ActiveNodes(c.Request.Context())
	if err != nil {
		logger.Error("failed to list cluster nodes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list nodes"})
		return
	}

	nodes := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		status, err := s.coordinator.NodeStatus(c.Request.Context(), id)
		if err != nil {
			// The lease can expire between the listing and the fetch.
			logger.Debug("node disappeared during cluster listing", zap.String("node_id", id))
			continue
		}
		nodes = append(nodes, json.RawMessage(status))
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(nodes),
		"nodes": nodes,
	})
}

// requestLogger logs each HTTP request with latency.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
