package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aescanero/cellvert/internal/application/orchestrator"
	"github.com/aescanero/cellvert/pkg/domain"
	"github.com/aescanero/cellvert/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Orchestrator is the read side of the orchestrator used by the API
type Orchestrator interface {
	SessionID() string
	Status() orchestrator.Status
	Index() *orchestrator.Index
}

// Document receives the host's unit ordering
type Document interface {
	SetUnits(units []domain.Unit)
	ListUnits(ctx context.Context) ([]domain.Unit, error)
	UpdatedAt() time.Time
}

// HealthChecker reports orchestrator health
type HealthChecker interface {
	IsHealthy() bool
}

// StreamHandler serves the websocket stream
type StreamHandler interface {
	HandleStream(c *gin.Context)
}

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	server       *http.Server
	orchestrator Orchestrator
	document     Document
	eventBus     ports.EventBus
	history      ports.CheckpointHistory
	health       HealthChecker
	validator    *orchestrator.Validator
	logger       *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	// Addr is the listen address, e.g. ":8080"
	Addr         string
	Orchestrator Orchestrator
	Document     Document
	EventBus     ports.EventBus
	History      ports.CheckpointHistory
	Health       HealthChecker
	// Gatherer backs /metrics, defaulting to the global registry
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger(cfg.Logger))

	s := &Server{
		router:       router,
		orchestrator: cfg.Orchestrator,
		document:     cfg.Document,
		eventBus:     cfg.EventBus,
		history:      cfg.History,
		health:       cfg.Health,
		validator:    orchestrator.NewValidator(),
		logger:       cfg.Logger,
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s.setupRoutes(gatherer)

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// Document
		v1.PUT("/units", s.handleSetUnits)
		v1.GET("/units", s.handleListUnits)
		v1.POST("/units/:id/revert", s.handleRevert)
		v1.POST("/session/start", s.handleStartSession)

		// Host lifecycle events
		v1.POST("/events/about-to-run", s.handleAboutToRun)
		v1.POST("/events/finished", s.handleFinished)
		v1.POST("/events/focus", s.handleFocus)

		// Inspection
		v1.GET("/status", s.handleStatus)
		v1.GET("/checkpoints", s.handleCheckpoints)
		v1.GET("/checkpoints/history", s.handleHistory)
		v1.DELETE("/checkpoints/history", s.handleDeleteHistory)
		v1.GET("/checkpoints/sessions", s.handleSessions)
	}
}

// SetupWebSocket adds the stream handler to the server
func (s *Server) SetupWebSocket(handler StreamHandler) {
	s.router.GET("/api/v1/ws", handler.HandleStream)
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
