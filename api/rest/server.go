// Package rest provides the HTTP API of a work-queue master.
package rest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"yqhp/work-queue/internal/config"
	dispatchws "yqhp/work-queue/internal/dispatch/ws"
	"yqhp/work-queue/pkg/logger"
	"yqhp/work-queue/pkg/types"
)

// Backend is the master surface served over HTTP.
type Backend interface {
	ID() string
	IsRunning() bool
	Submit(task *types.Task) (uint64, error)
	Get(id uint64) (*types.Task, error)
	List(filter *types.TaskFilter) []*types.Task
	Remove(id uint64) (*types.Task, error)
	Workers() []*types.WorkerSnapshot
	Stats() *types.QueueStats
}

// Server represents the REST API server.
type Server struct {
	app     *fiber.App
	backend Backend
	config  *Config
	logger  *zap.Logger
}

// Config holds the configuration for the REST API server.
type Config struct {
	// Address is the address to listen on (e.g., ":9123").
	Address string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	// EnableCORS enables Cross-Origin Resource Sharing.
	EnableCORS bool

	Logger *zap.Logger
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:      ":9123",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		EnableCORS:   true,
	}
}

// ConfigFrom converts the file configuration.
func ConfigFrom(cfg *config.ServerConfig) *Config {
	return &Config{
		Address:      cfg.Address,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		EnableCORS:   cfg.EnableCORS,
	}
}

// NewServer creates a new REST API server. When hub is not nil the worker
// WebSocket endpoint is mounted under /api/v1.
func NewServer(backend Backend, hub *dispatchws.Hub, cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		ErrorHandler:          customErrorHandler,
		AppName:               "work-queue",
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		DisableStartupMessage: true,
	})

	s := &Server{
		app:     app,
		backend: backend,
		config:  cfg,
		logger:  logger.Named(cfg.Logger, "rest"),
	}

	s.setupMiddleware()
	s.setupRoutes(hub)
	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))

	// access log at debug level through zap
	if access, err := zap.NewStdLogAt(s.logger, zapcore.DebugLevel); err == nil {
		s.app.Use(fiberlogger.New(fiberlogger.Config{
			Format: "${status} | ${latency} | ${method} ${path}",
			Output: access.Writer(),
		}))
	}

	if s.config.EnableCORS {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: "*",
			AllowMethods: "GET,POST,DELETE,OPTIONS",
			AllowHeaders: "Origin,Content-Type,Accept",
			MaxAge:       86400,
		}))
	}
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes(hub *dispatchws.Hub) {
	s.app.Get("/health", s.healthCheck)

	api := s.app.Group("/api/v1")
	api.Get("/health", s.healthCheck)

	api.Post("/tasks", s.submitTask)
	api.Get("/tasks", s.listTasks)
	api.Get("/tasks/:id", s.getTask)
	api.Delete("/tasks/:id", s.removeTask)

	api.Get("/workers", s.listWorkers)
	api.Get("/stats", s.getStats)

	if hub != nil {
		hub.Mount(api)
	}
}

// Start starts the REST API server.
func (s *Server) Start() error {
	return s.app.Listen(s.config.Address)
}

// StartWithContext serves until ctx is cancelled, then shuts down.
func (s *Server) StartWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.app.Listen(s.config.Address)
	}()

	select {
	case <-ctx.Done():
		return s.ShutdownWithTimeout(10 * time.Second)
	case err := <-errCh:
		return err
	}
}

// ShutdownWithTimeout gracefully shuts down the server with a timeout.
func (s *Server) ShutdownWithTimeout(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// customErrorHandler handles errors returned by handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(types.ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}
