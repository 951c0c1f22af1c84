// Package api exposes the memory system over HTTP: retrieval, profile
// assembly, and lifecycle mutations.
package api

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/pkg/memory/lifecycle"
	"github.com/justice-rest/intelmem/pkg/retrieval"
	"github.com/justice-rest/intelmem/pkg/retrieval/pipeline"
)

// Config holds API server settings.
type Config struct {
	// ListenAddr is the address the server binds to.
	ListenAddr string

	// AccessBoost is the importance boost applied to records served in
	// search results.
	AccessBoost float64

	// MaxImportance caps access-driven importance growth.
	MaxImportance float64
}

// Server is the HTTP API for the memory system.
type Server struct {
	config   Config
	manager  *lifecycle.Manager
	engine   *pipeline.Engine
	profiles *retrieval.ProfileLoader
	logger   *zap.Logger
	app      *fiber.App
}

// NewServer creates the API server. The manager, engine, and profile loader
// are injected so they can be shared with the MCP surface.
func NewServer(config Config, manager *lifecycle.Manager, engine *pipeline.Engine, profiles *retrieval.ProfileLoader, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:   config,
		manager:  manager,
		engine:   engine,
		profiles: profiles,
		logger:   logger,
		app:      app,
	}

	app.Get("/ping", s.handlePing)

	app.Post("/search", s.handleSearch)
	app.Get("/profile/:user", s.handleProfile)

	app.Post("/memories", s.handleCreate)
	app.Get("/memories/:id", s.handleGet)
	app.Delete("/memories/:id", s.handleDelete)
	app.Post("/memories/:id/forget", s.handleForget)

	app.Delete("/users/:user/memories", s.handleDeleteAll)
	app.Post("/users/:user/consolidate", s.handleConsolidate)
	app.Post("/users/:user/decay", s.handleDecay)
	app.Post("/users/:user/tiers", s.handleUpdateTiers)

	return s
}

// Mount attaches an extra HTTP handler under the given path, used for the
// MCP surface.
func (s *Server) Mount(path string, handler http.Handler) {
	s.app.All(path, adaptor.HTTPHandler(handler))
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
