// Package mcp provides an MCP (Model Context Protocol) surface over the
// memory system, so agent runtimes can search and store memories as tools.
package mcp

import (
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/pkg/memory/lifecycle"
	"github.com/justice-rest/intelmem/pkg/retrieval"
	"github.com/justice-rest/intelmem/pkg/retrieval/pipeline"
)

// Version identifies the MCP server implementation.
const Version = "0.1.0"

// Config holds the dependencies of the MCP server.
type Config struct {
	// Manager applies memory mutations for the remember tool.
	Manager *lifecycle.Manager

	// Engine runs agentic retrieval for the search tool.
	Engine *pipeline.Engine

	// Profiles assembles user profiles for the profile tool.
	Profiles *retrieval.ProfileLoader

	// Logger is the configured zap logger.
	Logger *zap.Logger
}

// Server wraps an MCP server exposing the memory tools.
type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates an MCP server with the memory tools registered.
func NewServer(c Config) (*Server, error) {
	if c.Manager == nil {
		return nil, errors.New("lifecycle manager is required")
	}
	if c.Engine == nil {
		return nil, errors.New("pipeline engine is required")
	}
	if c.Profiles == nil {
		return nil, errors.New("profile loader is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}

	s := &Server{config: c}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "intelmem",
			Version: Version,
		},
		&mcp.ServerOptions{},
	)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        searchToolName,
		Description: searchDescription,
	}, s.handleSearch)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        rememberToolName,
		Description: rememberDescription,
	}, s.handleRemember)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        profileToolName,
		Description: profileDescription,
	}, s.handleProfile)

	s.mcpServer = mcpServer

	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}
