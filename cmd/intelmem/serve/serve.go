// Package servecmder provides the serve command running the memory API and
// MCP server.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/api"
	"github.com/justice-rest/intelmem/api/mcp"
	"github.com/justice-rest/intelmem/cmd/intelmem/compose"
	"github.com/justice-rest/intelmem/pkg/config"
	"github.com/justice-rest/intelmem/pkg/logger"
)

const serveLongDesc string = `Run the intelmem server.

Serves the memory HTTP API and, under /mcp, the MCP tool surface
(memory_search, memory_remember, memory_profile).`

const serveShortDesc string = "Run the memory API and MCP server"

type ServeCommander struct {
	listen string
	debug  bool
	logger *zap.Logger
}

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			configDir, err := cmd.Flags().GetString("config")
			if err != nil {
				return fmt.Errorf("could not get config flag: %v", err)
			}
			return cmder.run(configDir)
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address for the API server to listen on")

	return cmd
}

func (c *ServeCommander) run(configDir string) error {
	v, err := config.InitViper(configDir)
	if err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if c.listen != "" {
		cfg.API.Listen = c.listen
	}
	if c.debug {
		cfg.Debug = true
	}

	c.logger = logger.NewLogger(cfg.Debug)
	defer c.logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	system, err := compose.Build(ctx, cfg, c.logger)
	if err != nil {
		return err
	}
	defer system.Close()

	system.Cache.Start()
	defer system.Cache.Stop()

	apiServer := api.NewServer(api.Config{
		ListenAddr:    cfg.API.Listen,
		AccessBoost:   cfg.Lifecycle.AccessBoost,
		MaxImportance: cfg.Lifecycle.MaxImportance,
	}, system.Manager, system.Engine, system.Profiles, c.logger)

	mcpServer, err := mcp.NewServer(mcp.Config{
		Manager:  system.Manager,
		Engine:   system.Engine,
		Profiles: system.Profiles,
		Logger:   c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}
	apiServer.Mount("/mcp", mcpServer.Handler())

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return apiServer.Shutdown()
	}
}
