package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rosterhq/roster/pkg/logger"
	"github.com/rosterhq/roster/pkg/presenter"
	"github.com/rosterhq/roster/pkg/registry"
	"github.com/rosterhq/roster/pkg/server"
)

// ServeConfig holds configuration for the serve command
type ServeConfig struct {
	Host string
	Port int
}

// NewServeConfig creates a new ServeConfig with default values
func NewServeConfig() *ServeConfig {
	return &ServeConfig{
		Host: "localhost",
		Port: 8421,
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent lifecycle API server",
	Long: `Start a local HTTP server exposing the agent registry, dependency
resolution, and session lifecycle as a JSON API. Definition and resource
files are watched while serving, so edits take effect without a restart.

The server will be available at http://localhost:8421 by default.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getServeConfigFromFlags(cmd)
		runServeCommand(ctx, config)
	},
}

func init() {
	// Add serve command flags
	defaults := NewServeConfig()
	serveCmd.Flags().String("host", defaults.Host, "Host to bind the API server to")
	serveCmd.Flags().Int("port", defaults.Port, "Port to bind the API server to")
}

// getServeConfigFromFlags extracts serve configuration from command flags
func getServeConfigFromFlags(cmd *cobra.Command) *ServeConfig {
	config := NewServeConfig()

	if host, err := cmd.Flags().GetString("host"); err == nil {
		config.Host = host
	}
	if port, err := cmd.Flags().GetInt("port"); err == nil {
		config.Port = port
	}

	return config
}

// validateServeConfig validates the serve configuration
func validateServeConfig(config *ServeConfig) error {
	if config.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	// Check if host is a valid hostname or IP address
	if config.Host != "localhost" && config.Host != "0.0.0.0" {
		if ip := net.ParseIP(config.Host); ip == nil {
			// Not an IP, check if it's a valid hostname
			if strings.Contains(config.Host, " ") || strings.Contains(config.Host, ":") {
				return fmt.Errorf("invalid host: %s", config.Host)
			}
		}
	}

	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", config.Port)
	}

	// Check for privileged ports
	if config.Port < 1024 {
		logger.G(context.Background()).WithField("port", config.Port).Warn("using privileged port (< 1024) may require elevated permissions")
	}

	return nil
}

// runServeCommand starts the lifecycle API server
func runServeCommand(ctx context.Context, config *ServeConfig) {
	if err := validateServeConfig(config); err != nil {
		presenter.Error(err, "invalid server configuration")
		os.Exit(1)
	}

	logger.G(ctx).WithFields(map[string]interface{}{
		"host": config.Host,
		"port": config.Port,
	}).Info("Starting agent lifecycle API server")

	reg, err := openRegistry(ctx)
	if err != nil {
		presenter.Error(err, "failed to initialize agent registry")
		os.Exit(1)
	}

	res, err := newResolver()
	if err != nil {
		presenter.Error(err, "failed to initialize dependency resolver")
		os.Exit(1)
	}

	mgr, err := newSessionManager(ctx, reg)
	if err != nil {
		presenter.Error(err, "failed to initialize activation manager")
		os.Exit(1)
	}

	// Restore sessions persisted by earlier invocations
	restored, err := mgr.LoadState(ctx)
	if err != nil {
		presenter.Error(err, "failed to load session state")
		os.Exit(1)
	}
	if restored > 0 {
		logger.G(ctx).WithField("sessions", restored).Info("restored persisted sessions")
	}

	// Create a context that cancels on interrupt signals
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := mgr.StartSweeper(ctx); err != nil {
		presenter.Error(err, "failed to start session sweeper")
		os.Exit(1)
	}

	// Watch definition and resource files so edits take effect live.
	// Edited definitions also reset the agent's recovery circuit.
	watcher, err := registry.NewWatcher(ctx, reg, res, registry.WithChangeListener(mgr.DefinitionChanged))
	if err != nil {
		logger.G(ctx).WithError(err).Warn("file watching unavailable, definitions will not hot reload")
	} else {
		defer watcher.Close()
		go func() {
			if watchErr := watcher.Watch(ctx); watchErr != nil {
				logger.G(ctx).WithError(watchErr).Error("definition watcher stopped")
			}
		}()
	}

	srv, err := server.New(&server.Config{Host: config.Host, Port: config.Port}, reg, res, mgr)
	if err != nil {
		presenter.Error(err, "failed to create API server")
		os.Exit(1)
	}
	// Close shuts the activation manager down, which persists session
	// state before deactivating.
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			logger.G(ctx).WithError(closeErr).Error("failed to close API server")
		}
	}()

	presenter.Success(fmt.Sprintf("API server starting on http://%s:%d", config.Host, config.Port))
	presenter.Info("Press Ctrl+C to stop the server")

	// Start server and wait for shutdown
	if err := srv.Start(ctx); err != nil {
		logger.G(ctx).WithError(err).Error("API server error")
		presenter.Error(err, "API server failed")
		os.Exit(1)
	}

	presenter.Info("API server stopped")
}
