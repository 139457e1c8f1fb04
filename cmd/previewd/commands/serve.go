package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/previewd/previewd/internal/api"
	"github.com/previewd/previewd/internal/capture"
	"github.com/previewd/previewd/internal/config"
	"github.com/previewd/previewd/internal/logger"
	"github.com/previewd/previewd/internal/monitor"
	"github.com/previewd/previewd/internal/output"
	"github.com/previewd/previewd/internal/platform"
	"github.com/previewd/previewd/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the previewd server",
	Long: `Start the previewd HTTP server.

The server exposes a REST API for monitor discovery and preview session
management, plus live MJPEG streams for each session.`,
	Example: `  # Start server on default port (8080)
  previewd serve

  # Start server on custom port
  previewd serve --port 9090

  # Start with specific config file
  previewd serve --config /path/to/config.yaml

  # Start with debug logging
  previewd serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	cfg := configMgr.Get()
	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			cfg.ServerPort = port
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			cfg.LogLevel = level
		}
	}

	logger.Init(cfg.LogLevel, true)
	log := logger.WithComponent("serve")

	locator, err := monitor.NewLocator()
	if err != nil {
		return fmt.Errorf("failed to connect to display server: %w", err)
	}
	defer locator.Close()

	probes := platform.Detect()
	factory := capture.NewFactory(probes, capture.Options{
		TargetFPS:        cfg.Capture.TargetFPS,
		Adaptive:         cfg.Capture.Adaptive,
		PreferCompositor: cfg.Capture.PreferCompositor,
	})
	sessionMgr := session.NewManager(factory, locator, output.Config{
		JPEGQuality: cfg.Preview.JPEGQuality,
		MaxWidth:    cfg.Preview.MaxWidth,
	})
	defer sessionMgr.Shutdown()

	server := api.NewServer(sessionMgr, configMgr, locator, factory.Guard())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ServerPort)
	}()

	log.Info().
		Int("port", cfg.ServerPort).
		Str("probes", probes.Summary()).
		Msg("previewd is running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigChan:
	}

	log.Info().Msg("Shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
