package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kronos/internal/config"
	"kronos/internal/gateway"
	"kronos/pkg/logger"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Kronos HTTP gateway",
		Long: `Start the Kronos HTTP gateway.

Endpoints:
  POST   /send_message
  GET    /conversations
  GET    /conversations/{title}/context
  GET    /conversations/{title}/history
  DELETE /conversations/{title}
  GET    /health

Changes to the log level in the config file apply without a restart.`,
		Example: `  # Start with the configured address (default 127.0.0.1:5000)
  kronos serve

  # Listen on all interfaces, port 8080
  kronos serve --host 0.0.0.0 --port 8080`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().String("host", "", "host to bind to (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("CLI context not initialized")
	}

	cfg := cliCtx.Config
	log := cliCtx.Log()

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Gateway.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Gateway.Host = host
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 5000
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}

	mgr, err := cliCtx.Manager()
	if err != nil {
		return err
	}

	srv := gateway.NewServer(cfg.Gateway, mgr, Version)

	if _, statErr := os.Stat(cliCtx.ConfigPath); statErr == nil {
		w, err := gateway.NewWatcher(reloadLogLevel, cliCtx.ConfigPath)
		if err != nil {
			log.Warn().Err(err).Msg("Config watcher unavailable")
		} else if err := w.Start(); err == nil {
			srv.SetWatcher(w)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().
		Str("address", fmt.Sprintf("http://%s", srv.Addr())).
		Msg("Server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		log.Info().Msg("Shutting down server...")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Server error")
			return err
		}
		return nil
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}

// reloadLogLevel re-reads the config file and applies its log level.
// Other settings are bound at startup.
func reloadLogLevel(path string) {
	cfg, err := config.Reload()
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Config reload failed")
		return
	}
	logger.SetLevel(cfg.Log.Level)
	logger.Info().Str("level", cfg.Log.Level).Msg("Config reloaded")
}
