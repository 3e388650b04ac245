package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/sandboxd/internal/gateway"
	"github.com/michaelbrown/sandboxd/internal/server"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sandboxd HTTP server",
	Long: `Start the sandboxd HTTP server with REST and WebSocket execution endpoints.

Endpoints:
  POST /api/execute      run a program, answer with its output
  GET  /api/execute/ws   run programs over a WebSocket
  GET  /api/health       slot usage

Examples:
  sandboxd serve
  sandboxd serve --port 9090
  PORT=8080 sandboxd serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(false)
	if err != nil {
		return err
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	gw, workspaces, err := gateway.FromConfig(cfg, logger)
	if err != nil {
		return err
	}
	defer workspaces.Close()

	// Instances left behind by crashed processes.
	if n, err := workspaces.Sweep(); err != nil {
		logger.WithError(err).Warn("workspace sweep failed")
	} else if n > 0 {
		logger.WithField("removed", n).Info("swept stale workspaces")
	}

	srv := server.New(cfg, gw, logger)

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	<-errCh
	return nil
}
