package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lodestone-mcp/lodestone/internal/config"
	"github.com/lodestone-mcp/lodestone/internal/logging"
	"github.com/lodestone-mcp/lodestone/internal/mcp"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server on the configured transport.

With TRANSPORT=stdio (the default) the server speaks JSON-RPC over
stdin/stdout and logs only to the rotating log file. With
TRANSPORT=http it serves the streamable MCP endpoint at /mcp plus a
/healthz probe.`,
		Example: `  # stdio transport (for MCP client configs)
  lodestone serve

  # http transport
  TRANSPORT=http PORT=8051 lodestone serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return err
	}

	// In stdio mode stdout carries JSON-RPC frames exclusively, so
	// logging must be configured before anything else can print.
	var cleanup func()
	if cfg.Server.IsStdio() {
		cleanup, err = logging.SetupStdioMode(cfg.Logging.Level, cfg.Logging.File)
	} else {
		cleanup, err = logging.SetupHTTPMode(cfg.Logging.Level, cfg.Logging.File)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup failed: %v\n", err)
		return err
	}
	defer cleanup()
	log := slog.Default()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := mcp.NewAppContext(cfg, log)
	if err := app.Init(ctx); err != nil {
		log.Error("startup failed", "error", err)
		if !cfg.Server.IsStdio() {
			fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		}
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		app.Close(closeCtx)
	}()

	server := mcp.NewServer(app)
	if err := server.Serve(ctx); err != nil {
		log.Error("server stopped with error", "error", err)
		return err
	}
	return nil
}
