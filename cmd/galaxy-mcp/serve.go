package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/galaxyproject/galaxy-mcp/internal/app"
)

// serveFlags holds the values of the serve command's flags. Only flags set
// on the command line override the environment and the settings file.
var serveFlags settings

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Galaxy MCP server",
		Long: `Starts the MCP server on the configured transport.

Settings are read from, in increasing priority: built-in defaults, the YAML file
given by --config, environment variables, and command-line flags.

Environment variables:
  GALAXY_URL                   Galaxy server URL
  GALAXY_API_KEY               API key for the shared session
  GALAXY_MCP_PUBLIC_URL        public URL of this server; enables OAuth
  GALAXY_MCP_SESSION_SECRET    secret used to seal tokens
  GALAXY_MCP_CLIENT_REGISTRY   path of the registered clients file
  GALAXY_MCP_HOST              listen host
  GALAXY_MCP_PORT              listen port
  GALAXY_MCP_TRANSPORT         streamable-http or stdio
  GALAXY_MCP_VALKEY_ADDR       Valkey address for shared client and login state
  GALAXY_MCP_VALKEY_PASSWORD   Valkey password`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	f := cmd.Flags()
	f.StringVar(&serveFlags.GalaxyURL, "galaxy-url", "", "Galaxy server URL")
	f.StringVar(&serveFlags.GalaxyAPIKey, "galaxy-api-key", "", "Galaxy API key for the shared session")
	f.StringVar(&serveFlags.PublicURL, "public-url", "", "Public URL of this server; enables OAuth on streamable-http")
	f.StringVar(&serveFlags.SessionSecret, "session-secret", "", "Secret used to seal OAuth tokens")
	f.StringVar(&serveFlags.ClientRegistry, "client-registry", "", "Path of the registered OAuth clients file")
	f.StringVar(&serveFlags.Host, "host", defaultHost, "Listen host")
	f.IntVar(&serveFlags.Port, "port", defaultPort, "Listen port")
	f.StringVar(&serveFlags.Transport, "transport", app.TransportStreamableHTTP, "Transport: streamable-http or stdio")
	f.StringVar(&serveFlags.ValkeyAddr, "valkey-addr", "", "Valkey address for clients and pending logins")
	f.StringVar(&serveFlags.LogFormat, "log-format", "text", "Log format: text or json")
	f.BoolVar(&serveFlags.Debug, "debug", false, "Enable debug logging")
	f.BoolVar(&serveFlags.Instrumentation, "instrumentation", false, "Enable OpenTelemetry metrics and tracing")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	s, err := resolveSettings(configPath, serveFlags, cmd.Flags().Changed, os.Getenv)
	if err != nil {
		return err
	}
	if err := s.validate(); err != nil {
		return err
	}

	// stdout carries the stdio transport, so logs always go to stderr
	logger, err := newLogger(s.LogFormat, s.Debug, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	application, err := app.New(s.appConfig(rootCmd.Version, logger))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}
