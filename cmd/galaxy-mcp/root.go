package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// rootCmd is the base command. Running it without a subcommand prints help.
var rootCmd = &cobra.Command{
	Use:   "galaxy-mcp",
	Short: "MCP server for the Galaxy bioinformatics platform",
	Long: `galaxy-mcp exposes a Galaxy server to AI assistants over the Model Context Protocol.

Over streamable HTTP with a public URL configured, users sign in with their
Galaxy username and password through the built-in OAuth authorization server
and every tool call runs with their own Galaxy API key. Without a public URL,
or over stdio, tools use the API key given by GALAXY_API_KEY or the connect tool.`,
	SilenceUsage: true,
}

// configPath is the optional YAML settings file.
var configPath string

// SetVersion sets the version reported by --version and the version command.
func SetVersion(v string) {
	rootCmd.Version = v
}

func init() {
	rootCmd.SetVersionTemplate(`{{printf "galaxy-mcp version %s\n" .Version}}`)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML settings file")
	rootCmd.AddCommand(newServeCmd(), newVersionCmd(), newSecretCmd())
}

// newLogger builds the process logger writing to w. format is "text" or "json".
func newLogger(format string, debug bool, w io.Writer) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
	}

	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}
}
