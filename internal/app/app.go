// Package app assembles the Galaxy MCP server: the tool layer, the optional
// OAuth provider and the transport that serves them.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	oauth "github.com/galaxyproject/galaxy-mcp"
	"github.com/galaxyproject/galaxy-mcp/galaxy"
	"github.com/galaxyproject/galaxy-mcp/instrumentation"
	"github.com/galaxyproject/galaxy-mcp/internal/tools"
	"github.com/galaxyproject/galaxy-mcp/security"
	"github.com/galaxyproject/galaxy-mcp/storage/valkey"
)

// Transports
const (
	TransportStreamableHTTP = "streamable-http"
	TransportStdio          = "stdio"
)

// MCPPath is where the streamable HTTP transport is mounted.
const MCPPath = "/mcp"

const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	idleTimeout       = 120 * time.Second
	shutdownTimeout   = 10 * time.Second
	connectTimeout    = 15 * time.Second
)

// Config configures the application.
type Config struct {
	Transport string
	Host      string
	Port      int

	// GalaxyURL is the upstream Galaxy. With GalaxyAPIKey it connects the
	// shared session at startup.
	GalaxyURL    string
	GalaxyAPIKey string

	// PublicURL is the externally visible URL of this server. Setting it
	// enables the OAuth provider on the streamable HTTP transport.
	PublicURL          string
	SessionSecret      string
	ClientRegistryPath string

	// ValkeyAddr, when set, stores clients and transactions in Valkey.
	ValkeyAddr     string
	ValkeyPassword string

	Version string

	// EnableInstrumentation installs the OpenTelemetry SDK providers.
	EnableInstrumentation bool

	// OAuth carries the remaining provider settings (rate limits, security).
	OAuth oauth.Config

	Logger *slog.Logger
}

// App is a configured Galaxy MCP server.
type App struct {
	config Config
	logger *slog.Logger

	session *galaxy.Session
	mcp     *mcpserver.MCPServer
	oauth   *oauth.Server
	store   *valkey.Store
	inst    *instrumentation.Instrumentation
}

// New builds the application. The OAuth provider is created only for the
// HTTP transport with a public URL.
func New(cfg Config) (*App, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportStreamableHTTP
	}
	if cfg.Transport != TransportStreamableHTTP && cfg.Transport != TransportStdio {
		return nil, fmt.Errorf("unknown transport %q (want %s or %s)", cfg.Transport, TransportStreamableHTTP, TransportStdio)
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceVersion: cfg.Version,
		Enabled:        cfg.EnableInstrumentation,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumentation: %w", err)
	}

	a := &App{config: cfg, logger: cfg.Logger, inst: inst}

	clientOpts := []galaxy.Option{galaxy.WithInstrumentation(inst)}
	a.session = galaxy.NewSession(a.logger, clientOpts...)
	a.mcp = tools.NewServer(cfg.Version, tools.Deps{
		Session:       a.session,
		DefaultURL:    cfg.GalaxyURL,
		DefaultAPIKey: cfg.GalaxyAPIKey,
		ClientOptions: clientOpts,
		Logger:        a.logger,
		Metrics:       inst.Metrics(),
	})

	if cfg.Transport == TransportStreamableHTTP && cfg.PublicURL != "" {
		if err := a.initOAuth(); err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *App) initOAuth() error {
	cfg := a.config.OAuth
	cfg.BaseURL = a.config.PublicURL
	cfg.GalaxyURL = a.config.GalaxyURL
	cfg.SessionSecret = a.config.SessionSecret
	cfg.ClientRegistryPath = a.config.ClientRegistryPath
	cfg.Logger = a.logger
	cfg.Instrumentation = a.inst

	if cfg.GalaxyURL == "" {
		return errors.New("a Galaxy URL is required when OAuth is enabled")
	}
	if cfg.SessionSecret == "" {
		a.logger.Warn("No session secret configured; tokens will not survive a restart")
	}

	if a.config.ValkeyAddr != "" {
		store, err := valkey.New(valkey.Config{
			Address:  a.config.ValkeyAddr,
			Password: a.config.ValkeyPassword,
			Logger:   a.logger,
		})
		if err != nil {
			return err
		}
		a.store = store
		cfg.ClientStore = store
		cfg.TransactionStore = store
	}

	srv, err := oauth.New(&cfg)
	if err != nil {
		return fmt.Errorf("failed to create OAuth provider: %w", err)
	}
	a.oauth = srv
	return nil
}

// OAuthEnabled reports whether requests to the MCP endpoint need a bearer token.
func (a *App) OAuthEnabled() bool {
	return a.oauth != nil
}

// Handler returns the HTTP handler. Without OAuth it serves health and the
// MCP endpoint. With OAuth the provider's routes are public and every other
// request, the MCP endpoint included, needs a valid bearer token.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mcp := mcpserver.NewStreamableHTTPServer(a.mcp,
		mcpserver.WithStateLess(true),
		mcpserver.WithHTTPContextFunc(requestContext),
	)

	if a.oauth == nil {
		mux.HandleFunc(oauth.HealthPath, serveHealth)
		mux.Handle(MCPPath, mcp)
		return security.RequestIDMiddleware(mux)
	}

	mux.Handle(MCPPath, mcp)
	if basePath := a.oauth.BasePath(); basePath != "" {
		mux.Handle(basePath+MCPPath, mcp)
	}
	return security.RequestIDMiddleware(a.oauth.PublicRoutes(a.oauth.ValidateToken(mux)))
}

// requestContext carries the validated Galaxy credentials and the request id
// from the HTTP request into tool calls.
func requestContext(ctx context.Context, r *http.Request) context.Context {
	if creds, ok := oauth.CredentialsFromContext(r.Context()); ok {
		ctx = oauth.WithCredentials(ctx, creds)
	}
	if id := security.RequestIDFromContext(r.Context()); id != "" {
		ctx = security.WithRequestID(ctx, id)
	}
	return ctx
}

func serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Addr is the listen address.
func (a *App) Addr() string {
	return net.JoinHostPort(a.config.Host, strconv.Itoa(a.config.Port))
}

// Run connects the shared session when credentials are configured and serves
// the configured transport until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.autoConnect(ctx)

	if a.config.Transport == TransportStdio {
		a.logger.Info("Serving MCP over stdio")
		err := mcpserver.NewStdioServer(a.mcp).Listen(ctx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	ln, err := net.Listen("tcp", a.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is cancelled, then shuts down gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("Serving MCP over streamable HTTP",
			"addr", ln.Addr().String(),
			"path", MCPPath,
			"oauth", a.OAuthEnabled())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		a.logger.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// autoConnect connects the shared session from the configured URL and key.
// A failure is logged; the connect tool can still be used later.
func (a *App) autoConnect(ctx context.Context) {
	if a.config.GalaxyURL == "" || a.config.GalaxyAPIKey == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if _, err := a.session.Connect(ctx, a.config.GalaxyURL, a.config.GalaxyAPIKey); err != nil {
		a.logger.Warn("Could not connect to Galaxy at startup", "galaxy_url", galaxy.NormalizeURL(a.config.GalaxyURL), "error", err)
	}
}

// Session returns the shared Galaxy session.
func (a *App) Session() *galaxy.Session {
	return a.session
}

// Close releases the OAuth provider, the Valkey connection and the
// instrumentation providers.
func (a *App) Close() {
	if a.oauth != nil {
		a.oauth.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.inst != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.inst.Shutdown(ctx); err != nil {
			a.logger.Warn("Failed to shut down instrumentation", "error", err)
		}
	}
}
