package oauth

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/galaxyproject/galaxy-mcp/galaxy"
	"github.com/galaxyproject/galaxy-mcp/security"
	"github.com/galaxyproject/galaxy-mcp/server"
	"github.com/galaxyproject/galaxy-mcp/storage"
	"github.com/galaxyproject/galaxy-mcp/storage/file"
	"github.com/galaxyproject/galaxy-mcp/storage/memory"
	"github.com/galaxyproject/galaxy-mcp/token"
)

// Server wires the Galaxy OAuth provider with its stores, rate limiters and
// HTTP handler. It is the entry point for applications embedding the
// provider.
type Server struct {
	provider *server.Server
	handler  *Handler
	config   *Config

	ownedStore          *memory.Store
	loginLimiter        *security.RateLimiter
	registrationLimiter *security.RateLimiter
}

// New creates the OAuth provider described by cfg. Call Close to release
// background goroutines.
func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfgCopy := *cfg
	cfg = &cfgCopy

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger
	cfg.RateLimit.applyDefaults()

	codec, err := token.NewCodecFromSecret(cfg.SessionSecret, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}

	s := &Server{config: cfg}

	transactions := cfg.TransactionStore
	if transactions == nil {
		transactions = s.memoryStore()
	}

	var clients storage.ClientStore
	switch {
	case cfg.ClientStore != nil:
		clients = cfg.ClientStore
	case cfg.ClientRegistryPath != "":
		clients = file.Open(cfg.ClientRegistryPath, logger)
	default:
		clients = s.memoryStore()
	}

	galaxyClient := galaxy.NewClient(cfg.GalaxyURL, "",
		galaxy.WithHTTPClient(cfg.HTTPClient),
		galaxy.WithInstrumentation(cfg.Instrumentation))

	provider, err := server.New(codec, transactions, clients, galaxyClient, &server.Config{
		BaseURL:              cfg.BaseURL,
		GalaxyURL:            cfg.GalaxyURL,
		RequiredScopes:       cfg.RequiredScopes,
		AllowedCustomSchemes: cfg.Security.AllowedCustomSchemes,
		TrustProxy:           cfg.RateLimit.TrustProxy,
		TrustedProxyCount:    cfg.RateLimit.TrustedProxyCount,
	}, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	provider.SetAuditor(security.NewAuditor(logger, cfg.Security.EnableAuditLogging))
	provider.SetInstrumentation(cfg.Instrumentation)

	if cfg.RateLimit.LoginPerMinute > 0 {
		s.loginLimiter = security.NewRateLimiter(security.RateLimiterConfig{
			Name:  "login",
			Limit: rate.Every(every(cfg.RateLimit.LoginPerMinute, time.Minute)),
			Burst: cfg.RateLimit.LoginBurst,
		}, logger)
	}
	if cfg.RateLimit.RegistrationsPerHour > 0 {
		s.registrationLimiter = security.NewRateLimiter(security.RateLimiterConfig{
			Name:  "registration",
			Limit: rate.Every(every(cfg.RateLimit.RegistrationsPerHour, time.Hour)),
			Burst: cfg.RateLimit.RegistrationBurst,
		}, logger)
	}

	s.provider = provider
	s.handler = NewHandler(provider, cfg, s.loginLimiter, s.registrationLimiter)

	logger.Info("Galaxy OAuth provider ready",
		"base_url", provider.Config.BaseURL,
		"galaxy_url", provider.GalaxyURL(),
		"scopes", provider.Config.RequiredScopes,
		"client_registration", !cfg.Security.DisableClientRegistration)

	return s, nil
}

// memoryStore returns the in-memory store owned by this server, creating it
// on first use.
func (s *Server) memoryStore() *memory.Store {
	if s.ownedStore == nil {
		s.ownedStore = memory.New()
		s.ownedStore.SetLogger(s.config.Logger)
		s.ownedStore.SetInstrumentation(s.config.Instrumentation)
	}
	return s.ownedStore
}

// Provider returns the protocol layer.
func (s *Server) Provider() *server.Server {
	return s.provider
}

// Handler returns the HTTP handler.
func (s *Server) Handler() *Handler {
	return s.handler
}

// BasePath returns the prefix the server is mounted under.
func (s *Server) BasePath() string {
	return s.handler.basePath
}

// Routes returns every route the provider serves.
func (s *Server) Routes() []Route {
	return s.handler.Routes()
}

// RegisterRoutes registers every route on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	s.handler.RegisterRoutes(mux)
}

// PublicRoutes serves every provider route without a token and hands the
// rest to next.
func (s *Server) PublicRoutes(next http.Handler) http.Handler {
	return s.handler.PublicRoutes(next)
}

// ValidateToken requires a valid access token before calling next.
func (s *Server) ValidateToken(next http.Handler) http.Handler {
	return s.handler.ValidateToken(next)
}

// Close stops the rate limiters and the in-memory store if this server created it.
func (s *Server) Close() {
	if s.loginLimiter != nil {
		s.loginLimiter.Stop()
	}
	if s.registrationLimiter != nil {
		s.registrationLimiter.Stop()
	}
	if s.ownedStore != nil {
		if n := s.ownedStore.TransactionCount(); n > 0 {
			s.config.Logger.Info("Discarding pending authorizations", "count", n)
		}
		s.ownedStore.Stop()
	}
}
