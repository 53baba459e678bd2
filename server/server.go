package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/galaxyproject/galaxy-mcp/galaxy"
	"github.com/galaxyproject/galaxy-mcp/instrumentation"
	"github.com/galaxyproject/galaxy-mcp/security"
	"github.com/galaxyproject/galaxy-mcp/storage"
	"github.com/galaxyproject/galaxy-mcp/token"
)

// Server implements the stateless Galaxy OAuth provider. Pending
// authorizations live in the transaction store and registered clients in the
// client store; every code and token it hands out is a sealed claims payload.
type Server struct {
	issuer       *token.Issuer
	transactions storage.TransactionStore
	clients      storage.ClientStore
	galaxy       *galaxy.Client

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	metrics         *instrumentation.Metrics

	Logger *slog.Logger
	Config *Config

	now func() time.Time
}

// New creates a new OAuth server. galaxyClient is used unauthenticated for
// logins; its URL must match config.GalaxyURL.
func New(
	codec *token.Codec,
	transactions storage.TransactionStore,
	clients storage.ClientStore,
	galaxyClient *galaxy.Client,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if codec == nil {
		return nil, fmt.Errorf("token codec is required")
	}
	if transactions == nil {
		return nil, fmt.Errorf("transaction store is required")
	}
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config.applyDefaults(logger)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	if galaxyClient == nil {
		galaxyClient = galaxy.NewClient(config.GalaxyURL, "")
	}

	return &Server{
		issuer:       token.NewIssuer(codec),
		transactions: transactions,
		clients:      clients,
		galaxy:       galaxyClient,
		Logger:       logger,
		Config:       config,
		now:          time.Now,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation enables spans and metrics for protocol operations.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("server")
		s.metrics = inst.Metrics()
	}
}

// GalaxyURL returns the normalized Galaxy URL, ending in "/".
func (s *Server) GalaxyURL() string {
	return s.galaxy.URL()
}

// Issuer returns the token issuer.
func (s *Server) Issuer() *token.Issuer {
	return s.issuer
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, tracenoop.Span{}
	}
	return s.tracer.Start(ctx, "oauth."+name)
}
