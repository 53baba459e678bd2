package oauth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/galaxyproject/galaxy-mcp/instrumentation"
	"github.com/galaxyproject/galaxy-mcp/storage"
)

// Config configures the Galaxy OAuth provider. Only BaseURL and GalaxyURL
// are required; rate limiting and security options live in their own
// sub-structs.
type Config struct {
	// BaseURL is the public URL of the MCP server, including any path it is
	// mounted under (e.g. https://example.org/galaxy). It is the issuer and the
	// base of every endpoint URL. Required.
	BaseURL string

	// GalaxyURL is the Galaxy server users sign in to. Required.
	GalaxyURL string

	// RequiredScopes are granted by default and required on every access token.
	// Default: ["galaxy:full"]
	RequiredScopes []string

	// SessionSecret derives the key that seals codes and tokens. When empty a
	// random key is generated and every token is lost on restart.
	SessionSecret string

	// ClientRegistryPath persists dynamically registered clients to a JSON
	// file. Ignored when ClientStore is set.
	ClientRegistryPath string

	// ClientStore overrides the client registry backend (e.g. valkey).
	ClientStore storage.ClientStore

	// TransactionStore overrides the pending authorization backend (e.g. valkey).
	// Default: in-memory store with a TTL sweep.
	TransactionStore storage.TransactionStore

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// HTTPClient is used for calls to Galaxy during login.
	// If not provided, a client with galaxy.DefaultTimeout is used.
	HTTPClient *http.Client

	// Instrumentation enables OpenTelemetry spans and metrics (optional)
	Instrumentation *instrumentation.Instrumentation

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Security settings (secure by default)
	Security SecurityConfig
}

// RateLimitConfig holds per-IP rate limiting for the login form and client registration
type RateLimitConfig struct {
	// LoginPerMinute is the sustained number of login POSTs allowed per IP.
	// Default: 10. Negative disables login rate limiting.
	LoginPerMinute int

	// LoginBurst is the number of login POSTs an IP may send at once.
	// Default: 5
	LoginBurst int

	// RegistrationsPerHour is the sustained number of client registrations per IP.
	// Default: 20. Negative disables registration rate limiting.
	RegistrationsPerHour int

	// RegistrationBurst is the number of registrations an IP may send at once.
	// Default: 5
	RegistrationBurst int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of this server.
	// Default: 1
	TrustedProxyCount int
}

// SecurityConfig holds OAuth security settings
type SecurityConfig struct {
	// EnableAuditLogging enables security audit logging.
	// Logs auth events, token operations, and violations (sensitive data hashed).
	EnableAuditLogging bool

	// AllowedCustomSchemes lists allowed custom URI scheme regex patterns for
	// native client redirect URIs. Default: RFC 3986 compliant schemes.
	AllowedCustomSchemes []string

	// RegistrationAccessToken, when set, must be presented as a Bearer token
	// to register clients.
	RegistrationAccessToken string

	// DisableClientRegistration turns off the registration endpoint. Clients
	// must then be provisioned in the client store.
	DisableClientRegistration bool
}

const (
	defaultLoginPerMinute       = 10
	defaultLoginBurst           = 5
	defaultRegistrationsPerHour = 20
	defaultRegistrationBurst    = 5
)

func (c *RateLimitConfig) applyDefaults() {
	if c.LoginPerMinute == 0 {
		c.LoginPerMinute = defaultLoginPerMinute
	}
	if c.LoginBurst <= 0 {
		c.LoginBurst = defaultLoginBurst
	}
	if c.RegistrationsPerHour == 0 {
		c.RegistrationsPerHour = defaultRegistrationsPerHour
	}
	if c.RegistrationBurst <= 0 {
		c.RegistrationBurst = defaultRegistrationBurst
	}
}

// every converts "n per period" into the interval between events.
func every(n int, period time.Duration) time.Duration {
	return period / time.Duration(n)
}
