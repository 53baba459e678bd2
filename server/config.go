package server

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/galaxyproject/galaxy-mcp/internal/util"
)

// Well-known paths served by the provider.
const (
	LoginPath                       = "/galaxy-auth/login"
	ResourceMetadataPath            = "/.well-known/oauth-protected-resource"
	AuthorizationServerMetadataPath = "/.well-known/oauth-authorization-server"
	AuthorizePath                   = "/authorize"
	TokenPath                       = "/token"
	RegisterPath                    = "/register"
	RevokePath                      = "/revoke"
)

// DefaultScope is the single scope granting full access to the user's Galaxy account.
const DefaultScope = "galaxy:full"

const defaultTrustedProxyCount = 1

// Config holds OAuth server configuration
type Config struct {
	// BaseURL is the public URL of this server, including any mount prefix.
	// It is the issuer and the base of the login URL.
	BaseURL string

	// GalaxyURL is the Galaxy server users sign in to. It is the protected resource.
	GalaxyURL string

	// RequiredScopes are granted when a request names none and bound the
	// scopes a client may request. Default: ["galaxy:full"]
	RequiredScopes []string

	// AllowedCustomSchemes is a list of allowed custom URI scheme patterns (regex)
	// for native client redirect URIs (e.g., myapp://).
	// Default: ["^[a-z][a-z0-9+.-]*$"] (RFC 3986 compliant schemes)
	AllowedCustomSchemes []string

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable if behind a trusted reverse proxy (nginx, HAProxy, etc.)
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this server.
	// Default: 1
	TrustedProxyCount int
}

// applyDefaults fills in unset fields.
func (c *Config) applyDefaults(logger *slog.Logger) {
	if len(c.RequiredScopes) == 0 {
		c.RequiredScopes = []string{DefaultScope}
	} else {
		c.RequiredScopes = append([]string(nil), c.RequiredScopes...)
	}
	if c.TrustedProxyCount <= 0 {
		c.TrustedProxyCount = defaultTrustedProxyCount
	}
	c.BaseURL = util.NormalizeURL(strings.TrimSpace(c.BaseURL))

	if c.TrustProxy {
		logger.Warn("SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"trusted_proxy_count", c.TrustedProxyCount)
	}
}

// Validate checks that the configuration can serve the OAuth flow.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if err := validateAbsoluteURL("base URL", c.BaseURL); err != nil {
		return err
	}
	if c.GalaxyURL == "" {
		return fmt.Errorf("galaxy URL is required")
	}
	if err := validateAbsoluteURL("galaxy URL", c.GalaxyURL); err != nil {
		return err
	}
	for _, scope := range c.RequiredScopes {
		if scope == "" || strings.ContainsAny(scope, " \t\n") {
			return fmt.Errorf("invalid scope %q", scope)
		}
	}
	return nil
}

func validateAbsoluteURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if u.Scheme != SchemeHTTP && u.Scheme != SchemeHTTPS {
		return fmt.Errorf("%s must use http or https, got %q", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host, got %q", name, raw)
	}
	return nil
}
