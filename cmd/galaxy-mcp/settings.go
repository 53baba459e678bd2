package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	oauth "github.com/galaxyproject/galaxy-mcp"
	"github.com/galaxyproject/galaxy-mcp/internal/app"
)

// Environment variables read by serve.
const (
	envGalaxyURL      = "GALAXY_URL"
	envGalaxyAPIKey   = "GALAXY_API_KEY"
	envPublicURL      = "GALAXY_MCP_PUBLIC_URL"
	envSessionSecret  = "GALAXY_MCP_SESSION_SECRET"
	envClientRegistry = "GALAXY_MCP_CLIENT_REGISTRY"
	envHost           = "GALAXY_MCP_HOST"
	envPort           = "GALAXY_MCP_PORT"
	envTransport      = "GALAXY_MCP_TRANSPORT"
	envValkeyAddr     = "GALAXY_MCP_VALKEY_ADDR"
	envValkeyPassword = "GALAXY_MCP_VALKEY_PASSWORD"
)

const (
	defaultHost = "0.0.0.0"
	defaultPort = 8000
)

// settings is the serve configuration. Values are resolved in order
// default, YAML file, environment, command-line flag; later sources win.
type settings struct {
	GalaxyURL       string `yaml:"galaxy_url"`
	GalaxyAPIKey    string `yaml:"galaxy_api_key"`
	PublicURL       string `yaml:"public_url"`
	SessionSecret   string `yaml:"session_secret"`
	ClientRegistry  string `yaml:"client_registry"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Transport       string `yaml:"transport"`
	ValkeyAddr      string `yaml:"valkey_addr"`
	ValkeyPassword  string `yaml:"valkey_password"`
	LogFormat       string `yaml:"log_format"`
	Debug           bool   `yaml:"debug"`
	Instrumentation bool   `yaml:"instrumentation"`

	RateLimit rateLimitSettings `yaml:"rate_limit"`
	Security  securitySettings  `yaml:"security"`
}

type rateLimitSettings struct {
	LoginPerMinute       int  `yaml:"login_per_minute"`
	LoginBurst           int  `yaml:"login_burst"`
	RegistrationsPerHour int  `yaml:"registrations_per_hour"`
	RegistrationBurst    int  `yaml:"registration_burst"`
	TrustProxy           bool `yaml:"trust_proxy"`
	TrustedProxyCount    int  `yaml:"trusted_proxy_count"`
}

type securitySettings struct {
	AuditLogging              bool     `yaml:"audit_logging"`
	AllowedCustomSchemes      []string `yaml:"allowed_custom_schemes"`
	RegistrationAccessToken   string   `yaml:"registration_access_token"`
	DisableClientRegistration bool     `yaml:"disable_client_registration"`
}

func defaultSettings() settings {
	return settings{
		Host:      defaultHost,
		Port:      defaultPort,
		Transport: app.TransportStreamableHTTP,
		LogFormat: "text",
	}
}

// resolveSettings layers the settings file at path (if any), the environment
// and the flags marked changed over the defaults.
func resolveSettings(path string, flags settings, changed func(string) bool, getenv func(string) string) (settings, error) {
	s := defaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return settings{}, fmt.Errorf("failed to read settings file: %w", err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return settings{}, fmt.Errorf("error loading settings from %s: %w", path, err)
		}
	}

	if err := s.applyEnv(getenv); err != nil {
		return settings{}, err
	}
	s.applyFlags(flags, changed)
	return s, nil
}

func (s *settings) applyEnv(getenv func(string) string) error {
	for name, dst := range map[string]*string{
		envGalaxyURL:      &s.GalaxyURL,
		envGalaxyAPIKey:   &s.GalaxyAPIKey,
		envPublicURL:      &s.PublicURL,
		envSessionSecret:  &s.SessionSecret,
		envClientRegistry: &s.ClientRegistry,
		envHost:           &s.Host,
		envTransport:      &s.Transport,
		envValkeyAddr:     &s.ValkeyAddr,
		envValkeyPassword: &s.ValkeyPassword,
	} {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}

	if v := getenv(envPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", envPort, v, err)
		}
		s.Port = port
	}
	return nil
}

func (s *settings) applyFlags(flags settings, changed func(string) bool) {
	strs := []struct {
		flag string
		dst  *string
		src  string
	}{
		{"galaxy-url", &s.GalaxyURL, flags.GalaxyURL},
		{"galaxy-api-key", &s.GalaxyAPIKey, flags.GalaxyAPIKey},
		{"public-url", &s.PublicURL, flags.PublicURL},
		{"session-secret", &s.SessionSecret, flags.SessionSecret},
		{"client-registry", &s.ClientRegistry, flags.ClientRegistry},
		{"host", &s.Host, flags.Host},
		{"transport", &s.Transport, flags.Transport},
		{"valkey-addr", &s.ValkeyAddr, flags.ValkeyAddr},
		{"log-format", &s.LogFormat, flags.LogFormat},
	}
	for _, f := range strs {
		if changed(f.flag) {
			*f.dst = f.src
		}
	}

	if changed("port") {
		s.Port = flags.Port
	}
	if changed("debug") {
		s.Debug = flags.Debug
	}
	if changed("instrumentation") {
		s.Instrumentation = flags.Instrumentation
	}
}

func (s settings) validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range", s.Port)
	}
	if s.Transport != app.TransportStreamableHTTP && s.Transport != app.TransportStdio {
		return fmt.Errorf("unknown transport %q (want %s or %s)", s.Transport, app.TransportStreamableHTTP, app.TransportStdio)
	}
	return nil
}

// appConfig converts the settings into the application configuration.
func (s settings) appConfig(version string, logger *slog.Logger) app.Config {
	return app.Config{
		Transport:             s.Transport,
		Host:                  s.Host,
		Port:                  s.Port,
		GalaxyURL:             s.GalaxyURL,
		GalaxyAPIKey:          s.GalaxyAPIKey,
		PublicURL:             s.PublicURL,
		SessionSecret:         s.SessionSecret,
		ClientRegistryPath:    s.ClientRegistry,
		ValkeyAddr:            s.ValkeyAddr,
		ValkeyPassword:        s.ValkeyPassword,
		Version:               version,
		EnableInstrumentation: s.Instrumentation,
		OAuth: oauth.Config{
			RateLimit: oauth.RateLimitConfig{
				LoginPerMinute:       s.RateLimit.LoginPerMinute,
				LoginBurst:           s.RateLimit.LoginBurst,
				RegistrationsPerHour: s.RateLimit.RegistrationsPerHour,
				RegistrationBurst:    s.RateLimit.RegistrationBurst,
				TrustProxy:           s.RateLimit.TrustProxy,
				TrustedProxyCount:    s.RateLimit.TrustedProxyCount,
			},
			Security: oauth.SecurityConfig{
				EnableAuditLogging:        s.Security.AuditLogging,
				AllowedCustomSchemes:      s.Security.AllowedCustomSchemes,
				RegistrationAccessToken:   s.Security.RegistrationAccessToken,
				DisableClientRegistration: s.Security.DisableClientRegistration,
			},
		},
		Logger: logger,
	}
}
