package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/oauth2"

	"github.com/galaxyproject/galaxy-mcp/instrumentation"
	"github.com/galaxyproject/galaxy-mcp/security"
	"github.com/galaxyproject/galaxy-mcp/server"
	"github.com/galaxyproject/galaxy-mcp/storage"
)

const (
	// HealthPath serves liveness checks.
	HealthPath = "/health"

	tokenTypeBearer = "Bearer"

	// maxRegistrationBodySize bounds dynamic client registration payloads
	maxRegistrationBodySize = 64 << 10

	retryAfterSeconds = "60"
)

// Handler is the HTTP adapter for the OAuth provider. It parses requests,
// calls into server.Server and writes RFC-shaped responses.
type Handler struct {
	provider *server.Server
	config   *Config
	logger   *slog.Logger
	tracer   trace.Tracer // OpenTelemetry tracer for HTTP layer
	metrics  *instrumentation.Metrics
	basePath string

	ipResolver          security.ClientIPResolver
	loginLimiter        *security.RateLimiter
	registrationLimiter *security.RateLimiter
}

// NewHandler creates a new HTTP handler. Either limiter may be nil.
func NewHandler(provider *server.Server, config *Config, loginLimiter, registrationLimiter *security.RateLimiter) *Handler {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = provider.Logger
	}

	h := &Handler{
		provider: provider,
		config:   config,
		logger:   logger,
		basePath: BasePathFromURL(provider.Config.BaseURL),
		ipResolver: security.ClientIPResolver{
			TrustProxy:        config.RateLimit.TrustProxy,
			TrustedProxyCount: config.RateLimit.TrustedProxyCount,
		},
		loginLimiter:        loginLimiter,
		registrationLimiter: registrationLimiter,
	}

	// Initialize tracer if instrumentation is enabled
	if provider.Instrumentation != nil {
		h.tracer = provider.Instrumentation.Tracer("http")
		h.metrics = provider.Instrumentation.Metrics()
	}

	return h
}

func (h *Handler) baseURL() string {
	return h.provider.Config.BaseURL
}

func (h *Handler) clientIP(r *http.Request) string {
	return h.ipResolver.ClientIP(r)
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument wraps an endpoint with a span and HTTP metrics.
func (h *Handler) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ctx := r.Context()
		var span trace.Span = tracenoop.Span{}
		if h.tracer != nil {
			ctx, span = h.tracer.Start(ctx, "oauth.http."+endpoint)
			defer span.End()
			r = r.WithContext(ctx)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		instrumentation.AddHTTPAttributes(span, r.Method, endpoint, rec.status)
		h.metrics.RecordHTTPRequest(ctx, r.Method, endpoint, rec.status, float64(time.Since(startTime).Microseconds())/1000)
	}
}

// ServeAuthorization handles OAuth authorization requests. A valid request is
// answered with a redirect to the Galaxy login form.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	clientIP := h.clientIP(r)
	q := r.URL.Query()

	req := server.AuthorizationRequest{
		ClientID:            q.Get("client_id"),
		ResponseType:        q.Get("response_type"),
		RedirectURI:         q.Get("redirect_uri"),
		State:               q.Get("state"),
		Scope:               q.Get("scope"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Resource:            q.Get("resource"), // RFC 8707
	}

	client, params, err := h.provider.ValidateAuthorizationRequest(ctx, req, clientIP)
	if err != nil {
		oauthErr := toOAuthError(err)
		h.logger.Warn("Rejected authorization request",
			"client_id", req.ClientID,
			"ip", clientIP,
			"error", oauthErr.Code,
			"description", oauthErr.Description)

		// Never redirect to a URI we could not validate
		if client == nil || params == nil {
			h.writeError(w, oauthErr.Code, oauthErr.Description, http.StatusBadRequest)
			return
		}
		h.redirectWithError(w, r, params.RedirectURI, oauthErr.Code, oauthErr.Description, params.State)
		return
	}

	loginURL, err := h.provider.Authorize(ctx, client, *params)
	if err != nil {
		h.logger.Error("Failed to start authorization flow", "client_id", client.ClientID, "error", err)
		h.redirectWithError(w, r, params.RedirectURI, ErrorCodeServerError, "Failed to start authorization flow", params.State)
		return
	}

	h.provider.Auditor.LogAuthorizationStarted(client.ClientID, clientIP, params.Scopes)
	h.logger.Debug("Started authorization flow", "client_id", client.ClientID, "ip", clientIP)

	http.Redirect(w, r, loginURL, http.StatusFound)
}

// redirectWithError sends an RFC 6749 Section 4.1.2.1 error response to the client's redirect URI.
func (h *Handler) redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI, code, description, state string) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		h.writeError(w, code, description, http.StatusBadRequest)
		return
	}
	q := u.Query()
	q.Set("error", code)
	if description != "" {
		q.Set("error_description", description)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// ServeToken handles the OAuth token endpoint
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse form data
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	clientIP := h.clientIP(r)
	client, err := h.authenticateClient(r, clientIP)
	if err != nil {
		h.writeOAuthError(w, err)
		return
	}

	grantType := r.PostFormValue("grant_type")
	if grantType != server.GrantTypeAuthorizationCode && grantType != server.GrantTypeRefreshToken {
		h.writeError(w, ErrorCodeUnsupportedGrantType, fmt.Sprintf("Grant type %q not supported", grantType), http.StatusBadRequest)
		return
	}
	if len(client.GrantTypes) > 0 && !slices.Contains(client.GrantTypes, grantType) {
		h.writeOAuthError(w, ErrUnauthorizedClient(fmt.Sprintf("client is not registered for grant type %s", grantType)))
		return
	}

	switch grantType {
	case server.GrantTypeAuthorizationCode:
		h.handleAuthorizationCodeGrant(w, r, client, clientIP)
	case server.GrantTypeRefreshToken:
		h.handleRefreshTokenGrant(w, r, client, clientIP)
	}
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request, client *storage.Client, clientIP string) {
	code := r.PostFormValue("code")
	if code == "" {
		h.writeError(w, ErrorCodeInvalidRequest, "Required parameter 'code' missing", http.StatusBadRequest)
		return
	}

	tok, err := h.provider.ExchangeAuthorizationCode(r.Context(), server.CodeExchange{
		ClientID:     client.ClientID,
		Code:         code,
		CodeVerifier: r.PostFormValue("code_verifier"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
	}, clientIP)
	if err != nil {
		h.logger.Warn("Authorization code exchange failed", "client_id", client.ClientID, "ip", clientIP, "error", err)
		h.writeOAuthError(w, err)
		return
	}

	h.logger.Info("Token exchange successful", "client_id", client.ClientID, "ip", clientIP)
	h.writeTokenResponse(w, tok)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request, client *storage.Client, clientIP string) {
	refreshToken := r.PostFormValue("refresh_token")
	if refreshToken == "" {
		h.writeError(w, ErrorCodeInvalidRequest, "Required parameter 'refresh_token' missing", http.StatusBadRequest)
		return
	}

	scopes := strings.Fields(r.PostFormValue("scope"))
	tok, err := h.provider.ExchangeRefreshToken(r.Context(), client.ClientID, refreshToken, scopes, clientIP)
	if err != nil {
		h.logger.Warn("Refresh token exchange failed", "client_id", client.ClientID, "ip", clientIP, "error", err)
		h.writeOAuthError(w, err)
		return
	}

	h.logger.Debug("Token refreshed", "client_id", client.ClientID, "ip", clientIP)
	h.writeTokenResponse(w, tok)
}

// ServeTokenRevocation handles the RFC 7009 token revocation endpoint.
// Tokens are stateless, so the request is acknowledged and audited only.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}
	if r.PostFormValue("token") == "" {
		h.writeError(w, ErrorCodeInvalidRequest, "token is required", http.StatusBadRequest)
		return
	}

	clientIP := h.clientIP(r)
	client, err := h.authenticateClient(r, clientIP)
	if err != nil {
		h.writeOAuthError(w, err)
		return
	}

	h.provider.RevokeToken(r.Context(), client.ClientID, r.PostFormValue("token_type_hint"), clientIP)

	// Per RFC 7009, return 200 even though nothing was revoked
	security.SetSecurityHeaders(w, h.baseURL())
	w.WriteHeader(http.StatusOK)
}

// ServeClientRegistration handles dynamic client registration (RFC 7591)
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.config.Security.DisableClientRegistration {
		http.NotFound(w, r)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkRateLimit(w, r, h.registrationLimiter, clientIP) {
		h.writeError(w, ErrorCodeRateLimitExceeded, "Too many registration requests. Please try again later.", http.StatusTooManyRequests)
		return
	}

	if !h.validateRegistrationToken(r.Header.Get("Authorization")) {
		h.provider.Auditor.LogAuthFailure("", clientIP, "invalid_registration_token")
		h.writeError(w, ErrorCodeInvalidToken, "Registration access token required", http.StatusUnauthorized)
		return
	}

	var req ClientRegistrationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegistrationBodySize))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, ErrorCodeInvalidClientMetadata, "Invalid JSON in registration request", http.StatusBadRequest)
		return
	}

	client, secret, err := h.provider.RegisterClient(r.Context(), server.ClientRegistration{
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		Scope:                   req.Scope,
	}, clientIP)
	if err != nil {
		h.writeOAuthError(w, err)
		return
	}

	h.writeRegistrationResponse(w, client, secret)
}

// validateRegistrationToken checks the optional registration access token.
func (h *Handler) validateRegistrationToken(authHeader string) bool {
	expected := h.config.Security.RegistrationAccessToken
	if expected == "" {
		return true
	}
	token, ok := bearerToken(authHeader)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// writeRegistrationResponse writes the client registration response.
func (h *Handler) writeRegistrationResponse(w http.ResponseWriter, client *storage.Client, clientSecret string) {
	resp := ClientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            clientSecret,
		ClientIDIssuedAt:        client.ClientIDIssuedAt,
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		ClientName:              client.ClientName,
		Scope:                   client.Scope,
	}
	if clientSecret != "" {
		never := int64(0)
		resp.ClientSecretExpiresAt = &never
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

// ServeAuthorizationServerMetadata serves RFC 8414 metadata
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	md := h.provider.ServerMetadata()
	if h.config.Security.DisableClientRegistration {
		md.RegistrationEndpoint = ""
	}
	h.writeJSON(w, http.StatusOK, md)
}

// ServeProtectedResourceMetadata serves RFC 9728 Protected Resource Metadata
// naming Galaxy as the resource and this server as its authorization server.
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, h.provider.ResourceMetadata())
}

// ServeHealth reports liveness.
func (h *Handler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ValidateToken is middleware that validates bearer access tokens and places
// the caller's Galaxy credentials in the request context.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if authz == "" {
			h.writeAuthenticationRequired(w)
			return
		}
		accessToken, ok := bearerToken(authz)
		if !ok {
			h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Malformed Authorization header")
			return
		}

		creds := h.provider.DecodeAccessToken(r.Context(), accessToken)
		if creds == nil {
			h.logger.Debug("Token validation failed", "ip", h.clientIP(r))
			h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Access token is invalid or expired")
			return
		}

		for _, scope := range h.provider.Config.RequiredScopes {
			if !slices.Contains(creds.Scopes, scope) {
				h.writeInsufficientScopeError(w, h.provider.Config.RequiredScopes)
				return
			}
		}

		if h.tracer != nil {
			trace.SpanFromContext(r.Context()).SetAttributes(attribute.String(instrumentation.AttrClientID, creds.ClientID))
		}

		next.ServeHTTP(w, r.WithContext(WithCredentials(r.Context(), creds)))
	})
}

// bearerToken extracts the token from an "Authorization: Bearer" header value.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// checkRateLimit reports whether clientIP exceeded limiter, recording the
// event. A nil limiter never limits.
func (h *Handler) checkRateLimit(w http.ResponseWriter, r *http.Request, limiter *security.RateLimiter, clientIP string) bool {
	if limiter == nil || limiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "limiter", limiter.Name(), "ip", clientIP, "path", r.URL.Path)
	h.metrics.RecordRateLimitExceeded(r.Context(), limiter.Name())
	h.provider.Auditor.LogRateLimitExceeded(limiter.Name(), clientIP)
	w.Header().Set("Retry-After", retryAfterSeconds)
	return true
}

// authenticateClient resolves the client from HTTP Basic credentials or the
// client_id/client_secret form fields.
func (h *Handler) authenticateClient(r *http.Request, clientIP string) (*storage.Client, error) {
	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")

	if user, pass, ok := r.BasicAuth(); ok {
		// RFC 6749 Section 2.3.1: credentials are form-urlencoded before Basic encoding
		var err error
		if clientID, err = url.QueryUnescape(user); err != nil {
			return nil, ErrInvalidClient("Malformed client credentials")
		}
		if clientSecret, err = url.QueryUnescape(pass); err != nil {
			return nil, ErrInvalidClient("Malformed client credentials")
		}
	}

	if clientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}

	client, err := h.provider.AuthenticateClient(r.Context(), clientID, clientSecret, clientIP)
	if err != nil {
		h.logger.Warn("Client authentication failed", "client_id", clientID, "ip", clientIP)
		return nil, err
	}
	return client, nil
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, tok *oauth2.Token) {
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = tokenTypeBearer
	}
	scope, _ := tok.Extra("scope").(string)

	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  tok.AccessToken,
		TokenType:    tokenType,
		ExpiresIn:    tok.ExpiresIn,
		RefreshToken: tok.RefreshToken,
		Scope:        scope,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w, h.baseURL())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to write response", "error", err)
	}
}

// writeOAuthError maps err onto an OAuth error response.
func (h *Handler) writeOAuthError(w http.ResponseWriter, err error) {
	oauthErr := toOAuthError(err)
	if oauthErr.Code == ErrorCodeServerError {
		var known *OAuthError
		if !errors.As(err, &known) {
			h.logger.Error("Unexpected error in OAuth endpoint", "error", err)
		}
	}
	h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", h.formatWWWAuthenticate("", code, description))
	}
	h.writeJSON(w, status, ErrorResponse{Error: code, ErrorDescription: description})
}

// writeUnauthorizedError writes a 401 pointing the client at the protected
// resource metadata so it can discover this authorization server.
// writeAuthenticationRequired answers a request that carried no credentials
// with a bare challenge and no error code (RFC 6750 section 3.1).
func (h *Handler) writeAuthenticationRequired(w http.ResponseWriter) {
	scope := strings.Join(h.provider.Config.RequiredScopes, " ")
	w.Header().Set("WWW-Authenticate", h.formatWWWAuthenticate(scope, "", ""))
	w.WriteHeader(http.StatusUnauthorized)
}

func (h *Handler) writeUnauthorizedError(w http.ResponseWriter, code, description string) {
	scope := strings.Join(h.provider.Config.RequiredScopes, " ")
	w.Header().Set("WWW-Authenticate", h.formatWWWAuthenticate(scope, code, description))
	h.writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: code, ErrorDescription: description})
}

// writeInsufficientScopeError writes a 403 Forbidden response with insufficient_scope error (RFC 6750 Section 3.1).
func (h *Handler) writeInsufficientScopeError(w http.ResponseWriter, requiredScopes []string) {
	description := "Token lacks a required scope"
	w.Header().Set("WWW-Authenticate", h.formatWWWAuthenticate(strings.Join(requiredScopes, " "), ErrorCodeInsufficientScope, description))
	h.writeJSON(w, http.StatusForbidden, ErrorResponse{Error: ErrorCodeInsufficientScope, ErrorDescription: description})
}

// formatWWWAuthenticate formats the WWW-Authenticate header value per RFC 6750 and RFC 9728
//
// Example output:
//
//	Bearer resource_metadata="https://example.com/.well-known/oauth-protected-resource",
//	       scope="galaxy:full",
//	       error="invalid_token",
//	       error_description="Access token is invalid or expired"
func (h *Handler) formatWWWAuthenticate(scope, errCode, errorDesc string) string {
	params := []string{
		fmt.Sprintf(`resource_metadata=%q`, h.baseURL()+server.ResourceMetadataPath),
	}
	if scope != "" {
		params = append(params, fmt.Sprintf(`scope=%q`, scope))
	}
	if errCode != "" {
		params = append(params, fmt.Sprintf(`error=%q`, errCode))
	}
	if errorDesc != "" {
		// quotes and backslashes would break the quoted-string
		clean := strings.NewReplacer(`"`, "'", `\`, "").Replace(errorDesc)
		params = append(params, fmt.Sprintf(`error_description="%s"`, clean))
	}
	return tokenTypeBearer + " " + strings.Join(params, ", ")
}

// Context key for Galaxy credentials
type contextKey string

const credentialsKey contextKey = "galaxy_credentials"

// CredentialsFromContext returns the Galaxy credentials placed in ctx by ValidateToken.
func CredentialsFromContext(ctx context.Context) (*GalaxyCredentials, bool) {
	creds, ok := ctx.Value(credentialsKey).(*GalaxyCredentials)
	return creds, ok && creds != nil
}

// WithCredentials returns a context carrying creds.
//
// WARNING: outside tests, credentials should only be set by ValidateToken
// after the access token was verified.
func WithCredentials(ctx context.Context, creds *GalaxyCredentials) context.Context {
	return context.WithValue(ctx, credentialsKey, creds)
}
