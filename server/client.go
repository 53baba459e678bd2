package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/galaxyproject/galaxy-mcp/instrumentation"
	"github.com/galaxyproject/galaxy-mcp/storage"
)

// Token endpoint authentication method constants (RFC 7591)
const (
	// TokenEndpointAuthMethodNone represents no authentication (public clients)
	TokenEndpointAuthMethodNone = "none"

	// TokenEndpointAuthMethodBasic represents HTTP Basic authentication
	TokenEndpointAuthMethodBasic = "client_secret_basic"

	// TokenEndpointAuthMethodPost represents POST form parameters
	TokenEndpointAuthMethodPost = "client_secret_post"
)

// Grant and response types the provider supports.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	ResponseTypeCode           = "code"
)

var (
	supportedGrantTypes    = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}
	supportedAuthMethods   = []string{TokenEndpointAuthMethodNone, TokenEndpointAuthMethodBasic, TokenEndpointAuthMethodPost}
	supportedResponseTypes = []string{ResponseTypeCode}
)

// ClientRegistration is the client metadata submitted for dynamic registration (RFC 7591).
type ClientRegistration struct {
	ClientName              string
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	TokenEndpointAuthMethod string
	Scope                   string
}

// RegisterClient validates and stores a new client. For confidential clients
// the plaintext secret is returned once; only its bcrypt hash is kept.
func (s *Server) RegisterClient(ctx context.Context, reg ClientRegistration, clientIP string) (*storage.Client, string, error) {
	ctx, span := s.startSpan(ctx, "register_client")
	defer span.End()

	client, err := s.buildClient(reg)
	if err != nil {
		s.Logger.Warn("Client registration rejected", "error", err, "client_ip", clientIP)
		return nil, "", err
	}

	secret, hash, err := generateClientSecret(client.ClientType)
	if err != nil {
		return nil, "", err
	}
	client.ClientSecretHash = hash
	instrumentation.AddClientAttributes(span, client.ClientID, client.ClientType)

	if err := s.clients.SaveClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("failed to save client: %w", err)
	}

	s.Auditor.LogClientRegistered(client.ClientID, client.ClientType, clientIP)
	s.metrics.RecordClientRegistration(ctx, client.ClientType)
	s.Logger.Info("Registered new OAuth client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"client_type", client.ClientType,
		"token_endpoint_auth_method", client.TokenEndpointAuthMethod,
		"client_ip", clientIP)

	return client, secret, nil
}

func (s *Server) buildClient(reg ClientRegistration) (*storage.Client, error) {
	if len(reg.RedirectURIs) == 0 {
		return nil, protocolError(ErrorCodeInvalidRedirectURI, "at least one redirect_uri is required")
	}
	for _, uri := range reg.RedirectURIs {
		if err := validateRedirectURIForRegistration(uri, s.Config.AllowedCustomSchemes); err != nil {
			return nil, protocolError(ErrorCodeInvalidRedirectURI, "%v", err)
		}
	}

	grantTypes := reg.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = supportedGrantTypes
	}
	for _, gt := range grantTypes {
		if !slices.Contains(supportedGrantTypes, gt) {
			return nil, protocolError(ErrorCodeInvalidClientMeta, "unsupported grant_type: %s", gt)
		}
	}

	responseTypes := reg.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = supportedResponseTypes
	}
	for _, rt := range responseTypes {
		if !slices.Contains(supportedResponseTypes, rt) {
			return nil, protocolError(ErrorCodeInvalidClientMeta, "unsupported response_type: %s", rt)
		}
	}

	// RFC 7591 Section 2: an omitted method means client_secret_basic
	authMethod := reg.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = TokenEndpointAuthMethodBasic
	}
	if !slices.Contains(supportedAuthMethods, authMethod) {
		return nil, protocolError(ErrorCodeInvalidClientMeta, "unsupported token_endpoint_auth_method: %s", authMethod)
	}
	clientType := storage.ClientTypePublic
	if authMethod != TokenEndpointAuthMethodNone {
		clientType = storage.ClientTypeConfidential
	}

	scope := strings.Join(s.Config.RequiredScopes, " ")
	if reg.Scope != "" {
		if _, err := s.resolveScopes(strings.Fields(reg.Scope)); err != nil {
			return nil, protocolError(ErrorCodeInvalidClientMeta, "%v", err)
		}
		scope = strings.Join(strings.Fields(reg.Scope), " ")
	}

	return &storage.Client{
		ClientID:                uuid.NewString(),
		ClientIDIssuedAt:        s.now().Unix(),
		ClientName:              reg.ClientName,
		ClientType:              clientType,
		GrantTypes:              slices.Clone(grantTypes),
		RedirectURIs:            slices.Clone(reg.RedirectURIs),
		ResponseTypes:           slices.Clone(responseTypes),
		Scope:                   scope,
		TokenEndpointAuthMethod: authMethod,
	}, nil
}

// generateClientSecret generates a secret for confidential clients.
func generateClientSecret(clientType string) (string, string, error) {
	if clientType != storage.ClientTypeConfidential {
		return "", "", nil
	}

	clientSecret := oauth2.GenerateVerifier()
	hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return clientSecret, string(hash), nil
}

// GetClient returns a registered client, or storage.ErrClientNotFound.
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.clients.GetClient(ctx, clientID)
}

// AuthenticateClient resolves clientID and, for confidential clients, checks
// the secret. Any failure is reported as invalid_client.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret, clientIP string) (*storage.Client, error) {
	if clientID == "" {
		return nil, protocolError(ErrorCodeInvalidClient, "client_id is required")
	}

	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		if !errors.Is(err, storage.ErrClientNotFound) {
			s.Logger.Error("Failed to load client", "client_id", clientID, "error", err)
		}
		s.Auditor.LogAuthFailure(clientID, clientIP, "unknown_client")
		return nil, protocolError(ErrorCodeInvalidClient, "client authentication failed")
	}

	if client.IsPublic() {
		return client, nil
	}

	if clientSecret == "" ||
		bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)) != nil {
		s.Auditor.LogAuthFailure(clientID, clientIP, "invalid_client_secret")
		return nil, protocolError(ErrorCodeInvalidClient, "client authentication failed")
	}
	return client, nil
}
