package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/galaxyproject/galaxy-mcp/galaxy"
	"github.com/galaxyproject/galaxy-mcp/instrumentation"
	"github.com/galaxyproject/galaxy-mcp/internal/util"
	"github.com/galaxyproject/galaxy-mcp/storage"
	"github.com/galaxyproject/galaxy-mcp/token"
)

// AuthorizationParams are the validated parameters of an authorization request.
type AuthorizationParams struct {
	RedirectURI                   string
	RedirectURIProvidedExplicitly bool
	State                         string
	Scopes                        []string
	CodeChallenge                 string
	CodeChallengeMethod           string
	Resource                      string
}

// AuthorizationRequest is an authorization request as received.
type AuthorizationRequest struct {
	ClientID            string
	ResponseType        string
	RedirectURI         string
	State               string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	Resource            string
}

// ValidateAuthorizationRequest resolves the client and checks an authorization
// request. The redirect URI is validated before anything else that could be
// reported back to it; callers must not redirect when the returned client or
// params are nil.
func (s *Server) ValidateAuthorizationRequest(ctx context.Context, req AuthorizationRequest, clientIP string) (*storage.Client, *AuthorizationParams, error) {
	if req.ClientID == "" {
		return nil, nil, protocolError(ErrorCodeInvalidRequest, "client_id is required")
	}
	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		s.Auditor.LogAuthFailure(req.ClientID, clientIP, ErrorCodeInvalidClient)
		return nil, nil, protocolError(ErrorCodeInvalidRequest, "unknown client_id")
	}

	redirectURI, explicit, err := resolveRedirectURI(client, req.RedirectURI)
	if err != nil {
		s.Auditor.LogInvalidRedirect(req.ClientID, clientIP, req.RedirectURI)
		return nil, nil, protocolError(ErrorCodeInvalidRequest, "%v", err)
	}

	params := &AuthorizationParams{
		RedirectURI:                   redirectURI,
		RedirectURIProvidedExplicitly: explicit,
		State:                         req.State,
		CodeChallenge:                 req.CodeChallenge,
		CodeChallengeMethod:           req.CodeChallengeMethod,
		Resource:                      req.Resource,
	}

	if req.ResponseType != ResponseTypeCode {
		return client, params, protocolError(ErrorCodeUnsupportedResType, "response_type must be %q", ResponseTypeCode)
	}
	if req.CodeChallenge == "" {
		s.Auditor.LogAuthFailure(req.ClientID, clientIP, "missing_pkce_parameters")
		return client, params, protocolError(ErrorCodeInvalidRequest, "code_challenge is required")
	}
	if params.CodeChallengeMethod == "" {
		params.CodeChallengeMethod = PKCEMethodS256
	}
	if params.CodeChallengeMethod != PKCEMethodS256 {
		s.metrics.RecordPKCEValidationFailed(ctx, params.CodeChallengeMethod)
		return client, params, protocolError(ErrorCodeInvalidRequest, "unsupported code_challenge_method: %s (supported: S256)", params.CodeChallengeMethod)
	}

	scopes, err := s.resolveScopes(strings.Fields(req.Scope))
	if err != nil {
		return client, params, protocolError(ErrorCodeInvalidScope, "%v", err)
	}
	if client.Scope != "" {
		allowed := strings.Fields(client.Scope)
		for _, scope := range scopes {
			if !slices.Contains(allowed, scope) {
				return client, params, protocolError(ErrorCodeInvalidScope, "client is not authorized for one or more requested scopes")
			}
		}
	}
	params.Scopes = scopes

	return client, params, nil
}

// Authorize records a pending transaction for client and returns the login
// URL the user agent is sent to. It does not block on the user.
func (s *Server) Authorize(ctx context.Context, client *storage.Client, params AuthorizationParams) (string, error) {
	ctx, span := s.startSpan(ctx, "authorize")
	defer span.End()

	scopes := params.Scopes
	if len(scopes) == 0 {
		scopes = s.Config.RequiredScopes
	}
	method := params.CodeChallengeMethod
	if method == "" {
		method = PKCEMethodS256
	}

	txnID, err := s.transactions.Begin(ctx, &storage.Transaction{
		ClientID:                      client.ClientID,
		RedirectURI:                   params.RedirectURI,
		RedirectURIProvidedExplicitly: params.RedirectURIProvidedExplicitly,
		State:                         params.State,
		CodeChallenge:                 params.CodeChallenge,
		CodeChallengeMethod:           method,
		Scopes:                        slices.Clone(scopes),
		Resource:                      params.Resource,
		CreatedAt:                     s.now(),
	})
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", fmt.Errorf("failed to store authorization transaction: %w", err)
	}

	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, "", strings.Join(scopes, " "))
	s.metrics.RecordAuthorizationStarted(ctx, client.ClientID)

	return s.LoginURL(txnID), nil
}

// LoginURL builds the login page URL for a transaction.
func (s *Server) LoginURL(txnID string) string {
	q := url.Values{}
	q.Set("galaxy", util.NormalizeURL(s.galaxy.URL()))
	q.Set("txn", txnID)
	return s.Config.BaseURL + LoginPath + "?" + q.Encode()
}

// GetTransaction returns a pending transaction without consuming it.
func (s *Server) GetTransaction(ctx context.Context, txnID string) (*storage.Transaction, error) {
	return s.transactions.Get(ctx, txnID)
}

// LoginResult is a completed login.
type LoginResult struct {
	RedirectURL string
	ClientID    string
	Username    string
}

// CompleteLogin verifies username and password with Galaxy, consumes the
// transaction and mints an authorization code bound to it. The returned
// RedirectURL carries code and state. User-facing failures are
// *GalaxyAuthenticationError; the transaction is only consumed on success.
func (s *Server) CompleteLogin(ctx context.Context, txnID, username, password, clientIP string) (*LoginResult, error) {
	ctx, span := s.startSpan(ctx, "complete_login")
	defer span.End()

	result, err := s.completeLogin(ctx, txnID, username, password)
	if err != nil {
		instrumentation.RecordError(span, err)
		var authErr *GalaxyAuthenticationError
		reason := "error"
		if errors.As(err, &authErr) {
			reason = authErr.Message
		}
		s.metrics.RecordLoginAttempt(ctx, "failure")
		s.Auditor.LogLoginFailed(username, "", clientIP, reason)
		return nil, err
	}

	instrumentation.AddOAuthFlowAttributes(span, result.ClientID, "", "")
	instrumentation.SetSpanSuccess(span)
	s.metrics.RecordLoginAttempt(ctx, "success")
	s.metrics.RecordCodeIssued(ctx, result.ClientID)
	s.Auditor.LogLoginSucceeded(result.Username, result.ClientID, clientIP)
	s.Logger.Info("Galaxy authentication successful", "client_id", result.ClientID)
	return result, nil
}

func (s *Server) completeLogin(ctx context.Context, txnID, username, password string) (*LoginResult, error) {
	if username == "" || password == "" {
		return nil, authError(MsgCredentialsRequired, nil)
	}

	apiKey, err := s.galaxy.Authenticate(ctx, username, password)
	switch {
	case errors.Is(err, galaxy.ErrInvalidCredentials):
		return nil, authError(MsgInvalidCredentials, err)
	case errors.Is(err, galaxy.ErrMissingAPIKey):
		return nil, authError(MsgMissingAPIKey, err)
	case err != nil:
		s.Logger.Error("Galaxy login request failed", "galaxy_url", s.galaxy.URL(), "error", err)
		return nil, authError(MsgUnexpectedLoginError, err)
	}

	user, err := s.galaxy.WithAPIKey(apiKey).CurrentUser(ctx)
	if err != nil {
		return nil, authError(MsgAPIKeyValidation, err)
	}

	txn, err := s.transactions.Consume(ctx, txnID)
	if err != nil {
		if errors.Is(err, storage.ErrTransactionNotFound) {
			return nil, authError(MsgTransactionExpired, err)
		}
		return nil, fmt.Errorf("failed to consume authorization transaction: %w", err)
	}

	identity := token.GalaxyIdentity{
		URL:       s.galaxy.URL(),
		APIKey:    apiKey,
		Username:  user.Username(),
		UserEmail: user.Email(),
	}
	if identity.Username == "" {
		identity.Username = username
	}

	code, err := s.issuer.IssueAuthorizationCode(token.CodeRequest{
		ClientID:                      txn.ClientID,
		Scopes:                        txn.Scopes,
		RedirectURI:                   txn.RedirectURI,
		RedirectURIProvidedExplicitly: txn.RedirectURIProvidedExplicitly,
		CodeChallenge:                 txn.CodeChallenge,
		CodeChallengeMethod:           txn.CodeChallengeMethod,
		Resource:                      txn.Resource,
	}, identity)
	if err != nil {
		return nil, err
	}

	redirect, err := constructRedirectURI(txn.RedirectURI, code, txn.State)
	if err != nil {
		return nil, err
	}

	return &LoginResult{RedirectURL: redirect, ClientID: txn.ClientID, Username: identity.Username}, nil
}

// constructRedirectURI appends code and state to the client's redirect URI,
// keeping any query it already has.
func constructRedirectURI(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect uri: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// decode opens raw as typ and rejects expired payloads and other clients.
// clientID may be empty to skip the client check.
func (s *Server) decode(raw string, typ token.Type, clientID string) *token.Claims {
	claims, err := s.issuer.Codec().Decode(raw, typ)
	if err != nil {
		return nil
	}
	if claims.Expired(s.now()) {
		return nil
	}
	if clientID != "" && claims.ClientID != clientID {
		return nil
	}
	return claims
}

// LoadAuthorizationCode returns the claims of a valid, unexpired code issued
// to clientID, or nil.
func (s *Server) LoadAuthorizationCode(_ context.Context, clientID, code string) *token.Claims {
	return s.decode(code, token.TypeAuthorizationCode, clientID)
}

// LoadRefreshToken returns the claims of a valid, unexpired refresh token
// issued to clientID, or nil.
func (s *Server) LoadRefreshToken(_ context.Context, clientID, refreshToken string) *token.Claims {
	return s.decode(refreshToken, token.TypeRefresh, clientID)
}

// LoadAccessToken returns the claims of a valid access token, or nil. An
// expired token is treated as absent.
func (s *Server) LoadAccessToken(_ context.Context, accessToken string) *token.Claims {
	return s.decode(accessToken, token.TypeAccess, "")
}

// CodeExchange is a token request with grant_type=authorization_code.
type CodeExchange struct {
	ClientID     string
	Code         string
	CodeVerifier string
	RedirectURI  string
}

// ExchangeAuthorizationCode trades a code for an access and refresh token.
// Expired codes, codes of another client, a redirect_uri differing from an
// explicitly provided one, and a failing PKCE check are rejected with
// *GalaxyAuthenticationError. Codes are not tracked, so a code may be
// exchanged again until it expires.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req CodeExchange, clientIP string) (*oauth2.Token, error) {
	ctx, span := s.startSpan(ctx, "exchange_authorization_code")
	defer span.End()

	claims, err := s.issuer.Codec().Decode(req.Code, token.TypeAuthorizationCode)
	if err != nil {
		return nil, s.rejectGrant(ctx, span, GrantTypeAuthorizationCode, "invalid", authError(MsgCodeInvalid, err))
	}
	if claims.Expired(s.now()) {
		return nil, s.rejectGrant(ctx, span, GrantTypeAuthorizationCode, "expired", authError(MsgCodeExpired, nil))
	}
	if claims.ClientID != req.ClientID {
		s.Auditor.LogAuthFailure(req.ClientID, clientIP, "code_client_mismatch")
		return nil, s.rejectGrant(ctx, span, GrantTypeAuthorizationCode, "client_mismatch", authError(MsgCodeClientMismatch, nil))
	}
	if claims.RedirectURIProvidedExplicitly && req.RedirectURI != claims.RedirectURI {
		s.Auditor.LogInvalidRedirect(req.ClientID, clientIP, req.RedirectURI)
		return nil, s.rejectGrant(ctx, span, GrantTypeAuthorizationCode, "redirect_uri_mismatch",
			authError("Redirect URI does not match the authorization request.", nil))
	}
	if err := validatePKCE(claims.CodeChallenge, claims.CodeChallengeMethod, req.CodeVerifier); err != nil {
		s.Auditor.LogInvalidPKCE(req.ClientID, clientIP, err.Error())
		s.metrics.RecordPKCEValidationFailed(ctx, claims.CodeChallengeMethod)
		return nil, s.rejectGrant(ctx, span, GrantTypeAuthorizationCode, "pkce", authError("Invalid code_verifier.", err))
	}

	tok, err := s.issuer.IssueTokens(claims.ClientID, claims.Scopes, claims.Galaxy)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	scope := strings.Join(claims.Scopes, " ")
	instrumentation.AddOAuthFlowAttributes(span, claims.ClientID, "", scope)
	instrumentation.SetSpanSuccess(span)
	s.metrics.RecordCodeExchange(ctx, claims.ClientID)
	s.Auditor.LogTokenIssued(claims.Galaxy.Username, claims.ClientID, clientIP, scope)
	return tok, nil
}

// ExchangeRefreshToken issues a new token pair for a refresh token. The new
// pair carries scopes when non-empty, otherwise the refresh token's scopes,
// and the same Galaxy identity; Galaxy is not contacted.
func (s *Server) ExchangeRefreshToken(ctx context.Context, clientID, refreshToken string, scopes []string, clientIP string) (*oauth2.Token, error) {
	ctx, span := s.startSpan(ctx, "exchange_refresh_token")
	defer span.End()

	claims, err := s.issuer.Codec().Decode(refreshToken, token.TypeRefresh)
	if err != nil {
		return nil, s.rejectGrant(ctx, span, GrantTypeRefreshToken, "invalid", authError(MsgRefreshInvalid, err))
	}
	if claims.Expired(s.now()) {
		return nil, s.rejectGrant(ctx, span, GrantTypeRefreshToken, "expired", authError(MsgRefreshExpired, nil))
	}
	if claims.ClientID != clientID {
		s.Auditor.LogAuthFailure(clientID, clientIP, "refresh_client_mismatch")
		return nil, s.rejectGrant(ctx, span, GrantTypeRefreshToken, "client_mismatch", authError(MsgRefreshClientMismatch, nil))
	}

	granted := claims.Scopes
	if len(scopes) > 0 {
		for _, scope := range scopes {
			if !slices.Contains(claims.Scopes, scope) {
				return nil, s.rejectGrant(ctx, span, GrantTypeRefreshToken, "scope",
					protocolError(ErrorCodeInvalidScope, "cannot request scope %q not granted by the refresh token", scope))
			}
		}
		granted = scopes
	}

	tok, err := s.issuer.IssueTokens(claims.ClientID, granted, claims.Galaxy)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	scope := strings.Join(granted, " ")
	instrumentation.AddOAuthFlowAttributes(span, claims.ClientID, "", scope)
	instrumentation.SetSpanSuccess(span)
	s.metrics.RecordTokenRefresh(ctx, claims.ClientID)
	s.Auditor.LogTokenRefreshed(claims.Galaxy.Username, claims.ClientID, clientIP, scope)
	return tok, nil
}

func (s *Server) rejectGrant(ctx context.Context, span trace.Span, grantType, reason string, err error) error {
	instrumentation.AddGrantRejection(span, grantType, reason)
	instrumentation.RecordError(span, err)
	s.metrics.RecordGrantRejected(ctx, grantType, reason)
	s.Logger.Debug("Rejected token grant", "grant_type", grantType, "reason", reason)
	return err
}

// RevokeToken accepts a revocation request. Tokens are self-contained, so
// nothing is invalidated: a revoked token stays usable until it expires.
func (s *Server) RevokeToken(ctx context.Context, clientID, tokenTypeHint, clientIP string) {
	s.metrics.RecordTokenRevocation(ctx, clientID)
	s.Auditor.LogRevocationRequested(clientID, clientIP, tokenTypeHint)
	s.Logger.Debug("Token revocation requested; stateless tokens cannot be revoked",
		"client_id", clientID,
		"token_type_hint", tokenTypeHint)
}

// GalaxyCredentials is the Galaxy identity carried by a valid access token.
type GalaxyCredentials struct {
	GalaxyURL string
	APIKey    string
	Username  string
	UserEmail string
	ExpiresAt time.Time
	Scopes    []string
	ClientID  string
}

// CredentialsFromClaims projects access token claims onto GalaxyCredentials.
func CredentialsFromClaims(c *token.Claims) *GalaxyCredentials {
	if c == nil {
		return nil
	}
	return &GalaxyCredentials{
		GalaxyURL: c.Galaxy.URL,
		APIKey:    c.Galaxy.APIKey,
		Username:  c.Galaxy.Username,
		UserEmail: c.Galaxy.UserEmail,
		ExpiresAt: c.Expiry(),
		Scopes:    slices.Clone(c.Scopes),
		ClientID:  c.ClientID,
	}
}

// DecodeAccessToken returns the Galaxy credentials in a valid access token, or nil.
func (s *Server) DecodeAccessToken(ctx context.Context, accessToken string) *GalaxyCredentials {
	return CredentialsFromClaims(s.LoadAccessToken(ctx, accessToken))
}
