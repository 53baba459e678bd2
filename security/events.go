package security

// Event type constants for security audit logging.
const (
	// Authorization flow events

	// EventAuthorizationStarted is logged when a client begins an authorization request
	EventAuthorizationStarted = "authorization_started"

	// EventLoginSucceeded is logged when Galaxy accepts the submitted credentials
	EventLoginSucceeded = "login_succeeded"

	// EventLoginFailed is logged when the login form submission is rejected
	EventLoginFailed = "login_failed"

	// EventAuthorizationCodeIssued is logged when a code is minted for a transaction
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// Token lifecycle events

	// EventTokenIssued is logged when an authorization code is exchanged for tokens
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is exchanged
	EventTokenRefreshed = "token_refreshed"

	// EventRevocationRequested is logged for revocation calls; stateless tokens are not invalidated
	EventRevocationRequested = "revocation_requested"

	// Client registration events

	// EventClientRegistered is logged when a new OAuth client is registered
	EventClientRegistered = "client_registered"

	// Security violation events

	// EventAuthFailure is logged when client authentication or a grant is rejected
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventInvalidPKCE is logged when the code_verifier does not match
	EventInvalidPKCE = "invalid_pkce"

	// EventInvalidRedirect is logged when an unregistered redirect URI is presented
	EventInvalidRedirect = "invalid_redirect"
)
