package server

import "fmt"

// OAuth 2.0 error codes from RFC 6749.
// Note: These are intentionally duplicated from errors.go to avoid circular imports
// (root package imports server, server can't import root).
const (
	ErrorCodeInvalidClient      = "invalid_client"
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeInvalidRedirectURI = "invalid_redirect_uri"
	ErrorCodeInvalidScope       = "invalid_scope"
	ErrorCodeInvalidGrant       = "invalid_grant"
	ErrorCodeUnsupportedResType = "unsupported_response_type"
	ErrorCodeInvalidClientMeta  = "invalid_client_metadata"
)

// Messages shown on the login form.
const (
	MsgCredentialsRequired   = "Username and password are required."
	MsgInvalidCredentials    = "Invalid Galaxy credentials."
	MsgMissingAPIKey         = "Galaxy did not return an API key."
	MsgAPIKeyValidation      = "Failed to validate API key with Galaxy."
	MsgTransactionExpired    = "Authorization request expired. Please restart the flow."
	MsgUnexpectedLoginError  = "Unexpected error during authentication."
	MsgCodeExpired           = "Authorization code expired."
	MsgCodeClientMismatch    = "Authorization code issued for a different client."
	MsgCodeInvalid           = "Authorization code is invalid."
	MsgRefreshExpired        = "Refresh token expired."
	MsgRefreshClientMismatch = "Refresh token issued for a different client."
	MsgRefreshInvalid        = "Refresh token is invalid."
)

// GalaxyAuthenticationError is a user-facing authentication failure. Message
// is safe to show; Err, when set, is the underlying cause and is only logged.
type GalaxyAuthenticationError struct {
	Message string
	Err     error
}

func (e *GalaxyAuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *GalaxyAuthenticationError) Unwrap() error {
	return e.Err
}

func authError(message string, cause error) *GalaxyAuthenticationError {
	return &GalaxyAuthenticationError{Message: message, Err: cause}
}

// ProtocolError is an OAuth error the HTTP layer turns into an error response.
type ProtocolError struct {
	Code        string
	Description string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func protocolError(code, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Description: fmt.Sprintf(format, args...)}
}
