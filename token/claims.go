// Package token mints and reads the self-contained encrypted tokens issued by
// the Galaxy OAuth provider. Authorization codes, access tokens and refresh
// tokens are JSON claims sealed with AES-256-GCM; nothing is stored server side,
// so a token is valid exactly as long as it decrypts, carries the expected type
// and has not passed its expiry.
package token

import (
	"time"
)

// Type discriminates the three token kinds so one can never be accepted as another.
type Type string

const (
	TypeAuthorizationCode Type = "authorization_code"
	TypeAccess            Type = "access"
	TypeRefresh           Type = "refresh"
)

// Fixed lifetimes. They are policy, not per-request options.
const (
	AuthorizationCodeTTL = 5 * time.Minute
	AccessTokenTTL       = time.Hour
	RefreshTokenTTL      = 7 * 24 * time.Hour
)

// GalaxyIdentity is the upstream account a token acts for.
type GalaxyIdentity struct {
	URL       string `json:"url"`
	APIKey    string `json:"api_key"`
	Username  string `json:"username"`
	UserEmail string `json:"user_email"`
}

// Claims is the sealed payload of every token.
type Claims struct {
	Type      Type           `json:"typ"`
	ClientID  string         `json:"client_id"`
	Scopes    []string       `json:"scopes"`
	Galaxy    GalaxyIdentity `json:"galaxy"`
	ExpiresAt int64          `json:"exp"`
	IssuedAt  int64          `json:"iat"`
	Nonce     string         `json:"nonce"`

	// Authorization codes only.
	CodeChallenge                 string `json:"code_challenge,omitempty"`
	CodeChallengeMethod           string `json:"code_challenge_method,omitempty"`
	RedirectURI                   string `json:"redirect_uri,omitempty"`
	RedirectURIProvidedExplicitly bool   `json:"redirect_uri_provided_explicitly,omitempty"`
	Resource                      string `json:"resource,omitempty"`
}

// Expiry returns ExpiresAt as a time.
func (c *Claims) Expiry() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

// Expired reports whether the claims are past their expiry at now.
func (c *Claims) Expired(now time.Time) bool {
	return now.Unix() > c.ExpiresAt
}
