package token

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// CodeRequest carries the authorization request bound into a code.
type CodeRequest struct {
	ClientID                      string
	Scopes                        []string
	RedirectURI                   string
	RedirectURIProvidedExplicitly bool
	CodeChallenge                 string
	CodeChallengeMethod           string
	Resource                      string
}

// Issuer builds and seals the three token kinds.
type Issuer struct {
	codec *Codec
	now   func() time.Time
}

// NewIssuer creates an issuer that seals with codec.
func NewIssuer(codec *Codec) *Issuer {
	return &Issuer{codec: codec, now: time.Now}
}

// Codec returns the codec used to seal tokens.
func (i *Issuer) Codec() *Codec {
	return i.codec
}

func (i *Issuer) claims(typ Type, clientID string, scopes []string, galaxy GalaxyIdentity, ttl time.Duration) *Claims {
	now := i.now()
	return &Claims{
		Type:      typ,
		ClientID:  clientID,
		Scopes:    append([]string(nil), scopes...),
		Galaxy:    galaxy,
		ExpiresAt: now.Add(ttl).Unix(),
		IssuedAt:  now.Unix(),
		// fresh per token, so re-issuing for the same session never repeats a ciphertext
		Nonce: oauth2.GenerateVerifier(),
	}
}

// IssueAuthorizationCode mints a short-lived code for a completed login.
func (i *Issuer) IssueAuthorizationCode(req CodeRequest, galaxy GalaxyIdentity) (string, error) {
	c := i.claims(TypeAuthorizationCode, req.ClientID, req.Scopes, galaxy, AuthorizationCodeTTL)
	c.CodeChallenge = req.CodeChallenge
	c.CodeChallengeMethod = req.CodeChallengeMethod
	c.RedirectURI = req.RedirectURI
	c.RedirectURIProvidedExplicitly = req.RedirectURIProvidedExplicitly
	c.Resource = req.Resource

	code, err := i.codec.Encode(c)
	if err != nil {
		return "", fmt.Errorf("failed to issue authorization code: %w", err)
	}
	return code, nil
}

// IssueTokens mints an access and refresh token pair. The returned token
// carries the granted scope as the "scope" extra.
func (i *Issuer) IssueTokens(clientID string, scopes []string, galaxy GalaxyIdentity) (*oauth2.Token, error) {
	access := i.claims(TypeAccess, clientID, scopes, galaxy, AccessTokenTTL)
	refresh := i.claims(TypeRefresh, clientID, scopes, galaxy, RefreshTokenTTL)

	accessToken, err := i.codec.Encode(access)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refreshToken, err := i.codec.Encode(refresh)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	tok := &oauth2.Token{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		RefreshToken: refreshToken,
		Expiry:       access.Expiry(),
		ExpiresIn:    int64(AccessTokenTTL / time.Second),
	}
	return tok.WithExtra(map[string]any{"scope": strings.Join(scopes, " ")}), nil
}
