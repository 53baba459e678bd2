package server

import (
	"crypto/subtle"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/oauth2"

	"github.com/galaxyproject/galaxy-mcp/internal/util"
	"github.com/galaxyproject/galaxy-mcp/storage"
)

const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// codeVerifierPattern is the RFC 7636 section 4.1 verifier alphabet and length.
var codeVerifierPattern = regexp.MustCompile(`^[A-Za-z0-9._~-]{43,128}$`)

// rfc3986Scheme is used when no custom scheme patterns are configured.
var rfc3986Scheme = regexp.MustCompile(`^[a-z][a-z0-9+.-]*$`)

// blockedSchemes can execute or read content in the user agent and are
// rejected whatever the configured patterns allow.
var blockedSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

// resolveRedirectURI picks the redirect URI for an authorization request.
// An omitted URI is only allowed when the client registered exactly one.
func resolveRedirectURI(client *storage.Client, requested string) (uri string, explicit bool, err error) {
	if requested == "" {
		if len(client.RedirectURIs) == 1 {
			return client.RedirectURIs[0], false, nil
		}
		return "", false, fmt.Errorf("redirect_uri is required when the client has more than one registered")
	}
	if !client.HasRedirectURI(requested) {
		return "", false, fmt.Errorf("redirect URI not registered for client")
	}
	return requested, true, nil
}

// resolveScopes returns the requested scopes, or the required scopes when
// none were requested. Every scope must be one the server supports.
func (s *Server) resolveScopes(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return append([]string(nil), s.Config.RequiredScopes...), nil
	}
	for _, scope := range requested {
		if !slices.Contains(s.Config.RequiredScopes, scope) {
			return nil, fmt.Errorf("unsupported scope: %s", scope)
		}
	}
	return append([]string(nil), requested...), nil
}

// validatePKCE checks a token request's code_verifier against the
// code_challenge sealed into the authorization code. Only S256 is accepted.
func validatePKCE(challenge, method, verifier string) error {
	switch {
	case challenge == "":
		return fmt.Errorf("authorization code carries no code_challenge")
	case method != PKCEMethodS256:
		return fmt.Errorf("unsupported code_challenge_method %q", method)
	case verifier == "":
		return fmt.Errorf("code_verifier is required")
	case !codeVerifierPattern.MatchString(verifier):
		return fmt.Errorf("code_verifier must be 43 to 128 characters from [A-Za-z0-9-._~]")
	}

	computed := oauth2.S256ChallengeFromVerifier(verifier)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}

// allowCustomScheme reports whether a native-app scheme such as cursor:// may
// be registered. An empty pattern list accepts any RFC 3986 scheme.
func allowCustomScheme(scheme string, patterns []string) error {
	scheme = strings.ToLower(scheme)
	if slices.Contains(blockedSchemes, scheme) {
		return fmt.Errorf("redirect_uri scheme %q is not allowed", scheme)
	}

	if len(patterns) == 0 {
		if rfc3986Scheme.MatchString(scheme) {
			return nil
		}
		return fmt.Errorf("redirect_uri scheme %q is not a valid URI scheme", scheme)
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("invalid custom scheme pattern %q: %w", p, err)
		}
		if re.MatchString(scheme) {
			return nil
		}
	}
	return fmt.Errorf("redirect_uri scheme %q matches none of %v", scheme, patterns)
}

// validateRedirectURIForRegistration accepts https URIs, http on loopback
// hosts (RFC 8252 section 7.3) and allowed custom schemes. Fragments are never
// accepted.
func validateRedirectURIForRegistration(redirectURI string, allowedCustomSchemes []string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri format: %w", err)
	}
	if parsed.Scheme == "" {
		return fmt.Errorf("redirect_uri must be absolute: %s", redirectURI)
	}

	if parsed.Fragment != "" {
		return fmt.Errorf("redirect_uri must not contain fragments")
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case SchemeHTTPS:
		if parsed.Host == "" {
			return fmt.Errorf("redirect_uri must include a host")
		}
		return nil
	case SchemeHTTP:
		if !util.IsLoopbackHostname(strings.ToLower(parsed.Hostname())) {
			return fmt.Errorf("redirect_uri must use HTTPS unless it targets a loopback address")
		}
		return nil
	default:
		return allowCustomScheme(scheme, allowedCustomSchemes)
	}
}
