// Package security provides the cryptographic and defensive building blocks of
// the Galaxy OAuth provider: AES-256-GCM sealing for stateless tokens, per-key
// rate limiting, audit logging, security headers and request correlation.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
// Usernames are hashed before they reach the log.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	Username  string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event. A nil Auditor is a no-op.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_hash", hashForLogging(event.Username),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogAuthorizationStarted logs a new authorization transaction
func (a *Auditor) LogAuthorizationStarted(clientID, ipAddress string, scopes []string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationStarted,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"scopes": scopes},
	})
}

// LogLoginSucceeded logs a successful Galaxy login
func (a *Auditor) LogLoginSucceeded(username, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventLoginSucceeded,
		Username:  username,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogLoginFailed logs a rejected Galaxy login
func (a *Auditor) LogLoginFailed(username, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventLoginFailed,
		Username:  username,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogTokenIssued logs when a token pair is issued for an authorization code
func (a *Auditor) LogTokenIssued(username, clientID, ipAddress, scope string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		Username:  username,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"scope": scope},
	})
}

// LogTokenRefreshed logs when a refresh token is exchanged
func (a *Auditor) LogTokenRefreshed(username, clientID, ipAddress, scope string) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		Username:  username,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"scope": scope},
	})
}

// LogRevocationRequested logs a revocation request
func (a *Auditor) LogRevocationRequested(clientID, ipAddress, tokenTypeHint string) {
	a.LogEvent(Event{
		Type:      EventRevocationRequested,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"token_type_hint": tokenTypeHint, "effective": false},
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(limiter, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details:   map[string]any{"limiter": limiter},
	})
}

// LogClientRegistered logs when a new client is registered
func (a *Auditor) LogClientRegistered(clientID, clientType, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventClientRegistered,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"client_type": clientType},
	})
}

// LogInvalidPKCE logs a code_verifier mismatch
func (a *Auditor) LogInvalidPKCE(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventInvalidPKCE,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogInvalidRedirect logs a redirect URI that does not match the registration
func (a *Auditor) LogInvalidRedirect(clientID, ipAddress, redirectURI string) {
	a.LogEvent(Event{
		Type:      EventInvalidRedirect,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"redirect_uri": redirectURI},
	})
}

// hashForLogging creates a truncated SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
