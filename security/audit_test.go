package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newTestAuditor(enabled bool) (*Auditor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return NewAuditor(logger, enabled), &buf
}

func TestNewAuditor(t *testing.T) {
	auditor := NewAuditor(nil, true)
	if auditor.logger == nil {
		t.Error("logger should not be nil")
	}
	if !auditor.enabled {
		t.Error("enabled = false, want true")
	}
}

func TestAuditor_LogEvent(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		wantLog bool
	}{
		{name: "enabled", enabled: true, wantLog: true},
		{name: "disabled", enabled: false, wantLog: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor, buf := newTestAuditor(tt.enabled)

			auditor.LogEvent(Event{
				Type:      "test_event",
				Username:  "alice",
				ClientID:  "client-456",
				IPAddress: "192.168.1.1",
			})

			if got := buf.Len() > 0; got != tt.wantLog {
				t.Errorf("LogEvent() logged = %v, want %v", got, tt.wantLog)
			}
		})
	}
}

func TestAuditor_NilIsNoop(t *testing.T) {
	var auditor *Auditor
	auditor.LogLoginSucceeded("alice", "client", "127.0.0.1")
}

func TestAuditor_HashesUsername(t *testing.T) {
	auditor, buf := newTestAuditor(true)

	auditor.LogLoginFailed("alice@example.org", "client-1", "10.0.0.1", "invalid_credentials")

	out := buf.String()
	if strings.Contains(out, "alice@example.org") {
		t.Error("audit log contains the raw username")
	}
	if !strings.Contains(out, hashForLogging("alice@example.org")) {
		t.Error("audit log does not contain the username hash")
	}
	if !strings.Contains(out, EventLoginFailed) {
		t.Errorf("audit log does not contain event type %q", EventLoginFailed)
	}
}

func TestAuditor_Helpers(t *testing.T) {
	tests := []struct {
		name      string
		log       func(a *Auditor)
		wantEvent string
	}{
		{"authorization started", func(a *Auditor) { a.LogAuthorizationStarted("c", "ip", []string{"galaxy:full"}) }, EventAuthorizationStarted},
		{"login succeeded", func(a *Auditor) { a.LogLoginSucceeded("u", "c", "ip") }, EventLoginSucceeded},
		{"token issued", func(a *Auditor) { a.LogTokenIssued("u", "c", "ip", "galaxy:full") }, EventTokenIssued},
		{"token refreshed", func(a *Auditor) { a.LogTokenRefreshed("u", "c", "ip", "galaxy:full") }, EventTokenRefreshed},
		{"revocation", func(a *Auditor) { a.LogRevocationRequested("c", "ip", "refresh_token") }, EventRevocationRequested},
		{"auth failure", func(a *Auditor) { a.LogAuthFailure("c", "ip", "bad_secret") }, EventAuthFailure},
		{"rate limit", func(a *Auditor) { a.LogRateLimitExceeded("login", "ip") }, EventRateLimitExceeded},
		{"client registered", func(a *Auditor) { a.LogClientRegistered("c", "public", "ip") }, EventClientRegistered},
		{"invalid pkce", func(a *Auditor) { a.LogInvalidPKCE("c", "ip", "mismatch") }, EventInvalidPKCE},
		{"invalid redirect", func(a *Auditor) { a.LogInvalidRedirect("c", "ip", "https://evil") }, EventInvalidRedirect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor, buf := newTestAuditor(true)
			tt.log(auditor)
			if !strings.Contains(buf.String(), "event_type="+tt.wantEvent) {
				t.Errorf("log output %q does not contain event_type=%s", buf.String(), tt.wantEvent)
			}
		})
	}
}

func Test_hashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}

	got := hashForLogging("sensitive-data")
	if len(got) != 16 {
		t.Errorf("hashForLogging() length = %d, want 16", len(got))
	}
	if got != hashForLogging("sensitive-data") {
		t.Error("hashForLogging() should be deterministic")
	}
	if got == hashForLogging("other-data") {
		t.Error("hashForLogging() should differ for different inputs")
	}
}
