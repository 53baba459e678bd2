package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/galaxyproject/galaxy-mcp/server"
)

func TestOAuthError_Error(t *testing.T) {
	err := ErrInvalidGrant("code expired")
	if got := err.Error(); got != "invalid_grant: code expired" {
		t.Errorf("Error() = %q", got)
	}
	if err.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", err.Status)
	}
}

func TestToOAuthError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
		wantDesc   string
	}{
		{
			name:       "oauth error passes through",
			err:        ErrInvalidToken("expired"),
			wantCode:   ErrorCodeInvalidToken,
			wantStatus: http.StatusUnauthorized,
			wantDesc:   "expired",
		},
		{
			name:       "wrapped oauth error",
			err:        fmt.Errorf("context: %w", ErrUnauthorizedClient("nope")),
			wantCode:   ErrorCodeUnauthorizedClient,
			wantStatus: http.StatusBadRequest,
			wantDesc:   "nope",
		},
		{
			name:       "galaxy authentication error",
			err:        &server.GalaxyAuthenticationError{Message: server.MsgCodeExpired, Err: errors.New("detail")},
			wantCode:   ErrorCodeInvalidGrant,
			wantStatus: http.StatusBadRequest,
			wantDesc:   server.MsgCodeExpired,
		},
		{
			name:       "invalid client",
			err:        &server.ProtocolError{Code: server.ErrorCodeInvalidClient, Description: "bad secret"},
			wantCode:   ErrorCodeInvalidClient,
			wantStatus: http.StatusUnauthorized,
			wantDesc:   "bad secret",
		},
		{
			name:       "other protocol error",
			err:        &server.ProtocolError{Code: server.ErrorCodeInvalidScope, Description: "no"},
			wantCode:   ErrorCodeInvalidScope,
			wantStatus: http.StatusBadRequest,
			wantDesc:   "no",
		},
		{
			name:       "unknown error is not leaked",
			err:        errors.New("dial tcp 10.0.0.1:443: connection refused"),
			wantCode:   ErrorCodeServerError,
			wantStatus: http.StatusInternalServerError,
			wantDesc:   "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toOAuthError(tt.err)
			if got.Code != tt.wantCode || got.Status != tt.wantStatus || got.Description != tt.wantDesc {
				t.Errorf("toOAuthError() = %+v, want {%s %s %d}", got, tt.wantCode, tt.wantDesc, tt.wantStatus)
			}
		})
	}
}
