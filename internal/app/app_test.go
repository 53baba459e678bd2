package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oauth "github.com/galaxyproject/galaxy-mcp"
	"github.com/galaxyproject/galaxy-mcp/galaxy"
	"github.com/galaxyproject/galaxy-mcp/internal/testutil"
	"github.com/galaxyproject/galaxy-mcp/security"
	"github.com/galaxyproject/galaxy-mcp/server"
	"github.com/galaxyproject/galaxy-mcp/token"
)

const initializeRequest = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1.0.0"}}}`

const getUserRequest = `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_user","arguments":{}}}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T, mutate func(*Config)) (*App, *testutil.GalaxyServer) {
	t.Helper()
	g := testutil.NewGalaxyServer(t)
	cfg := Config{
		GalaxyURL:     g.URL,
		SessionSecret: "test-secret",
		Version:       "test",
		Logger:        discardLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, g
}

func withOAuth(c *Config) {
	c.PublicURL = "https://mcp.example.com"
}

func postMCP(h http.Handler, path, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "unknown transport",
			cfg:  Config{Transport: "sse"},
			want: "unknown transport",
		},
		{
			name: "oauth without galaxy url",
			cfg:  Config{PublicURL: "https://mcp.example.com"},
			want: "Galaxy URL is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = discardLogger()
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNew_OAuthMode(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantOAuth bool
	}{
		{"no public url", nil, false},
		{"public url", withOAuth, true},
		{"stdio ignores public url", func(c *Config) {
			withOAuth(c)
			c.Transport = TransportStdio
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestApp(t, tt.mutate)
			assert.Equal(t, tt.wantOAuth, a.OAuthEnabled())
		})
	}
}

func TestHandler_Health(t *testing.T) {
	for _, mutate := range []func(*Config){nil, withOAuth} {
		a, _ := newTestApp(t, mutate)

		rec := get(a.Handler(), oauth.HealthPath)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
		assert.NotEmpty(t, rec.Header().Get(security.RequestIDHeader))
	}
}

func TestHandler_RequestIDEchoed(t *testing.T) {
	a, _ := newTestApp(t, nil)

	req := httptest.NewRequest(http.MethodGet, oauth.HealthPath, nil)
	req.Header.Set(security.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(security.RequestIDHeader))
}

func TestHandler_NoOAuth(t *testing.T) {
	a, _ := newTestApp(t, nil)
	h := a.Handler()

	rec := postMCP(h, MCPPath, initializeRequest, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "serverInfo")

	// OAuth endpoints are not served
	assert.Equal(t, http.StatusNotFound, get(h, server.AuthorizationServerMetadataPath).Code)
}

func TestHandler_OAuthRequiresToken(t *testing.T) {
	a, _ := newTestApp(t, withOAuth)
	h := a.Handler()

	rec := postMCP(h, MCPPath, initializeRequest, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource"`)

	rec = postMCP(h, MCPPath, initializeRequest, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for _, path := range []string{server.ResourceMetadataPath, server.AuthorizationServerMetadataPath} {
		assert.Equal(t, http.StatusOK, get(h, path).Code, path)
	}
}

func TestHandler_OAuthToolCall(t *testing.T) {
	a, g := newTestApp(t, withOAuth)
	h := a.Handler()

	tok, err := a.oauth.Provider().Issuer().IssueTokens(testutil.TestClientID, []string{server.DefaultScope}, token.GalaxyIdentity{
		URL:      galaxy.NormalizeURL(g.URL),
		APIKey:   testutil.GalaxyAPIKey,
		Username: testutil.GalaxyUsername,
	})
	require.NoError(t, err)

	rec := postMCP(h, MCPPath, initializeRequest, tok.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// the shared session was never connected, so the user comes from the token
	rec = postMCP(h, MCPPath, getUserRequest, tok.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), testutil.GalaxyEmail)
	assert.Equal(t, galaxy.StateUninitialized, a.Session().State())
}

func TestHandler_BasePath(t *testing.T) {
	a, _ := newTestApp(t, func(c *Config) { c.PublicURL = "https://example.org/galaxy" })
	h := a.Handler()

	for _, path := range []string{MCPPath, "/galaxy" + MCPPath} {
		rec := postMCP(h, path, initializeRequest, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	assert.Equal(t, http.StatusOK, get(h, "/galaxy"+server.ResourceMetadataPath).Code)
}

func TestHandler_OAuthPublicRoutes(t *testing.T) {
	a, g := newTestApp(t, func(c *Config) { c.PublicURL = "https://example.org/galaxy" })
	h := a.Handler()

	tok, err := a.oauth.Provider().Issuer().IssueTokens(testutil.TestClientID, []string{server.DefaultScope}, token.GalaxyIdentity{
		URL:    galaxy.NormalizeURL(g.URL),
		APIKey: testutil.GalaxyAPIKey,
	})
	require.NoError(t, err)

	tests := []struct {
		name       string
		path       string
		token      string
		wantStatus int
	}{
		{"health", oauth.HealthPath, "", http.StatusOK},
		{"health under base path", "/galaxy" + oauth.HealthPath, "", http.StatusOK},
		{"server metadata", "/galaxy" + server.AuthorizationServerMetadataPath, "", http.StatusOK},
		{"server metadata path inserted", server.AuthorizationServerMetadataPath + "/galaxy", "", http.StatusOK},
		{"login without transaction", "/galaxy" + server.LoginPath, "", http.StatusBadRequest},
		{"authorize without client", server.AuthorizePath, "", http.StatusBadRequest},
		{"other path without token", "/galaxy/other", "", http.StatusUnauthorized},
		{"other path with token", "/galaxy/other", tok.AccessToken, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.NotEmpty(t, rec.Header().Get(security.RequestIDHeader))
		})
	}
}

func TestRequestContext(t *testing.T) {
	creds := &oauth.GalaxyCredentials{GalaxyURL: "https://usegalaxy.org/", APIKey: "K"}
	r := httptest.NewRequest(http.MethodPost, MCPPath, nil)
	r = r.WithContext(security.WithRequestID(oauth.WithCredentials(r.Context(), creds), "req-1"))

	ctx := requestContext(context.Background(), r)

	got, ok := oauth.CredentialsFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, creds, got)
	assert.Equal(t, "req-1", security.RequestIDFromContext(ctx))

	_, ok = oauth.CredentialsFromContext(requestContext(context.Background(), httptest.NewRequest(http.MethodPost, MCPPath, nil)))
	assert.False(t, ok)
}

func TestAutoConnect(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		want   galaxy.State
	}{
		{"valid key", testutil.GalaxyAPIKey, galaxy.StateConnected},
		{"invalid key", "wrong", galaxy.StateUninitialized},
		{"no key", "", galaxy.StateUninitialized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestApp(t, func(c *Config) { c.GalaxyAPIKey = tt.apiKey })
			a.autoConnect(t.Context())
			assert.Equal(t, tt.want, a.Session().State())
		})
	}
}

func TestServe(t *testing.T) {
	a, _ := newTestApp(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + oauth.HealthPath)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestAddr(t *testing.T) {
	a, _ := newTestApp(t, func(c *Config) {
		c.Host = "0.0.0.0"
		c.Port = 8000
	})
	assert.Equal(t, "0.0.0.0:8000", a.Addr())
}
