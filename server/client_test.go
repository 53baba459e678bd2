package server

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/galaxyproject/galaxy-mcp/internal/testutil"
	"github.com/galaxyproject/galaxy-mcp/storage"
	"github.com/galaxyproject/galaxy-mcp/storage/file"
	"github.com/galaxyproject/galaxy-mcp/storage/memory"
	"github.com/galaxyproject/galaxy-mcp/token"
)

func TestRegisterClient_Public(t *testing.T) {
	env := newTestEnv(t)

	client, secret, err := env.srv.RegisterClient(context.Background(), ClientRegistration{
		ClientName:              "Chat UI",
		RedirectURIs:            []string{"http://localhost:8080/callback"},
		TokenEndpointAuthMethod: TokenEndpointAuthMethodNone,
	}, "192.0.2.1")
	testutil.AssertNoError(t, err)

	if secret != "" {
		t.Error("public client received a secret")
	}
	testutil.AssertEqual(t, client.ClientType, storage.ClientTypePublic)
	testutil.AssertEqual(t, client.Scope, DefaultScope)
	if len(client.GrantTypes) != 2 || len(client.ResponseTypes) != 1 {
		t.Errorf("defaults not applied: grant_types=%v response_types=%v", client.GrantTypes, client.ResponseTypes)
	}
	if client.ClientIDIssuedAt == 0 {
		t.Error("client_id_issued_at not set")
	}

	stored, err := env.srv.GetClient(context.Background(), client.ClientID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, stored.ClientName, "Chat UI")

	authed, err := env.srv.AuthenticateClient(context.Background(), client.ClientID, "", "")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, authed.ClientID, client.ClientID)
}

func TestRegisterClient_Confidential(t *testing.T) {
	env := newTestEnv(t)

	client, secret, err := env.srv.RegisterClient(context.Background(), ClientRegistration{
		RedirectURIs: []string{"https://app.example.com/cb"},
	}, "")
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, client.TokenEndpointAuthMethod, TokenEndpointAuthMethodBasic)
	testutil.AssertEqual(t, client.ClientType, storage.ClientTypeConfidential)
	if secret == "" {
		t.Fatal("confidential client received no secret")
	}
	if client.ClientSecretHash == secret {
		t.Fatal("secret stored in plaintext")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(secret)); err != nil {
		t.Errorf("stored hash does not match secret: %v", err)
	}

	tests := []struct {
		name     string
		clientID string
		secret   string
		wantErr  bool
	}{
		{"correct secret", client.ClientID, secret, false},
		{"wrong secret", client.ClientID, "wrong", true},
		{"missing secret", client.ClientID, "", true},
		{"unknown client", "unknown", secret, true},
		{"empty client id", "", secret, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.srv.AuthenticateClient(context.Background(), tt.clientID, tt.secret, "")
			if !tt.wantErr {
				testutil.AssertNoError(t, err)
				return
			}
			wantProtocolError(t, err, ErrorCodeInvalidClient)
		})
	}
}

func TestRegisterClient_Invalid(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		reg      ClientRegistration
		wantCode string
	}{
		{"no redirect uris", ClientRegistration{}, ErrorCodeInvalidRedirectURI},
		{"http non-loopback", ClientRegistration{RedirectURIs: []string{"http://app.example.com/cb"}}, ErrorCodeInvalidRedirectURI},
		{"javascript scheme", ClientRegistration{RedirectURIs: []string{"javascript:alert(1)"}}, ErrorCodeInvalidRedirectURI},
		{"fragment", ClientRegistration{RedirectURIs: []string{"https://app.example.com/cb#frag"}}, ErrorCodeInvalidRedirectURI},
		{"relative", ClientRegistration{RedirectURIs: []string{"/cb"}}, ErrorCodeInvalidRedirectURI},
		{"implicit grant", ClientRegistration{RedirectURIs: []string{"https://app.example.com/cb"}, GrantTypes: []string{"implicit"}}, ErrorCodeInvalidClientMeta},
		{"token response", ClientRegistration{RedirectURIs: []string{"https://app.example.com/cb"}, ResponseTypes: []string{"token"}}, ErrorCodeInvalidClientMeta},
		{"private_key_jwt", ClientRegistration{RedirectURIs: []string{"https://app.example.com/cb"}, TokenEndpointAuthMethod: "private_key_jwt"}, ErrorCodeInvalidClientMeta},
		{"unknown scope", ClientRegistration{RedirectURIs: []string{"https://app.example.com/cb"}, Scope: "galaxy:admin"}, ErrorCodeInvalidClientMeta},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.srv.RegisterClient(context.Background(), tt.reg, "")
			wantProtocolError(t, err, tt.wantCode)
		})
	}
}

func TestRegisterClient_CustomScheme(t *testing.T) {
	env := newTestEnv(t)

	client, _, err := env.srv.RegisterClient(context.Background(), ClientRegistration{
		RedirectURIs:            []string{"com.example.app://oauth/callback"},
		TokenEndpointAuthMethod: TokenEndpointAuthMethodNone,
	}, "")
	testutil.AssertNoError(t, err)
	if !client.HasRedirectURI("com.example.app://oauth/callback") {
		t.Errorf("RedirectURIs = %v", client.RedirectURIs)
	}
}

func TestRegisterClient_PersistsInRegistry(t *testing.T) {
	g := testutil.NewGalaxyServer(t)
	path := filepath.Join(t.TempDir(), "clients.json")
	codec, err := token.NewCodecFromSecret("test-secret", discardLogger())
	testutil.AssertNoError(t, err)
	txns := memory.New()
	defer txns.Stop()

	newServer := func() *Server {
		srv, err := New(codec, txns, file.Open(path, discardLogger()), nil, &Config{
			BaseURL:   testBaseURL,
			GalaxyURL: g.URL,
		}, discardLogger())
		testutil.AssertNoError(t, err)
		return srv
	}

	client, _, err := newServer().RegisterClient(context.Background(), ClientRegistration{
		ClientName:              "Persistent",
		RedirectURIs:            []string{testutil.TestRedirectURI},
		TokenEndpointAuthMethod: TokenEndpointAuthMethodNone,
	}, "")
	testutil.AssertNoError(t, err)

	reloaded, err := newServer().GetClient(context.Background(), client.ClientID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, reloaded.ClientName, "Persistent")

	_, err = newServer().GetClient(context.Background(), "missing")
	if !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient(missing) error = %v, want ErrClientNotFound", err)
	}
}
