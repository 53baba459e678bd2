package testutil

import (
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/galaxyproject/galaxy-mcp/storage"
)

// Test client fixtures.
const (
	TestClientID    = "test-client-id"
	TestRedirectURI = "https://chat.example.com/callback"
)

// GenerateTestClient creates a public test client registered for TestRedirectURI.
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID:                TestClientID,
		ClientIDIssuedAt:        time.Now().Unix(),
		ClientName:              "Test Client",
		ClientType:              storage.ClientTypePublic,
		RedirectURIs:            []string{TestRedirectURI},
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
	}
}

// GeneratePKCEPair generates a valid S256 PKCE challenge and verifier pair.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want any) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
