package storage

import (
	"context"
	"errors"
	"slices"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrTransactionNotFound is returned for unknown, consumed or expired transactions.
	ErrTransactionNotFound = errors.New("authorization transaction not found")

	// ErrClientNotFound is returned when no client is registered under an id.
	ErrClientNotFound = errors.New("client not found")
)

// DefaultTransactionTTL bounds how long a pending authorization waits for the
// user to log in. It matches the authorization code lifetime.
const DefaultTransactionTTL = 5 * time.Minute

// Transaction is a pending authorization request waiting for the user to log
// in to Galaxy. It is created by Authorize and consumed exactly once by a
// successful login.
type Transaction struct {
	ID                            string    `json:"id"`
	ClientID                      string    `json:"client_id"`
	RedirectURI                   string    `json:"redirect_uri"`
	RedirectURIProvidedExplicitly bool      `json:"redirect_uri_provided_explicitly"`
	State                         string    `json:"state,omitempty"`
	CodeChallenge                 string    `json:"code_challenge"`
	CodeChallengeMethod           string    `json:"code_challenge_method"`
	Scopes                        []string  `json:"scopes"`
	Resource                      string    `json:"resource,omitempty"`
	CreatedAt                     time.Time `json:"created_at"`
}

// Expired reports whether the transaction is older than ttl at now.
func (t *Transaction) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(t.CreatedAt) > ttl
}

// NewTransactionID returns an unguessable URL-safe identifier (32 random bytes).
func NewTransactionID() string {
	return oauth2.GenerateVerifier()
}

// PrepareTransaction fills in the id and creation time when they are unset.
// Store implementations call it from Begin.
func PrepareTransaction(txn *Transaction, now time.Time) {
	if txn.ID == "" {
		txn.ID = NewTransactionID()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
}

// TransactionStore holds pending authorization transactions.
type TransactionStore interface {
	// Begin stores txn and returns its id, assigning one when txn.ID is empty.
	Begin(ctx context.Context, txn *Transaction) (string, error)

	// Get returns a pending transaction without consuming it.
	Get(ctx context.Context, id string) (*Transaction, error)

	// Consume atomically removes and returns a pending transaction. A second
	// call with the same id returns ErrTransactionNotFound.
	Consume(ctx context.Context, id string) (*Transaction, error)
}

// Client types.
const (
	ClientTypePublic       = "public"
	ClientTypeConfidential = "confidential"
)

// Client is a registered OAuth client. Fields are declared in JSON key order
// so that serialized records have sorted keys.
type Client struct {
	ClientID                string   `json:"client_id"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientName              string   `json:"client_name,omitempty"`
	ClientSecretHash        string   `json:"client_secret_hash,omitempty"`
	ClientType              string   `json:"client_type"`
	GrantTypes              []string `json:"grant_types"`
	RedirectURIs            []string `json:"redirect_uris"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// IsPublic reports whether the client has no secret.
func (c *Client) IsPublic() bool {
	return c.ClientType != ClientTypeConfidential
}

// HasRedirectURI reports whether uri is registered exactly.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// ClientStore persists registered clients.
type ClientStore interface {
	// SaveClient registers or replaces a client.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient returns ErrClientNotFound for unknown ids.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ListClients returns every registered client.
	ListClients(ctx context.Context) ([]*Client, error)
}
