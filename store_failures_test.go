package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/galaxyproject/galaxy-mcp/internal/testutil"
	"github.com/galaxyproject/galaxy-mcp/server"
	"github.com/galaxyproject/galaxy-mcp/storage"
	"github.com/galaxyproject/galaxy-mcp/storage/mock"
)

func TestServeLogin_ConsumesOnlyOnSuccess(t *testing.T) {
	txns := mock.NewTransactionStore()
	env := newTestEnv(t, func(c *Config) { c.TransactionStore = txns })
	txn := startLogin(t, env)

	if rec := submitLogin(env, txn, "alice", "wrong"); rec.Code != http.StatusOK {
		t.Fatalf("failed attempt status = %d", rec.Code)
	}
	if got := txns.CallCount("Consume"); got != 0 {
		t.Errorf("Consume called %d times after a failed login, want 0", got)
	}

	if rec := submitLogin(env, txn, "alice", "s3cret"); rec.Code != http.StatusSeeOther {
		t.Fatalf("login status = %d", rec.Code)
	}
	if got := txns.CallCount("Consume"); got != 1 {
		t.Errorf("Consume called %d times, want 1", got)
	}
}

func TestServeLogin_TransactionStoreFailure(t *testing.T) {
	txns := mock.NewTransactionStore()
	txns.ConsumeFunc = func(context.Context, string) (*storage.Transaction, error) {
		return nil, errors.New("connection reset")
	}
	env := newTestEnv(t, func(c *Config) { c.TransactionStore = txns })
	txn := startLogin(t, env)

	rec := submitLogin(env, txn, "alice", "s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want re-rendered form", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, server.MsgUnexpectedLoginError) {
		t.Errorf("body lacks %q", server.MsgUnexpectedLoginError)
	}
	if strings.Contains(body, "connection reset") {
		t.Error("storage error leaked to the login page")
	}
}

func TestServeClientRegistration_StoreFailure(t *testing.T) {
	clients := mock.NewClientStore(testutil.GenerateTestClient())
	clients.SaveClientFunc = func(context.Context, *storage.Client) error {
		return errors.New("disk full")
	}
	env := newTestEnv(t, func(c *Config) { c.ClientStore = clients })

	body := `{"redirect_uris":["http://localhost:3000/cb"],"token_endpoint_auth_method":"none"}`
	rec := env.serve(httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := decodeError(t, rec); got.Error != ErrorCodeServerError || strings.Contains(got.ErrorDescription, "disk full") {
		t.Errorf("error = %+v", got)
	}
}

func TestServeAuthorization_ClientStoreFailure(t *testing.T) {
	clients := mock.NewClientStore()
	clients.GetClientFunc = func(context.Context, string) (*storage.Client, error) {
		return nil, errors.New("registry unreadable")
	}
	env := newTestEnv(t, func(c *Config) { c.ClientStore = clients })

	challenge, _ := testutil.GeneratePKCEPair()
	req := httptest.NewRequest(http.MethodGet, server.AuthorizePath+"?response_type=code&client_id="+testutil.TestClientID+
		"&redirect_uri="+testutil.TestRedirectURI+"&code_challenge="+challenge+"&code_challenge_method=S256", nil)
	rec := env.serve(req)

	// without a trusted client the error is never redirected
	if rec.Code == http.StatusFound {
		t.Fatalf("redirected to %q", rec.Header().Get("Location"))
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
