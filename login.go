package oauth

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/galaxyproject/galaxy-mcp/internal/util"
	"github.com/galaxyproject/galaxy-mcp/security"
	"github.com/galaxyproject/galaxy-mcp/server"
	"github.com/galaxyproject/galaxy-mcp/storage"
)

const (
	msgMissingTransaction = "Missing transaction identifier."
	msgUnknownTransaction = "Authorization request is no longer valid."
	msgTooManyAttempts    = "Too many login attempts. Please wait a minute and try again."
)

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sign in to Galaxy</title>
<style>
body { font-family: system-ui, sans-serif; background: #f4f6f8; margin: 0; }
main { max-width: 26rem; margin: 4rem auto; background: #fff; padding: 2rem; border-radius: 8px; box-shadow: 0 1px 4px rgba(0,0,0,.15); }
h1 { font-size: 1.4rem; margin-top: 0; }
label { display: block; margin-top: 1rem; font-weight: 600; }
input { width: 100%; box-sizing: border-box; padding: .5rem; margin-top: .25rem; }
button { margin-top: 1.5rem; width: 100%; padding: .6rem; background: #2c3143; color: #fff; border: 0; border-radius: 4px; font-size: 1rem; }
.error { background: #fdecea; color: #8a1c1c; padding: .75rem; border-radius: 4px; }
.scopes { color: #555; font-size: .9rem; }
</style>
</head>
<body>
<main>
<h1>Sign in to Galaxy</h1>
<p>An application is requesting access to your account on <strong>{{.GalaxyURL}}</strong>.</p>
{{if .Scopes}}<p class="scopes">Requested access: {{range $i, $s := .Scopes}}{{if $i}}, {{end}}{{$s}}{{end}}</p>{{end}}
{{if .Error}}<p class="error" role="alert">{{.Error}}</p>{{end}}
<form method="post" action="{{.Action}}">
<input type="hidden" name="txn" value="{{.TransactionID}}">
<label for="username">Username or email</label>
<input id="username" name="username" type="text" autocomplete="username" value="{{.Username}}" required autofocus>
<label for="password">Password</label>
<input id="password" name="password" type="password" autocomplete="current-password" required>
<button type="submit">Allow access</button>
</form>
</main>
</body>
</html>
`))

type loginPage struct {
	GalaxyURL     string
	Scopes        []string
	Error         string
	Action        string
	TransactionID string
	Username      string
}

// ServeLogin renders the Galaxy login form (GET) and completes the pending
// authorization with the submitted credentials (POST). On success the user
// agent is sent back to the client's redirect URI with the code and state.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.serveLoginForm(w, r)
	case http.MethodPost:
		h.submitLogin(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) serveLoginForm(w http.ResponseWriter, r *http.Request) {
	txnID := r.URL.Query().Get("txn")
	txn, ok := h.loadTransaction(w, r, txnID)
	if !ok {
		return
	}
	h.renderLogin(w, r, txnID, txn, "", r.URL.Query().Get("error"))
}

func (h *Handler) submitLogin(w http.ResponseWriter, r *http.Request) {
	clientIP := h.clientIP(r)
	if h.checkRateLimit(w, r, h.loginLimiter, clientIP) {
		security.SetLoginPageHeaders(w, h.baseURL())
		http.Error(w, msgTooManyAttempts, http.StatusTooManyRequests)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	txnID := r.PostFormValue("txn")
	if txnID == "" {
		txnID = r.URL.Query().Get("txn")
	}
	txn, ok := h.loadTransaction(w, r, txnID)
	if !ok {
		return
	}

	username := strings.TrimSpace(r.PostFormValue("username"))
	password := strings.TrimSpace(r.PostFormValue("password"))
	if username == "" || password == "" {
		h.renderLogin(w, r, txnID, txn, username, server.MsgCredentialsRequired)
		return
	}

	result, err := h.provider.CompleteLogin(r.Context(), txnID, username, password, clientIP)
	if err != nil {
		// another submission already consumed the transaction
		if errors.Is(err, storage.ErrTransactionNotFound) {
			security.SetLoginPageHeaders(w, h.baseURL())
			http.Error(w, msgUnknownTransaction, http.StatusBadRequest)
			return
		}

		message := server.MsgUnexpectedLoginError
		var authErr *server.GalaxyAuthenticationError
		if errors.As(err, &authErr) {
			message = authErr.Message
		} else {
			h.logger.Error("Login failed unexpectedly", "client_id", txn.ClientID, "ip", clientIP, "error", err)
		}
		h.renderLogin(w, r, txnID, txn, username, message)
		return
	}

	http.Redirect(w, r, result.RedirectURL, http.StatusSeeOther)
}

// loadTransaction looks up the pending authorization, answering with a plain
// 400 when it is missing or no longer valid.
func (h *Handler) loadTransaction(w http.ResponseWriter, r *http.Request, txnID string) (*storage.Transaction, bool) {
	if txnID == "" {
		security.SetLoginPageHeaders(w, h.baseURL())
		http.Error(w, msgMissingTransaction, http.StatusBadRequest)
		return nil, false
	}

	txn, err := h.provider.GetTransaction(r.Context(), txnID)
	if err != nil {
		if !errors.Is(err, storage.ErrTransactionNotFound) {
			h.logger.Error("Failed to load authorization transaction", "error", err)
		}
		security.SetLoginPageHeaders(w, h.baseURL())
		http.Error(w, msgUnknownTransaction, http.StatusBadRequest)
		return nil, false
	}
	return txn, true
}

// renderLogin points the form at the public login URL. The request path may
// lack the mount prefix when a proxy strips it.
func (h *Handler) renderLogin(w http.ResponseWriter, _ *http.Request, txnID string, txn *storage.Transaction, username, message string) {
	page := loginPage{
		GalaxyURL:     util.NormalizeURL(h.provider.GalaxyURL()),
		Scopes:        txn.Scopes,
		Error:         message,
		Action:        h.baseURL() + server.LoginPath,
		TransactionID: txnID,
		Username:      username,
	}

	security.SetLoginPageHeaders(w, h.baseURL())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginTemplate.Execute(w, page); err != nil {
		h.logger.Error("Failed to render login page", "error", err)
	}
}
