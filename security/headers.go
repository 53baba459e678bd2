package security

import (
	"net/http"
	"net/url"
)

const (
	apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

	// The login page renders a self-contained form with inline styles and a
	// data: URI logo. Form posts go back to the same origin.
	loginContentSecurityPolicy = "default-src 'none'; style-src 'unsafe-inline'; img-src data:; form-action 'self'; frame-ancestors 'none'; base-uri 'none'"

	hstsValue = "max-age=31536000; includeSubDomains"
)

// SetSecurityHeaders sets the headers shared by every OAuth JSON endpoint.
// HSTS is only sent when baseURL uses https.
func SetSecurityHeaders(w http.ResponseWriter, baseURL string) {
	setCommonHeaders(w, baseURL)
	w.Header().Set("Content-Security-Policy", apiContentSecurityPolicy)
}

// SetLoginPageHeaders sets the headers for the HTML login form.
func SetLoginPageHeaders(w http.ResponseWriter, baseURL string) {
	setCommonHeaders(w, baseURL)
	w.Header().Set("Content-Security-Policy", loginContentSecurityPolicy)
}

func setCommonHeaders(w http.ResponseWriter, baseURL string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	h.Set("Pragma", "no-cache")

	if parsed, err := url.Parse(baseURL); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", hstsValue)
	}
}
