package oauth

import (
	"net/http"
	"net/url"

	"github.com/galaxyproject/galaxy-mcp/internal/util"
	"github.com/galaxyproject/galaxy-mcp/server"
)

// Route is a single HTTP route served by the provider.
type Route struct {
	Pattern string
	Handler http.Handler
}

// BasePathFromURL returns the normalized path component of baseURL, the
// prefix the server is mounted under ("" at the root).
func BasePathFromURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return util.NormalizeBasePath(u.Path)
}

// prefixedPaths returns path both at the root and under basePath, without
// duplicates, so exactly one handler serves each logical path.
func prefixedPaths(basePath, path string) []string {
	paths := []string{path}
	if basePath = util.NormalizeBasePath(basePath); basePath != "" {
		paths = append(paths, basePath+path)
	}
	return dedupe(paths)
}

func dedupe(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// LoginPaths returns every path the login form is served on.
func LoginPaths(basePath string) []string {
	return prefixedPaths(basePath, server.LoginPath)
}

// ResourceMetadataPaths returns every path protected resource metadata is served on.
func ResourceMetadataPaths(basePath string) []string {
	return prefixedPaths(basePath, server.ResourceMetadataPath)
}

// ServerMetadataPaths returns every path authorization server metadata is
// served on. For an issuer with a path the RFC 8414 section 3.1 location,
// with the path appended to the well-known prefix, is included.
func ServerMetadataPaths(basePath string) []string {
	paths := prefixedPaths(basePath, server.AuthorizationServerMetadataPath)
	if basePath = util.NormalizeBasePath(basePath); basePath != "" {
		paths = append(paths, server.AuthorizationServerMetadataPath+basePath)
	}
	return dedupe(paths)
}

// Routes returns the provider's routes: the OAuth endpoints, both metadata
// documents, the login form and health. Each is registered at the root and
// under the base path.
func (h *Handler) Routes() []Route {
	endpoints := []struct {
		paths    []string
		endpoint string
		serve    http.HandlerFunc
	}{
		{prefixedPaths(h.basePath, server.AuthorizePath), "authorize", h.ServeAuthorization},
		{prefixedPaths(h.basePath, server.TokenPath), "token", h.ServeToken},
		{prefixedPaths(h.basePath, server.RegisterPath), "register", h.ServeClientRegistration},
		{prefixedPaths(h.basePath, server.RevokePath), "revoke", h.ServeTokenRevocation},
		{ServerMetadataPaths(h.basePath), "authorization_server_metadata", h.ServeAuthorizationServerMetadata},
		{ResourceMetadataPaths(h.basePath), "protected_resource_metadata", h.ServeProtectedResourceMetadata},
		{LoginPaths(h.basePath), "login", h.ServeLogin},
		{prefixedPaths(h.basePath, HealthPath), "health", h.ServeHealth},
	}

	var routes []Route
	seen := make(map[string]struct{})
	for _, e := range endpoints {
		handler := h.instrument(e.endpoint, e.serve)
		for _, p := range e.paths {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			routes = append(routes, Route{Pattern: p, Handler: handler})
		}
	}
	return routes
}

// RegisterRoutes registers every route on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	for _, r := range h.Routes() {
		mux.Handle(r.Pattern, r.Handler)
	}
}

// PublicRoutes serves the provider's routes (OAuth endpoints, metadata, the
// login form and health) without authentication and passes every other
// request to next. Wrap the token-protected application with it.
func (h *Handler) PublicRoutes(next http.Handler) http.Handler {
	public := make(map[string]http.Handler)
	for _, r := range h.Routes() {
		public[r.Pattern] = r.Handler
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := public[r.URL.Path]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
