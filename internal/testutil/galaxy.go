package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// Fake Galaxy account defaults.
const (
	GalaxyUsername = "alice"
	GalaxyPassword = "s3cret"
	GalaxyAPIKey   = "K"
	GalaxyEmail    = "alice@example.org"
)

// GalaxyServer is a fake Galaxy API for tests. It knows one account and one
// API key and keeps histories in memory.
type GalaxyServer struct {
	*httptest.Server

	mu        sync.Mutex
	Username  string
	Password  string
	APIKey    string
	Email     string
	histories []map[string]any
	calls     map[string]int

	// BaseAuthStatus, when non-zero, is returned by the basic-auth endpoint instead of a key.
	BaseAuthStatus int
	// OmitAPIKey makes the basic-auth endpoint answer 200 without a key.
	OmitAPIKey bool
	// UserStatus, when non-zero, is returned by api/users/current.
	UserStatus int
}

// NewGalaxyServer starts a fake Galaxy and stops it when the test ends.
func NewGalaxyServer(t *testing.T) *GalaxyServer {
	t.Helper()

	g := &GalaxyServer{
		Username: GalaxyUsername,
		Password: GalaxyPassword,
		APIKey:   GalaxyAPIKey,
		Email:    GalaxyEmail,
		calls:    make(map[string]int),
		histories: []map[string]any{
			{"id": "f2db41e1fa331b3e", "name": "RNA-seq"},
			{"id": "1cd8e2f6b131e5aa", "name": "Variant calling"},
			{"id": "ebfb8f50c6abde6d", "name": "Unnamed history"},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/authenticate/baseauth", g.baseAuth)
	mux.HandleFunc("GET /api/users/current", g.withKey(g.currentUser))
	mux.HandleFunc("GET /api/version", g.withKey(g.version))
	mux.HandleFunc("GET /api/configuration", g.withKey(g.configuration))
	mux.HandleFunc("GET /api/histories", g.withKey(g.listHistories))
	mux.HandleFunc("POST /api/histories", g.withKey(g.createHistory))
	mux.HandleFunc("GET /api/histories/{id}", g.withKey(g.showHistory))
	mux.HandleFunc("GET /api/histories/{id}/contents", g.withKey(g.historyContents))

	g.Server = httptest.NewServer(mux)
	t.Cleanup(g.Close)
	return g
}

// Calls returns how often the endpoint named by pattern was hit.
func (g *GalaxyServer) Calls(pattern string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[pattern]
}

func (g *GalaxyServer) count(name string) {
	g.mu.Lock()
	g.calls[name]++
	g.mu.Unlock()
}

func (g *GalaxyServer) baseAuth(w http.ResponseWriter, r *http.Request) {
	g.count("baseauth")
	if g.BaseAuthStatus != 0 {
		http.Error(w, http.StatusText(g.BaseAuthStatus), g.BaseAuthStatus)
		return
	}
	user, pass, ok := r.BasicAuth()
	if !ok || user != g.Username || pass != g.Password {
		http.Error(w, `{"err_msg":"Provided credentials are invalid"}`, http.StatusUnauthorized)
		return
	}
	if g.OmitAPIKey {
		writeJSON(w, map[string]any{})
		return
	}
	writeJSON(w, map[string]any{"api_key": g.APIKey})
}

func (g *GalaxyServer) withKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != g.APIKey {
			http.Error(w, `{"err_msg":"Provided API key is not valid"}`, http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (g *GalaxyServer) currentUser(w http.ResponseWriter, _ *http.Request) {
	g.count("current_user")
	if g.UserStatus != 0 {
		http.Error(w, http.StatusText(g.UserStatus), g.UserStatus)
		return
	}
	writeJSON(w, map[string]any{"id": "adb5f5c93f827949", "username": g.Username, "email": g.Email})
}

func (g *GalaxyServer) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"version_major": "24.1", "version_minor": "2"})
}

func (g *GalaxyServer) configuration(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"brand": "Test Galaxy", "allow_user_creation": true})
}

func (g *GalaxyServer) listHistories(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	list := append([]map[string]any(nil), g.histories...)
	g.mu.Unlock()

	q := r.URL.Query()
	if q.Get("q") == "name" {
		filtered := list[:0]
		for _, h := range list {
			if h["name"] == q.Get("qv") {
				filtered = append(filtered, h)
			}
		}
		list = filtered
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		list = list[min(offset, len(list)):]
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		list = list[:min(limit, len(list))]
	}
	writeJSON(w, list)
}

func (g *GalaxyServer) createHistory(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	h := map[string]any{"id": "new" + strconv.Itoa(len(g.histories)), "name": body.Name}
	g.histories = append(g.histories, h)
	g.mu.Unlock()

	writeJSON(w, h)
}

func (g *GalaxyServer) findHistory(id string) map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, h := range g.histories {
		if h["id"] == id {
			return h
		}
	}
	return nil
}

func (g *GalaxyServer) showHistory(w http.ResponseWriter, r *http.Request) {
	h := g.findHistory(r.PathValue("id"))
	if h == nil {
		http.Error(w, `{"err_msg":"History not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, h)
}

func (g *GalaxyServer) historyContents(w http.ResponseWriter, r *http.Request) {
	if g.findHistory(r.PathValue("id")) == nil {
		http.Error(w, `{"err_msg":"History not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, []map[string]any{
		{"id": "d1", "name": "reads.fastq", "state": "ok"},
		{"id": "d2", "name": "counts.tsv", "state": "ok"},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
