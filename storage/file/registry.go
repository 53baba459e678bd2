// Package file persists the OAuth client registry as a JSON file so registered
// clients survive restarts. Tokens are never written to disk.
//
// The file is a JSON array of client objects sorted by client_id. Writes go to
// a temporary file that is renamed over the real path, so a crash mid-write
// leaves the previous registry intact. A missing, empty or malformed file is
// never fatal: the registry starts empty (or partial) and a warning is logged.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/galaxyproject/galaxy-mcp/storage"
)

// Registry is a storage.ClientStore backed by a JSON file.
type Registry struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*storage.Client

	// serializes writers so renames land in registration order
	writeMu sync.Mutex
}

var _ storage.ClientStore = (*Registry)(nil)

// Open loads the registry at path. Load problems are logged, not returned.
func Open(path string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		path:    path,
		logger:  logger,
		clients: make(map[string]*storage.Client),
	}
	r.load()
	return r
}

func (r *Registry) load() {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		r.logger.Warn("Failed to read client registry, starting empty", "path", r.path, "error", err)
		return
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		r.logger.Warn("Client registry is not a JSON array, ignoring it", "path", r.path, "error", err)
		return
	}

	for i, raw := range entries {
		var c storage.Client
		if err := json.Unmarshal(raw, &c); err != nil || c.ClientID == "" {
			r.logger.Warn("Skipping invalid client registry entry", "path", r.path, "index", i)
			continue
		}
		r.clients[c.ClientID] = &c
	}

	r.logger.Debug("Loaded client registry", "path", r.path, "clients", len(r.clients))
}

// SaveClient adds or replaces a client in memory, then persists the registry.
// The in-memory map is updated first, so readers see the client even while
// the write is in flight. A failed write is logged and the registration stands.
func (r *Registry) SaveClient(_ context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client must have a client_id")
	}

	stored := *client
	r.mu.Lock()
	r.clients[client.ClientID] = &stored
	r.mu.Unlock()

	if err := r.persist(); err != nil {
		r.logger.Warn("Failed to persist client registry", "path", r.path, "error", err)
	}
	return nil
}

// GetClient returns storage.ErrClientNotFound for unknown ids.
func (r *Registry) GetClient(_ context.Context, clientID string) (*storage.Client, error) {
	r.mu.RLock()
	c, ok := r.clients[clientID]
	r.mu.RUnlock()
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	out := *c
	return &out, nil
}

// ListClients returns all clients sorted by id.
func (r *Registry) ListClients(_ context.Context) ([]*storage.Client, error) {
	return r.snapshot(), nil
}

func (r *Registry) snapshot() []*storage.Client {
	r.mu.RLock()
	out := make([]*storage.Client, 0, len(r.clients))
	for _, c := range r.clients {
		cp := *c
		out = append(out, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

func (r *Registry) persist() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	// encoding/json writes compact output; storage.Client declares its fields in key order
	data, err := json.Marshal(r.snapshot())
	if err != nil {
		return fmt.Errorf("failed to encode client registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o750); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write client registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace client registry: %w", err)
	}
	return nil
}
