package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/galaxyproject/galaxy-mcp/storage"
)

// Clients live under {prefix}client:{id}; their ids are also kept in the
// {prefix}clients set so listing the registry never needs a keyspace SCAN.

// SaveClient writes the client record and adds its id to the registry index
// in one pipeline.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil {
		return fmt.Errorf("client must have a client_id")
	}
	if err := validateID(client.ClientID, "client_id"); err != nil {
		return err
	}

	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to encode client %s: %w", client.ClientID, err)
	}

	results := s.client.DoMulti(ctx,
		s.client.B().Set().Key(s.clientKey(client.ClientID)).Value(string(data)).Build(),
		s.client.B().Sadd().Key(s.clientIndexKey()).Member(client.ClientID).Build(),
	)
	for _, r := range results {
		if err := r.Error(); err != nil {
			return fmt.Errorf("failed to save client %s: %w", client.ClientID, err)
		}
	}

	s.logger.Debug("Registered client in valkey", "client_id", client.ClientID)
	return nil
}

// GetClient returns storage.ErrClientNotFound for unknown or malformed ids.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if validateID(clientID, "client_id") != nil {
		return nil, storage.ErrClientNotFound
	}

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientKey(clientID)).Build()).ToString()
	if isNilError(err) {
		return nil, storage.ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read client %s: %w", clientID, err)
	}
	return decodeClient(data)
}

// ListClients returns every indexed client sorted by id. Index entries whose
// record is gone or unreadable are skipped.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	ids, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.clientIndexKey()).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to read client index: %w", err)
	}
	if len(ids) == 0 {
		return []*storage.Client{}, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.clientKey(id)
	}
	records, err := valkeygo.MGet(s.client, ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read clients: %w", err)
	}

	clients := make([]*storage.Client, 0, len(ids))
	for i, key := range keys {
		msg, ok := records[key]
		if !ok {
			continue
		}
		data, err := msg.ToString()
		if err != nil {
			if !isNilError(err) {
				s.logger.Warn("Skipping unreadable client", "client_id", ids[i], "error", err)
			}
			continue
		}
		c, err := decodeClient(data)
		if err != nil {
			s.logger.Warn("Skipping malformed client", "client_id", ids[i], "error", err)
			continue
		}
		clients = append(clients, c)
	}
	return clients, nil
}

func decodeClient(data string) (*storage.Client, error) {
	var c storage.Client
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("failed to decode client: %w", err)
	}
	return &c, nil
}
