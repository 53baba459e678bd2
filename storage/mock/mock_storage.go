// Package mock provides function-field mocks of the storage interfaces for
// tests that need to inject failures or observe calls.
package mock

import (
	"context"
	"sync"

	"github.com/galaxyproject/galaxy-mcp/storage"
)

// TransactionStore is a mock storage.TransactionStore. Nil function fields
// fall back to an in-memory map with pop semantics.
type TransactionStore struct {
	mu           sync.Mutex
	transactions map[string]*storage.Transaction
	callCounts   map[string]int

	BeginFunc   func(ctx context.Context, txn *storage.Transaction) (string, error)
	GetFunc     func(ctx context.Context, id string) (*storage.Transaction, error)
	ConsumeFunc func(ctx context.Context, id string) (*storage.Transaction, error)
}

var _ storage.TransactionStore = (*TransactionStore)(nil)

// NewTransactionStore creates an empty mock transaction store.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		transactions: make(map[string]*storage.Transaction),
		callCounts:   make(map[string]int),
	}
}

func (m *TransactionStore) count(op string) {
	m.mu.Lock()
	m.callCounts[op]++
	m.mu.Unlock()
}

// CallCount returns how often op ("Begin", "Get", "Consume") was called.
func (m *TransactionStore) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[op]
}

// Begin implements storage.TransactionStore.
func (m *TransactionStore) Begin(ctx context.Context, txn *storage.Transaction) (string, error) {
	m.count("Begin")
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx, txn)
	}
	stored := *txn
	if stored.ID == "" {
		stored.ID = storage.NewTransactionID()
	}
	m.mu.Lock()
	m.transactions[stored.ID] = &stored
	m.mu.Unlock()
	return stored.ID, nil
}

// Get implements storage.TransactionStore.
func (m *TransactionStore) Get(ctx context.Context, id string) (*storage.Transaction, error) {
	m.count("Get")
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactions[id]
	if !ok {
		return nil, storage.ErrTransactionNotFound
	}
	out := *txn
	return &out, nil
}

// Consume implements storage.TransactionStore.
func (m *TransactionStore) Consume(ctx context.Context, id string) (*storage.Transaction, error) {
	m.count("Consume")
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactions[id]
	if !ok {
		return nil, storage.ErrTransactionNotFound
	}
	delete(m.transactions, id)
	return txn, nil
}

// ClientStore is a mock storage.ClientStore.
type ClientStore struct {
	mu      sync.RWMutex
	clients map[string]*storage.Client

	SaveClientFunc func(ctx context.Context, client *storage.Client) error
	GetClientFunc  func(ctx context.Context, clientID string) (*storage.Client, error)
}

var _ storage.ClientStore = (*ClientStore)(nil)

// NewClientStore creates a mock client store preloaded with clients.
func NewClientStore(clients ...*storage.Client) *ClientStore {
	m := &ClientStore{clients: make(map[string]*storage.Client)}
	for _, c := range clients {
		m.clients[c.ClientID] = c
	}
	return m
}

// SaveClient implements storage.ClientStore.
func (m *ClientStore) SaveClient(ctx context.Context, client *storage.Client) error {
	if m.SaveClientFunc != nil {
		return m.SaveClientFunc(ctx, client)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client.ClientID] = client
	return nil
}

// GetClient implements storage.ClientStore.
func (m *ClientStore) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if m.GetClientFunc != nil {
		return m.GetClientFunc(ctx, clientID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return c, nil
}

// ListClients implements storage.ClientStore.
func (m *ClientStore) ListClients(_ context.Context) ([]*storage.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*storage.Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	return out, nil
}
