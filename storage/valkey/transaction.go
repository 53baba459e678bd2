package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/galaxyproject/galaxy-mcp/storage"
)

// Begin stores a pending transaction with the transaction TTL as expiry.
func (s *Store) Begin(ctx context.Context, txn *storage.Transaction) (string, error) {
	if txn == nil {
		return "", fmt.Errorf("transaction cannot be nil")
	}

	stored := *txn
	storage.PrepareTransaction(&stored, time.Now())

	data, err := json.Marshal(&stored)
	if err != nil {
		return "", fmt.Errorf("failed to marshal transaction: %w", err)
	}

	key := s.transactionKey(stored.ID)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(s.transactionTTL).Build(),
	).Error(); err != nil {
		return "", fmt.Errorf("failed to save transaction: %w", err)
	}

	return stored.ID, nil
}

// Get returns a pending transaction without consuming it.
func (s *Store) Get(ctx context.Context, id string) (*storage.Transaction, error) {
	if validateID(id, "transaction id") != nil {
		return nil, storage.ErrTransactionNotFound
	}
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.transactionKey(id)).Build()).ToString()
	return s.decodeTransaction(data, err)
}

// Consume atomically fetches and deletes a transaction with GETDEL.
func (s *Store) Consume(ctx context.Context, id string) (*storage.Transaction, error) {
	if validateID(id, "transaction id") != nil {
		return nil, storage.ErrTransactionNotFound
	}
	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(s.transactionKey(id)).Build()).ToString()
	return s.decodeTransaction(data, err)
}

func (s *Store) decodeTransaction(data string, err error) (*storage.Transaction, error) {
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to read transaction: %w", err)
	}

	var txn storage.Transaction
	if err := json.Unmarshal([]byte(data), &txn); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}

	if txn.Expired(s.transactionTTL, time.Now()) {
		return nil, storage.ErrTransactionNotFound
	}
	return &txn, nil
}
