package valkey

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxyproject/galaxy-mcp/storage"
)

// testStore connects to VALKEY_TEST_ADDR and skips the test when it is unset
// or unreachable. Each test gets its own key prefix.
func testStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		t.Skip("VALKEY_TEST_ADDR not set")
	}

	prefix := fmt.Sprintf("galaxytest:%s:", strings.ReplaceAll(t.Name(), "/", "_"))

	store, err := New(Config{
		Address:        addr,
		KeyPrefix:      prefix,
		TransactionTTL: ttl,
	})
	if err != nil {
		t.Skipf("could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})
	cleanupTestKeys(t, store)
	return store
}

func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(s.prefix+"*").Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("failed to scan for cleanup: %v", err)
			return
		}
		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}
		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func TestNew_MissingAddress(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_InvalidAddress(t *testing.T) {
	_, err := New(Config{Address: "invalid:99999"})
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	s := &Store{prefix: DefaultKeyPrefix}
	assert.Equal(t, "galaxy-mcp:client:abc", s.clientKey("abc"))
	assert.Equal(t, "galaxy-mcp:txn:xyz", s.transactionKey("xyz"))
	assert.Equal(t, "galaxy-mcp:clients", s.clientIndexKey())
}

func TestValidateID(t *testing.T) {
	assert.Error(t, validateID("", "client_id"))
	assert.Error(t, validateID(strings.Repeat("a", MaxIDLength+1), "client_id"))
	assert.NoError(t, validateID("client-1", "client_id"))
}

func TestClientStore(t *testing.T) {
	store := testStore(t, 0)
	ctx := context.Background()

	_, err := store.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)

	for _, id := range []string{"client-b", "client-a"} {
		require.NoError(t, store.SaveClient(ctx, &storage.Client{
			ClientID:     id,
			ClientType:   storage.ClientTypePublic,
			RedirectURIs: []string{"https://client.example/cb"},
		}))
	}

	got, err := store.GetClient(ctx, "client-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://client.example/cb"}, got.RedirectURIs)

	clients, err := store.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, "client-a", clients[0].ClientID)
	assert.Equal(t, "client-b", clients[1].ClientID)
}

func TestClientStore_ListSkipsMissingRecords(t *testing.T) {
	store := testStore(t, 0)
	ctx := context.Background()

	clients, err := store.ListClients(ctx)
	require.NoError(t, err)
	assert.Empty(t, clients)

	for _, id := range []string{"client-a", "client-b"} {
		require.NoError(t, store.SaveClient(ctx, &storage.Client{ClientID: id, ClientType: storage.ClientTypePublic}))
	}
	require.NoError(t, store.client.Do(ctx, store.client.B().Del().Key(store.clientKey("client-a")).Build()).Error())

	clients, err = store.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "client-b", clients[0].ClientID)
}

func TestTransactionStore_ConsumeOnce(t *testing.T) {
	store := testStore(t, 0)
	ctx := context.Background()

	id, err := store.Begin(ctx, &storage.Transaction{
		ClientID:      "client-1",
		CodeChallenge: "challenge",
		Scopes:        []string{"galaxy:full"},
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "client-1", got.ClientID)

	txn, err := store.Consume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, txn.ID)

	_, err = store.Consume(ctx, id)
	assert.ErrorIs(t, err, storage.ErrTransactionNotFound)
}

func TestTransactionStore_ConcurrentConsume(t *testing.T) {
	store := testStore(t, 0)
	ctx := context.Background()

	id, err := store.Begin(ctx, &storage.Transaction{ClientID: "client-1"})
	require.NoError(t, err)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Consume(ctx, id); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestTransactionStore_Expiry(t *testing.T) {
	store := testStore(t, time.Second)
	ctx := context.Background()

	id, err := store.Begin(ctx, &storage.Transaction{ClientID: "client-1"})
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)

	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, storage.ErrTransactionNotFound)
}
