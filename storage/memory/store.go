package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/galaxyproject/galaxy-mcp/instrumentation"
	"github.com/galaxyproject/galaxy-mcp/storage"
)

// DefaultCleanupInterval is how often expired transactions are swept.
const DefaultCleanupInterval = time.Minute

// Store is an in-memory TransactionStore and ClientStore.
type Store struct {
	mu sync.RWMutex

	transactions map[string]*storage.Transaction
	clients      map[string]*storage.Client

	transactionTTL time.Duration
	now            func() time.Time

	// set by SetInstrumentation, read on every operation
	telemetry atomic.Pointer[storeTelemetry]

	// read by metric callbacks without taking mu
	transactionsCount atomic.Int64
	clientsCount      atomic.Int64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

type storeTelemetry struct {
	inst   *instrumentation.Instrumentation
	tracer trace.Tracer
}

var (
	_ storage.TransactionStore = (*Store)(nil)
	_ storage.ClientStore      = (*Store)(nil)
)

// New creates a store with the default cleanup interval and transaction TTL.
func New() *Store {
	return NewWithInterval(DefaultCleanupInterval)
}

// NewWithInterval creates a store with a custom cleanup interval.
// If cleanupInterval is 0 or negative, DefaultCleanupInterval is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	s := &Store{
		transactions:    make(map[string]*storage.Transaction),
		clients:         make(map[string]*storage.Client),
		transactionTTL:  storage.DefaultTransactionTTL,
		now:             time.Now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation enables spans, operation metrics and size gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		s.telemetry.Store(nil)
	} else {
		s.telemetry.Store(&storeTelemetry{inst: inst, tracer: inst.Tracer("storage")})
	}

	s.mu.Lock()
	s.transactionsCount.Store(int64(len(s.transactions)))
	s.clientsCount.Store(int64(len(s.clients)))
	s.mu.Unlock()

	if inst != nil {
		if err := inst.RegisterStorageSizeCallbacks(
			s.transactionsCount.Load,
			s.clientsCount.Load,
		); err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// Begin stores a pending transaction and returns its id.
func (s *Store) Begin(ctx context.Context, txn *storage.Transaction) (string, error) {
	ctx, span := s.startStorageSpan(ctx, "begin_transaction")
	defer span.End()
	start := time.Now()

	if txn == nil {
		err := fmt.Errorf("transaction cannot be nil")
		s.recordStorageOperation(ctx, span, "begin_transaction", err, start)
		return "", err
	}

	stored := *txn
	storage.PrepareTransaction(&stored, s.now())

	s.mu.Lock()
	s.transactions[stored.ID] = &stored
	s.transactionsCount.Store(int64(len(s.transactions)))
	s.mu.Unlock()

	s.recordStorageOperation(ctx, span, "begin_transaction", nil, start)
	return stored.ID, nil
}

// Get returns a pending transaction without removing it.
func (s *Store) Get(ctx context.Context, id string) (*storage.Transaction, error) {
	ctx, span := s.startStorageSpan(ctx, "get_transaction")
	defer span.End()
	start := time.Now()

	s.mu.RLock()
	txn, ok := s.transactions[id]
	ttl := s.transactionTTL
	s.mu.RUnlock()

	var err error
	if !ok || txn.Expired(ttl, s.now()) {
		err = storage.ErrTransactionNotFound
	}
	s.recordStorageOperation(ctx, span, "get_transaction", err, start)
	if err != nil {
		return nil, err
	}

	out := *txn
	return &out, nil
}

// Consume removes and returns a pending transaction. Under concurrent calls
// with the same id exactly one caller receives the transaction.
func (s *Store) Consume(ctx context.Context, id string) (*storage.Transaction, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_transaction")
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	txn, ok := s.transactions[id]
	if ok {
		delete(s.transactions, id)
		s.transactionsCount.Store(int64(len(s.transactions)))
	}
	ttl := s.transactionTTL
	s.mu.Unlock()

	var err error
	if !ok || txn.Expired(ttl, s.now()) {
		err = storage.ErrTransactionNotFound
	}
	s.recordStorageOperation(ctx, span, "consume_transaction", err, start)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// TransactionCount returns the number of stored transactions, expired ones included.
func (s *Store) TransactionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transactions)
}

// SaveClient registers or replaces a client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()
	start := time.Now()

	if client == nil || client.ClientID == "" {
		err := fmt.Errorf("client must have a client_id")
		s.recordStorageOperation(ctx, span, "save_client", err, start)
		return err
	}

	stored := *client
	s.mu.Lock()
	s.clients[client.ClientID] = &stored
	s.clientsCount.Store(int64(len(s.clients)))
	s.mu.Unlock()

	s.recordStorageOperation(ctx, span, "save_client", nil, start)
	return nil
}

// GetClient retrieves a client by id.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()
	start := time.Now()

	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()

	if !ok {
		s.recordStorageOperation(ctx, span, "get_client", storage.ErrClientNotFound, start)
		return nil, storage.ErrClientNotFound
	}

	s.recordStorageOperation(ctx, span, "get_client", nil, start)
	out := *client
	return &out, nil
}

// ListClients returns all registered clients.
func (s *Store) ListClients(_ context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out := *c
		clients = append(clients, &out)
	}
	return clients, nil
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup drops expired transactions and returns how many were removed.
func (s *Store) cleanup() int {
	now := s.now()

	s.mu.Lock()
	removed := 0
	for id, txn := range s.transactions {
		if txn.Expired(s.transactionTTL, now) {
			delete(s.transactions, id)
			removed++
		}
	}
	s.transactionsCount.Store(int64(len(s.transactions)))
	logger := s.logger
	s.mu.Unlock()

	if removed > 0 {
		logger.Debug("Cleaned up expired authorization transactions", "count", removed)
	}
	return removed
}

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	t := s.telemetry.Load()
	if t == nil {
		return ctx, tracenoop.Span{}
	}
	return t.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	t := s.telemetry.Load()
	if t == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := "success"
	if err != nil {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	t.inst.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
