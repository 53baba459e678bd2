package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/galaxyproject/galaxy-mcp/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "galaxy-mcp:"

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxIDLength caps client and transaction ids accepted as keys.
	MaxIDLength = 256
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "galaxy-mcp:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// TransactionTTL bounds pending authorizations (default storage.DefaultTransactionTTL)
	TransactionTTL time.Duration

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed storage.ClientStore and storage.TransactionStore.
type Store struct {
	client         valkeygo.Client
	prefix         string
	transactionTTL time.Duration
	logger         *slog.Logger
}

var (
	_ storage.ClientStore      = (*Store)(nil)
	_ storage.TransactionStore = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ttl := cfg.TransactionTTL
	if ttl <= 0 {
		ttl = storage.DefaultTransactionTTL
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
		Password:    cfg.Password,
		TLSConfig:   cfg.TLS,
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client:         client,
		prefix:         prefix,
		transactionTTL: ttl,
		logger:         logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

func validateID(value, field string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(value) > MaxIDLength {
		return fmt.Errorf("%s exceeds maximum length of %d bytes", field, MaxIDLength)
	}
	return nil
}

// clientKey returns {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

func (s *Store) clientIndexKey() string {
	return s.prefix + "clients"
}

// transactionKey returns {prefix}txn:{id}
func (s *Store) transactionKey(id string) string {
	return fmt.Sprintf("%stxn:%s", s.prefix, id)
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
