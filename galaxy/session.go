package galaxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrNotConnected is returned when a tool needs Galaxy but no connection exists.
var ErrNotConnected = errors.New("not connected to Galaxy; run connect first with your Galaxy URL and API key")

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	default:
		return "uninitialized"
	}
}

// Session is the shared Galaxy connection used by tool calls that carry no
// OAuth credentials. A failed Connect leaves it uninitialized.
type Session struct {
	mu     sync.RWMutex
	state  State
	client *Client
	user   User

	opts   []Option
	group  singleflight.Group
	logger *slog.Logger
}

// NewSession creates an uninitialized session. opts apply to every client it connects.
func NewSession(logger *slog.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{logger: logger, opts: opts}
}

// Connect validates apiKey against the server at url by fetching the current
// user, and on success makes that connection current. Concurrent calls for
// the same url and key share one upstream check.
func (s *Session) Connect(ctx context.Context, url, apiKey string) (User, error) {
	if url == "" || apiKey == "" {
		s.Reset()
		return nil, errors.New("galaxy url and api key are required")
	}

	client := NewClient(url, apiKey, s.opts...)
	v, err, _ := s.group.Do(client.URL()+"\x00"+apiKey, func() (any, error) {
		return client.CurrentUser(ctx)
	})
	if err != nil {
		s.Reset()
		s.logger.Warn("Failed to connect to Galaxy", "galaxy_url", client.URL(), "error", err)
		return nil, fmt.Errorf("failed to connect to Galaxy at %s: %w", client.URL(), err)
	}
	user := v.(User)

	s.mu.Lock()
	s.state = StateConnected
	s.client = client
	s.user = user
	s.mu.Unlock()

	s.logger.Info("Connected to Galaxy", "galaxy_url", client.URL())
	return user, nil
}

// Reset drops the current connection.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateUninitialized
	s.client = nil
	s.user = nil
}

// Client returns the connected client or ErrNotConnected.
func (s *Session) Client() (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateConnected || s.client == nil {
		return nil, ErrNotConnected
	}
	return s.client, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
