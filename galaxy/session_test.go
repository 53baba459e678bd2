package galaxy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/galaxyproject/galaxy-mcp/internal/testutil"
)

func TestSession_StartsUninitialized(t *testing.T) {
	s := NewSession(nil)

	if s.State() != StateUninitialized {
		t.Errorf("State() = %v, want %v", s.State(), StateUninitialized)
	}
	if _, err := s.Client(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Client() error = %v, want ErrNotConnected", err)
	}
}

func TestSession_Connect(t *testing.T) {
	g := testutil.NewGalaxyServer(t)
	s := NewSession(nil)

	user, err := s.Connect(context.Background(), g.URL, testutil.GalaxyAPIKey)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if user.Username() != testutil.GalaxyUsername {
		t.Errorf("Connect() user = %q, want %q", user.Username(), testutil.GalaxyUsername)
	}
	if s.State() != StateConnected {
		t.Errorf("State() = %v, want connected", s.State())
	}

	c, err := s.Client()
	if err != nil {
		t.Fatalf("Client() error = %v", err)
	}
	if c.URL() != g.URL+"/" {
		t.Errorf("Client().URL() = %q, want %q", c.URL(), g.URL+"/")
	}
}

func TestSession_ConnectFailureResets(t *testing.T) {
	g := testutil.NewGalaxyServer(t)
	s := NewSession(nil)

	if _, err := s.Connect(context.Background(), g.URL, testutil.GalaxyAPIKey); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if _, err := s.Connect(context.Background(), g.URL, "bad-key"); err == nil {
		t.Fatal("Connect() with a bad key should fail")
	}
	if s.State() != StateUninitialized {
		t.Errorf("State() after failed Connect = %v, want uninitialized", s.State())
	}
	if _, err := s.Client(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Client() error = %v, want ErrNotConnected", err)
	}
}

func TestSession_ConnectMissingArguments(t *testing.T) {
	s := NewSession(nil)
	if _, err := s.Connect(context.Background(), "", "k"); err == nil {
		t.Error("Connect() without url should fail")
	}
	if _, err := s.Connect(context.Background(), "https://usegalaxy.org", ""); err == nil {
		t.Error("Connect() without api key should fail")
	}
}

func TestSession_Reset(t *testing.T) {
	g := testutil.NewGalaxyServer(t)
	s := NewSession(nil)
	if _, err := s.Connect(context.Background(), g.URL, testutil.GalaxyAPIKey); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	s.Reset()

	if s.State() != StateUninitialized {
		t.Errorf("State() = %v, want uninitialized", s.State())
	}
}

func TestSession_ConcurrentConnect(t *testing.T) {
	g := testutil.NewGalaxyServer(t)
	s := NewSession(nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Connect(context.Background(), g.URL, testutil.GalaxyAPIKey); err != nil {
				t.Errorf("Connect() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if s.State() != StateConnected {
		t.Errorf("State() = %v, want connected", s.State())
	}
}

func TestState_String(t *testing.T) {
	if StateConnected.String() != "connected" || StateUninitialized.String() != "uninitialized" {
		t.Errorf("unexpected State strings: %q, %q", StateConnected, StateUninitialized)
	}
}
