package main

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/galaxyproject/galaxy-mcp/security"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		format  string
		debug   bool
		want    string
		wantErr bool
	}{
		{"text", false, "level=INFO", false},
		{"", true, "level=DEBUG", false},
		{"json", true, `"level":"DEBUG"`, false},
		{"xml", false, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := newLogger(tt.format, tt.debug, &buf)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			if tt.debug {
				logger.Debug("hello")
			} else {
				logger.Info("hello")
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("log output %q lacks %q", buf.String(), tt.want)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	original := rootCmd.Version
	t.Cleanup(func() { rootCmd.Version = original })
	SetVersion("1.2.3-test")

	var out bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&out)
	cmd.Run(cmd, nil)

	if got := out.String(); got != "galaxy-mcp version 1.2.3-test\n" {
		t.Errorf("output = %q", got)
	}
}

func TestSecretCommand(t *testing.T) {
	var first, second bytes.Buffer
	for _, out := range []*bytes.Buffer{&first, &second} {
		cmd := newSecretCmd()
		cmd.SetOut(out)
		if err := cmd.RunE(cmd, nil); err != nil {
			t.Fatalf("secret error = %v", err)
		}
	}

	secret := strings.TrimSpace(first.String())
	key, err := base64.RawURLEncoding.DecodeString(secret)
	if err != nil {
		t.Fatalf("secret %q is not base64url: %v", secret, err)
	}
	if len(key) != security.KeySize {
		t.Errorf("decoded secret length = %d, want %d", len(key), security.KeySize)
	}
	if secret == strings.TrimSpace(second.String()) {
		t.Error("two runs printed the same secret")
	}
}

func TestRootCommand(t *testing.T) {
	if !rootCmd.SilenceUsage {
		t.Error("expected SilenceUsage")
	}

	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "version", "secret"} {
		if !names[want] {
			t.Errorf("missing %q subcommand", want)
		}
	}
	if rootCmd.PersistentFlags().Lookup("config") == nil {
		t.Error("missing --config flag")
	}
}

func TestServeCommand_Flags(t *testing.T) {
	cmd := newServeCmd()
	for _, name := range []string{
		"galaxy-url", "galaxy-api-key", "public-url", "session-secret", "client-registry",
		"host", "port", "transport", "valkey-addr", "log-format", "debug", "instrumentation",
	} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("missing --%s flag", name)
		}
	}
}
