package util

import "testing"

func TestIsLoopbackHostname(t *testing.T) {
	tests := []struct {
		hostname string
		want     bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"127.10.20.30", true},
		{"::1", true},
		{"[::1]", true},
		{"0.0.0.0", false},
		{"192.168.1.10", false},
		{"example.com", false},
		{"localhost.example.com", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			if got := IsLoopbackHostname(tt.hostname); got != tt.want {
				t.Errorf("IsLoopbackHostname(%q) = %v, want %v", tt.hostname, got, tt.want)
			}
		})
	}
}
