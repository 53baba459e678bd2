package util

import "net"

// IsLoopbackHostname checks if a hostname represents a loopback address.
// This includes the entire 127.0.0.0/8 range (RFC 1122) and IPv6 ::1.
// Expects hostname without port (as returned by url.URL.Hostname()).
//
// Note: This function does NOT consider 0.0.0.0 as loopback (it's "unspecified").
func IsLoopbackHostname(hostname string) bool {
	if hostname == "localhost" {
		return true
	}

	// strip brackets from IPv6 like [::1]
	clean := hostname
	if len(hostname) > 2 && hostname[0] == '[' && hostname[len(hostname)-1] == ']' {
		clean = hostname[1 : len(hostname)-1]
	}

	if ip := net.ParseIP(clean); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
