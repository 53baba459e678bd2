package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIPResolver determines the address used for rate limiting and audit
// records. Forwarding headers are only consulted when TrustProxy is set.
type ClientIPResolver struct {
	TrustProxy bool

	// TrustedProxyCount is the number of proxies we operate, counted from the
	// right of X-Forwarded-For. Zero means one.
	TrustedProxyCount int
}

// ClientIP returns the best-effort client address for r.
func (c ClientIPResolver) ClientIP(r *http.Request) string {
	if c.TrustProxy {
		if ip := c.fromForwardedFor(r.Header.Get("X-Forwarded-For")); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// "client, untrusted, ours-2, ours-1": skip TrustedProxyCount entries from the right.
func (c ClientIPResolver) fromForwardedFor(xff string) string {
	if xff == "" {
		return ""
	}
	hops := strings.Split(xff, ",")

	trusted := c.TrustedProxyCount
	if trusted <= 0 {
		trusted = 1
	}
	idx := len(hops) - trusted - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(hops[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
