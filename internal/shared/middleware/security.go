package middleware

import (
	"net"
	"net/http"
	"strings"
)

// HSTS adds Strict-Transport-Security header to enforce HTTPS
func HSTS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

// NoStore marks API responses as uncacheable; they carry account balances
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

// IsHostAllowed validates a host against the allowed hosts list.
// Used for preventing redirect poisoning attacks when redirecting HTTP to HTTPS.
// Returns true if no allowed hosts are configured.
func IsHostAllowed(host string, allowedHosts []string) bool {
	if len(allowedHosts) == 0 {
		return true
	}

	host, hostname := splitHost(host)
	for _, allowed := range allowedHosts {
		allowed, allowedHostname := splitHost(allowed)
		if host == allowed || hostname == allowedHostname {
			return true
		}
	}
	return false
}

// splitHost normalizes host[:port] and returns it with the bare hostname.
// Bracketed and bare IPv6 literals are both accepted.
func splitHost(s string) (string, string) {
	s = strings.ToLower(strings.TrimSpace(s))
	if hostname, _, err := net.SplitHostPort(s); err == nil {
		return s, hostname
	}
	return s, strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
}
