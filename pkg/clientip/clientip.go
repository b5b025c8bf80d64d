package clientip

import (
	"net"
	"net/http"
	"strings"
)

// RealClientIP returns the client IP from r.RemoteAddr only. Use it when
// traffic reaches the app directly and proxy headers cannot be trusted.
func RealClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return strings.TrimSpace(host)
}

// Resolver picks the client IP for rate limiting, sessions and audit.
type Resolver func(r *http.Request) string

// NewResolver returns RealClientIP, or a resolver that honours the left-most
// X-Forwarded-For / X-Real-IP entry when the app sits behind a trusted proxy.
func NewResolver(trustProxy bool) Resolver {
	if !trustProxy {
		return RealClientIP
	}
	return forwardedClientIP
}

func forwardedClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		if ip := net.ParseIP(xr); ip != nil {
			return ip.String()
		}
	}
	return RealClientIP(r)
}
