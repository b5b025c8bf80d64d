package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AnshRaj112/loanhub-backend/pkg/clientip"
)

const (
	headerXContentTypeOptions     = "X-Content-Type-Options"
	headerXFrameOptions           = "X-Frame-Options"
	headerReferrerPolicy          = "Referrer-Policy"
	headerContentSecurityPolicy   = "Content-Security-Policy"
	headerStrictTransportSecurity = "Strict-Transport-Security"
	headerCacheControl            = "Cache-Control"
)

// SecurityHeaders sets security-related response headers. Auth responses
// carry tokens, so they are never cached.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(headerXContentTypeOptions, "nosniff")
		w.Header().Set(headerXFrameOptions, "DENY")
		w.Header().Set(headerReferrerPolicy, "no-referrer")
		w.Header().Set(headerContentSecurityPolicy, "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set(headerStrictTransportSecurity, "max-age=31536000; includeSubDomains")
		w.Header().Set(headerCacheControl, "no-store")
		next.ServeHTTP(w, r)
	})
}

// HostCheck returns 403 when r.Host does not match allowedHost. allowedHost
// is a bare hostname; empty disables the check.
func HostCheck(allowedHost string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowedHost == "" {
				next.ServeHTTP(w, r)
				return
			}
			reqHost := r.Host
			if host, _, err := net.SplitHostPort(reqHost); err == nil {
				reqHost = host
			}
			if !strings.EqualFold(strings.TrimSpace(reqHost), strings.TrimSpace(allowedHost)) {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte("Forbidden"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterTTL             = 30 * time.Minute
)

type limiterEntry struct {
	limiter *rate.Limiter
	lastUse time.Time
}

// IPRateLimiter keeps one token bucket per client IP in process memory.
// Idle buckets are dropped by a background sweep until Stop is called.
type IPRateLimiter struct {
	limit     rate.Limit
	burst     int
	resolveIP clientip.Resolver
	paths     map[string]bool
	message   string

	mu       sync.Mutex
	entries  map[string]*limiterEntry
	stop     chan struct{}
	stopOnce sync.Once
}

// NewIPRateLimiter limits every request, or only requests to paths when any
// are given.
func NewIPRateLimiter(limit rate.Limit, burst int, resolveIP clientip.Resolver, message string, paths ...string) *IPRateLimiter {
	if resolveIP == nil {
		resolveIP = clientip.RealClientIP
	}
	l := &IPRateLimiter{
		limit:     limit,
		burst:     burst,
		resolveIP: resolveIP,
		message:   message,
		entries:   make(map[string]*limiterEntry),
		stop:      make(chan struct{}),
	}
	if len(paths) > 0 {
		l.paths = make(map[string]bool, len(paths))
		for _, p := range paths {
			l.paths[p] = true
		}
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether ip may make another request now.
func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	e, ok := l.entries[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[ip] = e
	}
	e.lastUse = time.Now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.paths != nil && !l.paths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if !l.Allow(l.resolveIP(r)) {
			writeTooManyRequests(w, l.message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *IPRateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for ip, e := range l.entries {
				if now.Sub(e.lastUse) > limiterTTL {
					delete(l.entries, ip)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Credential-guessing routes get a stricter budget than the rest of the API.
var credentialPaths = []string{
	"/api/auth/login",
	"/api/auth/register",
	"/api/auth/forgot-password",
	"/api/auth/reset-password",
}

// NewGlobalRateLimit limits each IP to 5 req/s, burst 20.
func NewGlobalRateLimit(resolveIP clientip.Resolver) *IPRateLimiter {
	return NewIPRateLimiter(rate.Limit(5), 20, resolveIP, "Too many requests. Please slow down.")
}

// NewLoginRateLimit limits credential routes to 1 req/3s per IP, burst 5.
func NewLoginRateLimit(resolveIP clientip.Resolver) *IPRateLimiter {
	return NewIPRateLimiter(rate.Every(3*time.Second), 5, resolveIP,
		"Too many login attempts. Please try again later.", credentialPaths...)
}

// ProductionSecurity returns SecurityHeaders, HostCheck and the global and
// login limiters, in that order. The limiters are returned so the caller can
// stop them on shutdown.
func ProductionSecurity(allowedHost string, resolveIP clientip.Resolver) ([]func(http.Handler) http.Handler, []*IPRateLimiter) {
	global := NewGlobalRateLimit(resolveIP)
	login := NewLoginRateLimit(resolveIP)
	return []func(http.Handler) http.Handler{
		SecurityHeaders,
		HostCheck(allowedHost),
		global.Middleware,
		login.Middleware,
	}, []*IPRateLimiter{global, login}
}
