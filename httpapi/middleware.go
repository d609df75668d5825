package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/karwick/authgate"
)

const (
	headerCSRFToken = "X-CSRF-Token"
	headerAuth      = "Authorization"
)

// clientContext attaches the caller's address and user agent to the request
// context for rate limiting and audit metadata downstream.
func clientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authgate.WithClientIP(r.Context(), clientIP(r))
		ctx = authgate.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(r *http.Request) string {
	// X-Forwarded-For is only trustworthy behind a proxy that strips the
	// inbound header; deployments without one should not set it.
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requireAnonymousCSRF rejects unsafe anonymous requests that do not carry a
// live guard token. Runs before the handler, so no side effect precedes the
// check.
func (h *Handler) requireAnonymousCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(headerCSRFToken)
		if err := h.engine.ValidateAnonymousCSRF(r.Context(), token); err != nil {
			writeError(w, http.StatusForbidden, "csrf_rejected")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireSessionCSRF enforces the double-submit check for session-bound
// endpoints using the session's own CSRF token.
func (h *Handler) requireSessionCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access := bearerToken(r)
		token := r.Header.Get(headerCSRFToken)
		if err := h.engine.ValidateSessionCSRF(r.Context(), access, token); err != nil {
			writeError(w, http.StatusForbidden, "csrf_rejected")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get(headerAuth)
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

// backstop is the in-process per-IP limiter sitting in front of the
// Redis-backed one. It protects the process itself when Redis is slow or
// down; budgets here are intentionally generous.
type backstop struct {
	mu       sync.Mutex
	limiters map[string]*backstopEntry
	rps      rate.Limit
	burst    int
}

type backstopEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newBackstop(rps float64, burst int) *backstop {
	if burst <= 0 {
		burst = int(rps)
		if burst <= 0 {
			burst = 1
		}
	}
	b := &backstop{
		limiters: make(map[string]*backstopEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	go b.evictLoop()
	return b
}

func (b *backstop) allow(ip string) bool {
	b.mu.Lock()
	entry, ok := b.limiters[ip]
	if !ok {
		entry = &backstopEntry{limiter: rate.NewLimiter(b.rps, b.burst)}
		b.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	b.mu.Unlock()
	return entry.limiter.Allow()
}

func (b *backstop) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-5 * time.Minute)
		b.mu.Lock()
		for ip, entry := range b.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(b.limiters, ip)
			}
		}
		b.mu.Unlock()
	}
}

func (b *backstop) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}
