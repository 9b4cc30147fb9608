package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"breachmap/internal/apierr"
	"breachmap/internal/authn"
)

type contextKey string

const claimsKey contextKey = "authn_claims"

// authenticated wraps a handler to require a valid bearer token, storing
// the verified claims on the request context for the handler to read.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.claimsFromRequest(r)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// adminOnly wraps a handler to additionally require the admin role.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := r.Context().Value(claimsKey).(authn.Claims)
		if claims.Role != authn.RoleAdmin {
			writeError(w, apierr.New(apierr.Authorization, "admin_required", "this endpoint requires the admin role"))
			return
		}
		next(w, r)
	})
}

func (s *Server) claimsFromRequest(r *http.Request) (authn.Claims, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return authn.Claims{}, apierr.New(apierr.Authorization, "missing_bearer_token", "a bearer token is required")
	}
	return s.auth.Verify(strings.TrimPrefix(header, prefix))
}

func actorFromRequest(r *http.Request) string {
	claims, _ := r.Context().Value(claimsKey).(authn.Claims)
	if claims.Username == "" {
		return "anonymous"
	}
	return claims.Username
}

// rateLimiter is a fixed-window per-IP request counter guarding the two
// public, unauthenticated auth endpoints.
type rateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	counters map[string]*windowCounter
}

type windowCounter struct {
	count      int
	windowEnds time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window, counters: make(map[string]*windowCounter)}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	c, ok := rl.counters[key]
	if !ok || now.After(c.windowEnds) {
		c = &windowCounter{count: 0, windowEnds: now.Add(rl.window)}
		rl.counters[key] = c
	}
	c.count++
	return c.count <= rl.limit
}

func (rl *rateLimiter) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			writeError(w, apierr.New(apierr.Validation, "rate_limited", "too many requests from this address, try again shortly"))
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
