package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type contextKey string

const claimsKey contextKey = "claims"

// ClaimsFromContext extracts JWT Claims from an HTTP request context.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

// requireAuth rejects requests without a valid "Bearer <token>" header and
// puts the claims of valid ones in the request context.
func requireAuth(auth *AuthService, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			writeError(w, http.StatusUnauthorized, "authorization required")
			return
		}
		claims, err := auth.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// rateLimiter counts requests per client IP in fixed one-minute windows.
type rateLimiter struct {
	mu       sync.Mutex
	requests map[string]*rateBucket
	limit    int
	window   time.Duration
	now      func() time.Time
}

type rateBucket struct {
	count  int
	expiry time.Time
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	return &rateLimiter{
		requests: make(map[string]*rateBucket),
		limit:    requestsPerMinute,
		window:   time.Minute,
		now:      time.Now,
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for k, b := range rl.requests {
		if now.After(b.expiry) {
			delete(rl.requests, k)
		}
	}
	bucket, ok := rl.requests[ip]
	if !ok {
		rl.requests[ip] = &rateBucket{count: 1, expiry: now.Add(rl.window)}
		return true
	}
	bucket.count++
	return bucket.count <= rl.limit
}

// limitHandler rejects requests over the per-IP rate. A limit of zero disables it.
func (rl *rateLimiter) limitHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.limit > 0 {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !rl.allow(ip) {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
