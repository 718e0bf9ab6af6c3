// Package middleware provides HTTP rate limiting backed by the engine.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/yourusername/tokengate/core"
	"github.com/yourusername/tokengate/engine"
)

// KeyFunc extracts a rate-limit key from the request
type KeyFunc func(*http.Request) string

// RateLimiter wraps HTTP handlers with engine-backed admission control.
type RateLimiter struct {
	engine  *engine.Engine
	keyFunc KeyFunc
}

// Config for creating a rate limiting middleware
type Config struct {
	Engine  *engine.Engine // Required: the admission engine
	KeyFunc KeyFunc        // Optional: defaults to client IP
}

// NewRateLimiter creates the middleware. The engine is required.
func NewRateLimiter(cfg Config) *RateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = KeyFromIP
	}
	return &RateLimiter{engine: cfg.Engine, keyFunc: cfg.KeyFunc}
}

// KeyFromIP extracts the client IP, preferring X-Forwarded-For.
func KeyFromIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// KeyFromHeader builds a KeyFunc reading the given header, falling back to
// the client IP when the header is empty.
func KeyFromHeader(name string) KeyFunc {
	return func(r *http.Request) string {
		if v := r.Header.Get(name); v != "" {
			return v
		}
		return KeyFromIP(r)
	}
}

// Middleware wraps an http.Handler with rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.keyFunc(r)

		result, err := rl.engine.Check(key, core.CheckOptions{})
		if err != nil {
			http.Error(w, "rate limiter unavailable", http.StatusInternalServerError)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", result.Capacity))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Tokens))

		if !result.Allowed {
			retryAfterSec := result.RetryAfterMs / 1000
			if retryAfterSec == 0 {
				retryAfterSec = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSec))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error":        "rate_limit_exceeded",
				"message":      "Too many requests. Please try again later.",
				"reason":       result.Reason,
				"retryAfterMs": result.RetryAfterMs,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
