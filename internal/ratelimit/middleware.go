package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// KeyFunc extracts the rate limit key from a request. An empty key skips
// limiting.
type KeyFunc func(r *http.Request) string

// RejectFunc writes the response for a limited request.
type RejectFunc func(w http.ResponseWriter, r *http.Request)

// Middleware enforces limiter on every request with a non-empty key.
// retryAfter is sent in the Retry-After header, in seconds.
func Middleware(limiter Limiter, keyFunc KeyFunc, retryAfter int, reject RejectFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if limiter == nil || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ok, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("ratelimit: limiter error, allowing request", "error", err)
				ok = true
			}
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPKeyFunc keys on the client address. X-Forwarded-For is not trusted.
func IPKeyFunc(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return "ip:" + addr[:idx]
	}
	return "ip:" + addr
}
