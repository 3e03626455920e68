package ratelimit

import (
	"net/http"

	"golang.org/x/time/rate"
)

// Middleware applies a token bucket of rps requests per second with the
// given burst to every request it wraps. Rejected requests get 429.
func Middleware(rps float64, burst int) func(next http.Handler) http.Handler {
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
