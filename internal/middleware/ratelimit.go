package middleware

import (
	"io"
	"net/http"

	"github.com/vyrodovalexey/avarelay/internal/observability"
	"github.com/vyrodovalexey/avarelay/internal/ratelimit"
	"github.com/vyrodovalexey/avarelay/internal/util"
)

// RateLimitHitFunc is called whenever a request is rejected by the
// rate limiter.
type RateLimitHitFunc func()

// RateLimit returns a middleware that limits requests per client IP
// using the given limiter. Limiter errors fail open: the request
// proceeds and the error is logged, so a rate limit store outage does
// not take the relay down with it.
func RateLimit(limiter ratelimit.Limiter, logger observability.Logger, onHit RateLimitHitFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := util.ClientIP(r)

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Error("rate limit check failed",
					observability.String("client_ip", key),
					observability.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				logger.Warn("rate limit exceeded",
					observability.String("client_ip", key),
					observability.String("path", r.URL.Path),
				)
				if onHit != nil {
					onHit()
				}

				w.Header().Set(HeaderContentType, ContentTypeJSON)
				w.Header().Set(HeaderRetryAfter, "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = io.WriteString(w, ErrTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
