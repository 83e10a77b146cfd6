package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avarelay/internal/observability"
	"github.com/vyrodovalexey/avarelay/internal/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func TestRecoveryCatchesPanic(t *testing.T) {
	t.Parallel()

	handler := Recovery(observability.NopLogger())(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		},
	))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/relay", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, ErrInternalServer, rec.Body.String())
}

func TestRecoveryPassesThrough(t *testing.T) {
	t.Parallel()

	handler := Recovery(observability.NopLogger())(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/relay", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRequestIDGeneratesWhenMissing(t *testing.T) {
	t.Parallel()

	var captured string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = observability.RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/relay", nil))

	assert.NotEmpty(t, captured)
	assert.Equal(t, captured, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDHonorsInbound(t *testing.T) {
	t.Parallel()

	var captured string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = observability.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/relay", nil)
	req.Header.Set(RequestIDHeader, "inbound-id")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "inbound-id", captured)
	assert.Equal(t, "inbound-id", rec.Header().Get(RequestIDHeader))
}

func TestLoggingPassesThrough(t *testing.T) {
	t.Parallel()

	handler := Logging(observability.NopLogger())(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/relay", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitAllowsAndRejects(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.NewMemoryLimiter(1, 1)
	defer func() { _ = limiter.Close() }()

	hits := 0
	handler := RateLimit(limiter, observability.NopLogger(), func() { hits++ })(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/relay", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(HeaderRetryAfter))
	assert.Equal(t, 1, hits)
}

func TestRateLimitKeysByClientIP(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.NewMemoryLimiter(1, 1)
	defer func() { _ = limiter.Close() }()

	handler := RateLimit(limiter, observability.NopLogger(), nil)(okHandler())

	first := httptest.NewRequest(http.MethodGet, "/relay", nil)
	first.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	// A different client IP gets its own bucket.
	second := httptest.NewRequest(http.MethodGet, "/relay", nil)
	second.RemoteAddr = "10.0.0.2:1234"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// erroringLimiter always fails the limit check.
type erroringLimiter struct{}

func (erroringLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("store unavailable")
}

func (erroringLimiter) Close() error { return nil }

func TestRateLimitFailsOpen(t *testing.T) {
	t.Parallel()

	handler := RateLimit(erroringLimiter{}, observability.NopLogger(), nil)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/relay", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	var lastState int
	cb := NewCircuitBreaker("relay", CircuitBreakerSettings{MaxFailures: 2},
		WithCircuitBreakerStateCallback(func(_ string, state int) {
			lastState = state
		}),
	)

	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	handler := CircuitBreakerMiddleware(cb)(failing)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/relay", nil))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	}

	// Breaker is now open; the handler is not reached.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/relay", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, ErrServiceUnavailable, rec.Body.String())
	assert.Equal(t, 2, lastState)
}

func TestCircuitBreakerStaysClosedOnSuccess(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("relay", CircuitBreakerSettings{MaxFailures: 2})
	handler := CircuitBreakerMiddleware(cb)(okHandler())

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/relay", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, "closed", cb.State().String())
}
