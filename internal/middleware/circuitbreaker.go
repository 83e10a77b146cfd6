package middleware

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/avarelay/internal/observability"
	"github.com/vyrodovalexey/avarelay/internal/util"
)

// CircuitBreakerStateFunc is called when the circuit breaker changes
// state. Parameters: name, state (0=closed, 1=half-open, 2=open).
type CircuitBreakerStateFunc func(name string, state int)

// CircuitBreaker wraps gobreaker.CircuitBreaker for the relay's
// inbound surface. A run of 5xx responses opens the breaker; while
// open, requests are rejected with 503 without reaching the proxy
// pool.
type CircuitBreaker struct {
	cb            *gobreaker.CircuitBreaker
	logger        observability.Logger
	stateCallback CircuitBreakerStateFunc
}

// CircuitBreakerSettings configures the breaker.
type CircuitBreakerSettings struct {
	// MaxFailures is the number of consecutive failures that opens
	// the breaker.
	MaxFailures uint32

	// Interval is the cyclic period for clearing counts while closed.
	Interval time.Duration

	// Timeout is how long the breaker stays open before half-open.
	Timeout time.Duration

	// HalfOpenMaxRequests bounds probe requests in half-open state.
	HalfOpenMaxRequests uint32
}

// CircuitBreakerOption is a functional option for configuring the
// circuit breaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithCircuitBreakerLogger sets the logger for the circuit breaker.
func WithCircuitBreakerLogger(logger observability.Logger) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.logger = logger
	}
}

// WithCircuitBreakerStateCallback sets a callback for state changes.
func WithCircuitBreakerStateCallback(fn CircuitBreakerStateFunc) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.stateCallback = fn
	}
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, settings CircuitBreakerSettings, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(cb)
	}

	maxFailures := settings.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	cb.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.HalfOpenMaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			cb.logger.Info("circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			if cb.stateCallback != nil {
				cb.stateCallback(name, int(to))
			}
		},
	})

	return cb
}

// Execute executes a function with circuit breaker protection.
func (cb *CircuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return cb.cb.Execute(fn)
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.cb.State()
}

// CircuitBreakerMiddleware returns a middleware that applies the
// circuit breaker to every request. A 5xx response counts as a
// failure.
func CircuitBreakerMiddleware(cb *CircuitBreaker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := util.NewStatusCapturingResponseWriter(w)

			_, err := cb.Execute(func() (interface{}, error) {
				next.ServeHTTP(rw, r)

				if rw.StatusCode >= 500 {
					return nil, util.NewServerError(rw.StatusCode)
				}
				return nil, nil
			})

			if err == nil {
				return
			}

			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				cb.logger.Warn("circuit breaker rejected request",
					observability.String("path", r.URL.Path),
					observability.String("state", cb.State().String()),
				)

				if !rw.HeaderWritten {
					w.Header().Set(HeaderContentType, ContentTypeJSON)
					w.WriteHeader(http.StatusServiceUnavailable)
					_, _ = io.WriteString(w, ErrServiceUnavailable)
				}
			}
			// For server errors the handler already wrote the response.
		})
	}
}
