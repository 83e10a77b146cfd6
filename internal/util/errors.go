// Package util provides utility functions and types for the relay.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrProxiesExhausted.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., ConfigError, AttemptError). Each type
//     implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// All custom error types must implement:
//
//	Error() string           – human-readable message
//	Unwrap() error           – if the type wraps another error
//	Is(target error) bool    – for errors.Is() compatibility
package util

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinel errors.
var (
	ErrProxiesExhausted = errors.New("all proxies exhausted")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTimeout          = errors.New("timeout")
	ErrCircuitOpen      = errors.New("circuit breaker open")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrConfigInvalid    = errors.New("invalid configuration")
)

// ConfigError represents a configuration-related error.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigError)
	return ok || errors.Is(e.Cause, target)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// NewConfigErrorWithCause creates a new ConfigError with a cause.
func NewConfigErrorWithCause(field, message string, cause error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Cause: cause}
}

// AttemptError represents a single failed relay attempt through a proxy.
// It records the proxy that was tried and either the HTTP status the
// proxy answered with or the transport error that occurred.
type AttemptError struct {
	Proxy      string
	StatusCode int
	Cause      error
}

// Error implements the error interface.
func (e *AttemptError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("proxy %s: %v", e.Proxy, e.Cause)
	}
	return fmt.Sprintf("proxy %s: unexpected status %d", e.Proxy, e.StatusCode)
}

// Unwrap returns the underlying error.
func (e *AttemptError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *AttemptError) Is(target error) bool {
	_, ok := target.(*AttemptError)
	return ok || errors.Is(e.Cause, target)
}

// NewAttemptError creates an AttemptError for a non-success HTTP status.
func NewAttemptError(proxy string, statusCode int) *AttemptError {
	return &AttemptError{Proxy: proxy, StatusCode: statusCode}
}

// NewAttemptErrorWithCause creates an AttemptError for a transport failure.
func NewAttemptErrorWithCause(proxy string, cause error) *AttemptError {
	return &AttemptError{Proxy: proxy, Cause: cause}
}

// ExhaustionError is returned when every configured proxy has been tried
// and failed within a single dispatch. It wraps the last attempt's error.
type ExhaustionError struct {
	Attempts int
	Cause    error
}

// Error implements the error interface.
func (e *ExhaustionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("all proxies exhausted after %d attempts: %v", e.Attempts, e.Cause)
	}
	return fmt.Sprintf("all proxies exhausted after %d attempts", e.Attempts)
}

// Unwrap returns the underlying error.
func (e *ExhaustionError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ExhaustionError) Is(target error) bool {
	if target == ErrProxiesExhausted {
		return true
	}
	_, ok := target.(*ExhaustionError)
	return ok || errors.Is(e.Cause, target)
}

// NewExhaustionError creates a new ExhaustionError.
func NewExhaustionError(attempts int, cause error) *ExhaustionError {
	return &ExhaustionError{Attempts: attempts, Cause: cause}
}

// TimeoutError represents a timeout error.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	Cause     error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %v during %s", e.Duration, e.Operation)
}

// Unwrap returns the underlying error.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if target == ErrTimeout {
		return true
	}
	_, ok := target.(*TimeoutError)
	return ok || errors.Is(e.Cause, target)
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{Operation: operation, Duration: duration}
}

// RateLimitError represents a rate limit exceeded error.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit: %d, retry after: %v)", e.Limit, e.RetryAfter)
}

// Is checks if the error matches the target.
func (e *RateLimitError) Is(target error) bool {
	if target == ErrRateLimited {
		return true
	}
	_, ok := target.(*RateLimitError)
	return ok
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(limit int, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Limit: limit, RetryAfter: retryAfter}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
