package util

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigError(t *testing.T) {
	t.Parallel()

	err := NewConfigError("thirdPartyProxies", "list is empty")
	assert.Equal(t, "config error at thirdPartyProxies: list is empty", err.Error())
	assert.ErrorIs(t, err, ErrConfigInvalid)

	cause := errors.New("parse failed")
	wrapped := NewConfigErrorWithCause("timeout", "bad duration", cause)
	assert.ErrorIs(t, wrapped, cause)
}

func TestAttemptError(t *testing.T) {
	t.Parallel()

	statusErr := NewAttemptError("https://p1/", 502)
	assert.Contains(t, statusErr.Error(), "unexpected status 502")

	cause := errors.New("connection refused")
	transportErr := NewAttemptErrorWithCause("https://p1/", cause)
	assert.Contains(t, transportErr.Error(), "connection refused")
	assert.ErrorIs(t, transportErr, cause)
}

func TestExhaustionError(t *testing.T) {
	t.Parallel()

	last := NewAttemptError("https://p2/", 503)
	err := NewExhaustionError(3, last)

	assert.ErrorIs(t, err, ErrProxiesExhausted)
	assert.Contains(t, err.Error(), "after 3 attempts")

	var attempt *AttemptError
	require.ErrorAs(t, err, &attempt)
	assert.Equal(t, "https://p2/", attempt.Proxy)
}

func TestTimeoutError(t *testing.T) {
	t.Parallel()

	err := NewTimeoutError("dispatch", 5*time.Second)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "dispatch")
}

func TestRateLimitError(t *testing.T) {
	t.Parallel()

	err := NewRateLimitError(100, time.Second)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Contains(t, err.Error(), "limit: 100")
}

func TestWrapError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, WrapError(nil, "context"))

	base := errors.New("base")
	wrapped := WrapError(base, "loading config")
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, "loading config: base", wrapped.Error())
}
