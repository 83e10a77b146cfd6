// Package router implements proxy selection, rotation, and the bounded
// retry loop that relays requests through forwarding proxies.
//
// The router prefers the most recently successful proxy ("sticky"),
// falls back to round-robin rotation over the proxies that have not
// failed since the last reset, and optionally falls back to an internal
// proxy once every third-party proxy has failed.
package router

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/vyrodovalexey/avarelay/internal/observability"
	"github.com/vyrodovalexey/avarelay/internal/util"
)

// DefaultRequestTimeout bounds a single proxy attempt when no timeout
// is configured.
const DefaultRequestTimeout = 30 * time.Second

// maxDrainBytes limits how much of a failed response body is read
// before closing, to allow connection reuse without unbounded reads.
const maxDrainBytes = 4 << 10

// Doer issues a single HTTP request. *http.Client satisfies this
// interface; tests substitute their own implementations.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains the router configuration. It is immutable for the
// lifetime of the router.
type Config struct {
	// UseThirdParty enables third-party proxy rotation. When false,
	// every selection returns the internal proxy.
	UseThirdParty bool

	// InternalProxy is the URL prefix of the internal proxy. The
	// target URL is percent-encoded and appended to it.
	InternalProxy string

	// ThirdPartyProxies is the ordered list of third-party proxy URL
	// prefixes, tried in order.
	ThirdPartyProxies []string

	// FallbackToInternal allows selection to fall back to the internal
	// proxy once every third-party proxy has failed.
	FallbackToInternal bool

	// RequestTimeout bounds each individual attempt. Zero means
	// DefaultRequestTimeout.
	RequestTimeout time.Duration

	// Debug enables per-event diagnostic logging.
	Debug bool
}

// RequestOptions carries the parts of the outbound request the caller
// controls. The body is held as a byte slice so every retry attempt can
// rebuild a fresh reader.
type RequestOptions struct {
	Method string
	Header http.Header
	Body   []byte
}

// Snapshot is a point-in-time copy of the router's mutable state.
type Snapshot struct {
	RotationCursor int      `json:"rotationCursor"`
	FailedProxies  []string `json:"failedProxies"`
	StickyProxy    string   `json:"stickyProxy,omitempty"`
}

// Router selects proxies and drives the retry loop. All state
// mutations are serialized under a single mutex; selection and
// recording are read-modify-write sequences.
type Router struct {
	cfg       Config
	transport Doer
	logger    observability.Logger
	metrics   *Metrics

	mu             sync.Mutex
	rotationCursor int
	failedProxies  map[string]struct{}
	stickyProxy    string
}

// Option is a functional option for configuring the router.
type Option func(*Router)

// WithLogger sets the logger for the router.
func WithLogger(logger observability.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithTransport sets the HTTP transport used for attempts.
func WithTransport(transport Doer) Option {
	return func(r *Router) {
		r.transport = transport
	}
}

// WithMetrics sets the metrics collectors for the router.
func WithMetrics(metrics *Metrics) Option {
	return func(r *Router) {
		r.metrics = metrics
	}
}

// New creates a router from the given configuration. A configuration
// that enables third-party mode with an empty proxy list, or that
// needs the internal proxy but does not name one, is rejected here.
func New(cfg Config, opts ...Option) (*Router, error) {
	if cfg.UseThirdParty && len(cfg.ThirdPartyProxies) == 0 {
		return nil, util.NewConfigError("thirdPartyProxies",
			"at least one third-party proxy is required when third-party mode is enabled")
	}
	if (!cfg.UseThirdParty || cfg.FallbackToInternal) && cfg.InternalProxy == "" {
		return nil, util.NewConfigError("internalProxy",
			"internal proxy is required when third-party mode is disabled or fallback is enabled")
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	r := &Router{
		cfg:           cfg,
		transport:     &http.Client{},
		logger:        observability.NopLogger(),
		failedProxies: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Select returns the proxy to use for the next attempt.
//
// The sticky proxy wins while it is not marked failed. Otherwise the
// rotation cursor indexes into the proxies that are still available,
// modulo their count. When every third-party proxy has failed, the
// internal proxy is returned if fallback is enabled; with fallback
// disabled the failed set is cleared and rotation starts over from the
// first configured proxy.
func (r *Router) Select() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selectLocked()
}

// selectLocked implements Select. Callers must hold r.mu.
func (r *Router) selectLocked() string {
	if !r.cfg.UseThirdParty {
		return r.cfg.InternalProxy
	}

	if r.stickyProxy != "" {
		if _, failed := r.failedProxies[r.stickyProxy]; !failed {
			return r.stickyProxy
		}
	}

	available := make([]string, 0, len(r.cfg.ThirdPartyProxies))
	for _, p := range r.cfg.ThirdPartyProxies {
		if _, failed := r.failedProxies[p]; !failed {
			available = append(available, p)
		}
	}

	if len(available) > 0 {
		return available[r.rotationCursor%len(available)]
	}

	if r.cfg.FallbackToInternal {
		return r.cfg.InternalProxy
	}

	// Every proxy failed and there is no fallback: clear the failed
	// set so the pool is retried from the start.
	r.failedProxies = make(map[string]struct{})
	r.debugLog("proxy pool exhausted, clearing failed set")
	if r.metrics != nil {
		r.metrics.RecordPoolReset()
	}
	return r.cfg.ThirdPartyProxies[0]
}

// BuildRequestURL returns the full outbound URL for the given target:
// the selected proxy prefix followed by the percent-encoded target.
// Internal and third-party proxies use the same construction rule.
func (r *Router) BuildRequestURL(targetURL string) string {
	return r.Select() + url.QueryEscape(targetURL)
}

// buildURL constructs the outbound URL for an already selected proxy.
func buildURL(proxy, targetURL string) string {
	return proxy + url.QueryEscape(targetURL)
}

// RecordFailure marks a proxy as unusable until the next reset. If the
// failed proxy is the sticky proxy, stickiness is cleared. The rotation
// cursor advances regardless of which proxy failed.
func (r *Router) RecordFailure(proxyURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failedProxies[proxyURL] = struct{}{}
	if r.stickyProxy == proxyURL {
		r.stickyProxy = ""
	}
	r.rotationCursor++

	r.debugLog("proxy failure recorded",
		observability.String("proxy", proxyURL),
		observability.Int("cursor", r.rotationCursor),
		observability.Int("failed", len(r.failedProxies)),
	)
	if r.metrics != nil {
		r.metrics.SetFailedProxies(len(r.failedProxies))
	}
}

// RecordSuccess marks a proxy as the sticky proxy, preferring it on
// subsequent selections. The failed set is left untouched.
func (r *Router) RecordSuccess(proxyURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stickyProxy = proxyURL

	r.debugLog("proxy success recorded",
		observability.String("proxy", proxyURL),
	)
}

// Reset clears all mutable state: the failed set, the rotation cursor,
// and the sticky proxy.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failedProxies = make(map[string]struct{})
	r.rotationCursor = 0
	r.stickyProxy = ""

	r.debugLog("router state reset")
	if r.metrics != nil {
		r.metrics.SetFailedProxies(0)
	}
}

// State returns a snapshot of the router's mutable state.
func (r *Router) State() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	failed := make([]string, 0, len(r.failedProxies))
	for p := range r.failedProxies {
		failed = append(failed, p)
	}
	sort.Strings(failed)

	return Snapshot{
		RotationCursor: r.rotationCursor,
		FailedProxies:  failed,
		StickyProxy:    r.stickyProxy,
	}
}

// maxAttempts returns the attempt bound for a single dispatch.
func (r *Router) maxAttempts() int {
	n := len(r.cfg.ThirdPartyProxies)
	if r.cfg.FallbackToInternal {
		n++
	}
	// Internal-only configurations may carry no third-party proxies
	// and no fallback flag; they still get one attempt.
	if n == 0 {
		n = 1
	}
	return n
}

// Dispatch relays a request for targetURL through the proxy pool. Each
// attempt selects a proxy from the current state, bounds the request
// with its own timeout, and records success or failure. The first
// successful response is returned; once the attempt bound is reached
// the last failure is surfaced wrapped in an exhaustion error.
//
// Cancelling one attempt's timeout never affects the next attempt. The
// caller's ctx cancels the whole dispatch.
func (r *Router) Dispatch(ctx context.Context, targetURL string, opts RequestOptions) (*http.Response, error) {
	maxAttempts := r.maxAttempts()
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("dispatch cancelled: %w", err)
		}

		proxyURL := r.Select()

		resp, err := r.attempt(ctx, proxyURL, targetURL, opts)
		if err == nil {
			r.RecordSuccess(proxyURL)
			if r.metrics != nil {
				r.metrics.RecordAttempt(proxyURL, resultSuccess)
				r.metrics.RecordDispatch(resultSuccess, time.Since(start))
			}
			return resp, nil
		}

		r.RecordFailure(proxyURL)
		if r.metrics != nil {
			r.metrics.RecordAttempt(proxyURL, resultFailure)
		}
		r.logger.Warn("proxy attempt failed",
			observability.String("proxy", proxyURL),
			observability.Int("attempt", attempt+1),
			observability.Int("max_attempts", maxAttempts),
			observability.Error(err),
		)
		lastErr = err
	}

	if r.metrics != nil {
		r.metrics.RecordDispatch(resultExhausted, time.Since(start))
	}
	return nil, util.NewExhaustionError(maxAttempts, lastErr)
}

// attempt issues a single request through the given proxy. On success
// the response body cancels the attempt's context when closed; on
// failure the context is cancelled before returning.
func (r *Router) attempt(ctx context.Context, proxyURL, targetURL string, opts RequestOptions) (*http.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, buildURL(proxyURL, targetURL), body)
	if err != nil {
		cancel()
		return nil, util.NewAttemptErrorWithCause(proxyURL, err)
	}
	for k, vs := range opts.Header {
		req.Header[k] = vs
	}
	observability.InjectTraceContext(attemptCtx, req)

	resp, err := r.transport.Do(req)
	if err != nil {
		cancel()
		return nil, util.NewAttemptErrorWithCause(proxyURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		_ = resp.Body.Close()
		cancel()
		return nil, util.NewAttemptError(proxyURL, resp.StatusCode)
	}

	resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// debugLog emits a diagnostic log entry when debug mode is enabled.
func (r *Router) debugLog(msg string, fields ...observability.Field) {
	if r.cfg.Debug {
		r.logger.Debug(msg, fields...)
	}
}

// cancelOnCloseBody ties an attempt's context to the response body so
// the context is released only once the caller has finished reading.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

// Close closes the body and cancels the attempt's context.
func (b *cancelOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
