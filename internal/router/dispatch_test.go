package router

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avarelay/internal/util"
)

// scriptedTransport answers each request according to the proxy prefix
// the request URL starts with, recording the order of calls.
type scriptedTransport struct {
	responses map[string]func(*http.Request) (*http.Response, error)
	calls     []string
}

func (s *scriptedTransport) Do(req *http.Request) (*http.Response, error) {
	full := req.URL.String()
	for prefix, respond := range s.responses {
		if strings.HasPrefix(full, prefix) {
			s.calls = append(s.calls, prefix)
			return respond(req)
		}
	}
	s.calls = append(s.calls, full)
	return nil, io.ErrUnexpectedEOF
}

// okResponse builds a minimal successful response.
func okResponse(body string) func(*http.Request) (*http.Response, error) {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     make(http.Header),
		}, nil
	}
}

// statusResponse builds a response with the given status and empty body.
func statusResponse(status int) func(*http.Request) (*http.Response, error) {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     make(http.Header),
		}, nil
	}
}

// errorResponse fails the attempt at the transport level.
func errorResponse(err error) func(*http.Request) (*http.Response, error) {
	return func(*http.Request) (*http.Response, error) {
		return nil, err
	}
}

func TestDispatchFirstAttemptSucceeds(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{
		responses: map[string]func(*http.Request) (*http.Response, error){
			proxyA: okResponse("hello"),
		},
	}
	r := newTestRouter(t, WithTransport(transport))

	resp, err := r.Dispatch(context.Background(), "https://example.com/", RequestOptions{})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	assert.Equal(t, []string{proxyA}, transport.calls)
	assert.Equal(t, proxyA, r.State().StickyProxy)
}

func TestDispatchFallsThroughToInternal(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{
		responses: map[string]func(*http.Request) (*http.Response, error){
			proxyA:   statusResponse(http.StatusBadGateway),
			proxyB:   errorResponse(io.ErrUnexpectedEOF),
			proxyC:   statusResponse(http.StatusForbidden),
			internal: okResponse("fallback"),
		},
	}
	r := newTestRouter(t, WithTransport(transport))

	resp, err := r.Dispatch(context.Background(), "https://example.com/", RequestOptions{})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Len(t, transport.calls, 4)
	assert.Equal(t, internal, transport.calls[3])
	assert.Equal(t, internal, r.State().StickyProxy)
	assert.ElementsMatch(t, []string{proxyA, proxyB, proxyC}, r.State().FailedProxies)
}

// Two third-party proxies fail, the internal fallback succeeds:
// exactly three transport calls in order, sticky set to internal, both
// third-party proxies marked failed.
func TestDispatchEndToEndScenario(t *testing.T) {
	t.Parallel()

	p1 := "https://p1/"
	p2 := "https://p2/"
	internalProxy := "https://int/"

	transport := &scriptedTransport{
		responses: map[string]func(*http.Request) (*http.Response, error){
			p1:            errorResponse(io.ErrUnexpectedEOF),
			p2:            statusResponse(http.StatusServiceUnavailable),
			internalProxy: okResponse("ok"),
		},
	}

	r, err := New(Config{
		UseThirdParty:      true,
		InternalProxy:      internalProxy,
		ThirdPartyProxies:  []string{p1, p2},
		FallbackToInternal: true,
	}, WithTransport(transport))
	require.NoError(t, err)

	resp, err := r.Dispatch(context.Background(), "https://example.com/", RequestOptions{})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{p1, p2, internalProxy}, transport.calls)

	state := r.State()
	assert.Equal(t, internalProxy, state.StickyProxy)
	assert.ElementsMatch(t, []string{p1, p2}, state.FailedProxies)
}

func TestDispatchAttemptBound(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{
		responses: map[string]func(*http.Request) (*http.Response, error){
			proxyA:   statusResponse(http.StatusBadGateway),
			proxyB:   statusResponse(http.StatusBadGateway),
			proxyC:   statusResponse(http.StatusBadGateway),
			internal: statusResponse(http.StatusBadGateway),
		},
	}
	r := newTestRouter(t, WithTransport(transport))

	_, err := r.Dispatch(context.Background(), "https://example.com/", RequestOptions{})
	require.Error(t, err)

	// count(thirdPartyProxies) + 1 for the fallback.
	assert.Len(t, transport.calls, 4)
	assert.ErrorIs(t, err, util.ErrProxiesExhausted)

	var exhaustion *util.ExhaustionError
	require.ErrorAs(t, err, &exhaustion)
	assert.Equal(t, 4, exhaustion.Attempts)
}

func TestDispatchExhaustionCarriesLastFailure(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{
		responses: map[string]func(*http.Request) (*http.Response, error){
			proxyA: statusResponse(http.StatusBadGateway),
		},
	}

	r, err := New(Config{
		UseThirdParty:     true,
		ThirdPartyProxies: []string{proxyA},
	}, WithTransport(transport))
	require.NoError(t, err)

	_, err = r.Dispatch(context.Background(), "https://example.com/", RequestOptions{})
	require.Error(t, err)

	var attempt *util.AttemptError
	require.ErrorAs(t, err, &attempt)
	assert.Equal(t, proxyA, attempt.Proxy)
	assert.Equal(t, http.StatusBadGateway, attempt.StatusCode)
}

func TestDispatchInternalOnlySingleAttempt(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{
		responses: map[string]func(*http.Request) (*http.Response, error){
			internal: statusResponse(http.StatusBadGateway),
		},
	}

	r, err := New(Config{InternalProxy: internal}, WithTransport(transport))
	require.NoError(t, err)

	_, err = r.Dispatch(context.Background(), "https://example.com/", RequestOptions{})
	require.Error(t, err)
	assert.Len(t, transport.calls, 1)
}

func TestDispatchRespectsCallerContext(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{
		responses: map[string]func(*http.Request) (*http.Response, error){
			proxyA: okResponse("unreachable"),
		},
	}
	r := newTestRouter(t, WithTransport(transport))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Dispatch(ctx, "https://example.com/", RequestOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, transport.calls)
}

func TestDispatchSendsMethodHeadersAndBody(t *testing.T) {
	t.Parallel()

	var got *http.Request
	var gotBody []byte
	transport := &scriptedTransport{
		responses: map[string]func(*http.Request) (*http.Response, error){
			proxyA: func(req *http.Request) (*http.Response, error) {
				got = req
				gotBody, _ = io.ReadAll(req.Body)
				return okResponse("ok")(req)
			},
		},
	}
	r := newTestRouter(t, WithTransport(transport))

	opts := RequestOptions{
		Method: http.MethodPost,
		Header: http.Header{"X-Custom": []string{"value"}},
		Body:   []byte(`{"key":"val"}`),
	}

	resp, err := r.Dispatch(context.Background(), "https://example.com/", opts)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "value", got.Header.Get("X-Custom"))
	assert.Equal(t, `{"key":"val"}`, string(gotBody))
}

// A slow proxy is cut off by the per-attempt timeout and the next
// attempt proceeds unaffected by the earlier cancellation.
func TestDispatchPerAttemptTimeout(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	mux.HandleFunc("/fast", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fast response"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	slowProxy := server.URL + "/slow?target="
	fastProxy := server.URL + "/fast?target="

	r, err := New(Config{
		UseThirdParty:     true,
		ThirdPartyProxies: []string{slowProxy, fastProxy},
		RequestTimeout:    100 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	resp, err := r.Dispatch(context.Background(), "https://example.com/", RequestOptions{})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "fast response", string(body))
	assert.Less(t, time.Since(start), 2*time.Second)

	state := r.State()
	assert.Equal(t, fastProxy, state.StickyProxy)
	assert.ElementsMatch(t, []string{slowProxy}, state.FailedProxies)
}

func TestDispatchBodyReadableAfterReturn(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("streamed body"))
	}))
	defer server.Close()

	r, err := New(Config{
		UseThirdParty:     true,
		ThirdPartyProxies: []string{server.URL + "/?target="},
	})
	require.NoError(t, err)

	resp, err := r.Dispatch(context.Background(), "https://example.com/", RequestOptions{})
	require.NoError(t, err)

	// The attempt's context stays alive until the body is closed.
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "streamed body", string(body))
}
