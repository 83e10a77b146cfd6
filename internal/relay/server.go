// Package relay provides the inbound HTTP server that exposes the
// proxy router: a relay endpoint plus admin operations for resetting
// and inspecting router state.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avarelay/internal/observability"
	"github.com/vyrodovalexey/avarelay/internal/router"
	"github.com/vyrodovalexey/avarelay/internal/util"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race
// conditions.
var ginModeOnce sync.Once

// maxRelayBodyBytes bounds the inbound request body that is buffered
// for retries.
const maxRelayBodyBytes = 10 << 20

// hopByHopHeaders are stripped from the inbound request before it is
// forwarded through a proxy.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ServerConfig holds configuration for the relay server.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Server is the inbound HTTP server. The proxy router it dispatches
// through is swappable at runtime so configuration reloads take effect
// without restarting the listener.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	logger     observability.Logger
	config     ServerConfig

	routerMu sync.RWMutex
	router   *router.Router

	mu      sync.Mutex
	running bool
}

// NewServer creates a relay server over the given proxy router.
// Middlewares wrap the whole handler, outermost first.
func NewServer(cfg ServerConfig, rt *router.Router, logger observability.Logger) *Server {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		engine: gin.New(),
		logger: logger,
		config: cfg,
		router: rt,
	}

	s.registerRoutes()

	return s
}

// registerRoutes wires the relay and admin endpoints.
func (s *Server) registerRoutes() {
	s.engine.Any("/relay", s.handleRelay)
	s.engine.POST("/admin/reset", s.handleReset)
	s.engine.GET("/admin/state", s.handleState)
}

// Handler returns the server's handler wrapped in the given
// middlewares, outermost first.
func (s *Server) Handler(middlewares ...Middleware) http.Handler {
	var h http.Handler = s.engine
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// SetRouter swaps the proxy router. In-flight dispatches keep the
// router they started with.
func (s *Server) SetRouter(rt *router.Router) {
	s.routerMu.Lock()
	defer s.routerMu.Unlock()
	s.router = rt
}

// CurrentRouter returns the proxy router currently in use.
func (s *Server) CurrentRouter() *router.Router {
	return s.getRouter()
}

// getRouter returns the current proxy router.
func (s *Server) getRouter() *router.Router {
	s.routerMu.RLock()
	defer s.routerMu.RUnlock()
	return s.router
}

// handleRelay relays the inbound request through the proxy pool. The
// target is passed in the url query parameter; method, headers, and
// body are forwarded.
func (s *Server) handleRelay(c *gin.Context) {
	target := c.Query("url")
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing url parameter"})
		return
	}

	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid target url %q", target)})
		return
	}

	var body []byte
	if c.Request.Body != nil {
		body, err = io.ReadAll(io.LimitReader(c.Request.Body, maxRelayBodyBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}
		if len(body) > maxRelayBodyBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
	}

	opts := router.RequestOptions{
		Method: c.Request.Method,
		Header: forwardableHeaders(c.Request.Header),
		Body:   body,
	}

	resp, err := s.getRouter().Dispatch(c.Request.Context(), target, opts)
	if err != nil {
		s.logger.WithContext(c.Request.Context()).Error("relay dispatch failed",
			observability.String("target", target),
			observability.Error(err),
		)

		status := http.StatusBadGateway
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for k, vs := range resp.Header {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Status(resp.StatusCode)

	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		s.logger.WithContext(c.Request.Context()).Warn("relay response copy interrupted",
			observability.String("target", target),
			observability.Error(err),
		)
	}
}

// handleReset clears the proxy router's rotation state.
func (s *Server) handleReset(c *gin.Context) {
	s.getRouter().Reset()
	s.logger.WithContext(c.Request.Context()).Info("router state reset via admin endpoint")
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// handleState returns a snapshot of the proxy router's state.
func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.getRouter().State())
}

// forwardableHeaders copies the inbound headers minus hop-by-hop ones.
func forwardableHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		out[k] = append([]string(nil), vs...)
	}
	for _, k := range hopByHopHeaders {
		out.Del(k)
	}
	return out
}

// Start starts the relay server with the given outer handler. It
// blocks until the listener stops.
func (s *Server) Start(handler http.Handler) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}

	if handler == nil {
		handler = s.engine
	}

	s.httpServer = &http.Server{
		Addr:         s.config.Address,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting relay server",
		observability.String("address", s.config.Address),
	)

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return util.WrapError(err, "relay server")
	}

	return nil
}

// Stop stops the relay server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.logger.Info("stopping relay server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return util.WrapError(err, "relay server shutdown")
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("relay server stopped")
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
