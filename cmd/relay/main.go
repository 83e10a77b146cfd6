// Package main is the entry point for the proxy relay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/avarelay/internal/config"
	"github.com/vyrodovalexey/avarelay/internal/health"
	"github.com/vyrodovalexey/avarelay/internal/middleware"
	"github.com/vyrodovalexey/avarelay/internal/observability"
	"github.com/vyrodovalexey/avarelay/internal/ratelimit"
	"github.com/vyrodovalexey/avarelay/internal/relay"
	"github.com/vyrodovalexey/avarelay/internal/router"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)

	app, err := newApplication(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", observability.Error(err))
	}

	run(app, flags.configPath, logger)
}

// parseFlags parses command line flags with environment fallbacks.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("RELAY_CONFIG_PATH", "configs/relay.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("RELAY_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("RELAY_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("avarelay version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// initLogger initializes the global logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.RelayConfig {
	logger.Info("starting avarelay",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	if err := config.ValidateConfig(cfg); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	return cfg
}

// application ties together the relay's components.
type application struct {
	cfg     *config.RelayConfig
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	checker *health.Checker
	limiter ratelimit.Limiter
	server  *relay.Server

	routerMetrics *router.Metrics

	sideServer *http.Server
}

// newRouterFromConfig builds a proxy router from the proxy section.
func newRouterFromConfig(cfg *config.RelayConfig, logger observability.Logger, metrics *router.Metrics) (*router.Router, error) {
	proxy := cfg.Spec.Proxy
	return router.New(router.Config{
		UseThirdParty:      proxy.UseThirdParty,
		InternalProxy:      proxy.Internal,
		ThirdPartyProxies:  proxy.ThirdParty,
		FallbackToInternal: proxy.FallbackToInternal,
		RequestTimeout:     proxy.RequestTimeout.Duration(),
		Debug:              proxy.Debug,
	},
		router.WithLogger(logger),
		router.WithMetrics(metrics),
	)
}

// newLimiterFromConfig builds the configured rate limiter, or nil when
// rate limiting is disabled.
func newLimiterFromConfig(cfg *config.RelayConfig, checker *health.Checker) ratelimit.Limiter {
	rl := cfg.Spec.RateLimit
	if !rl.Enabled {
		return nil
	}

	if rl.Store == "redis" {
		limiter := ratelimit.NewRedisLimiter(ratelimit.RedisOptions{
			Address:  rl.Redis.Address,
			Password: rl.Redis.Password,
			DB:       rl.Redis.DB,
		}, rl.RequestsPerSecond, rl.Window.Duration())

		checker.RegisterCheck("redis", health.PingCheck("redis", 2*time.Second, limiter.Ping))
		return limiter
	}

	return ratelimit.NewMemoryLimiter(rl.RequestsPerSecond, rl.Burst)
}

// newApplication wires all components from the configuration.
func newApplication(cfg *config.RelayConfig, logger observability.Logger) (*application, error) {
	obs := cfg.Spec.Observability

	metrics := observability.NewMetrics("relay")
	metrics.SetBuildInfo(version, gitCommit, buildTime)

	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  obs.Tracing.ServiceName,
		OTLPEndpoint: obs.Tracing.OTLPEndpoint,
		SamplingRate: obs.Tracing.SamplingRate,
		Enabled:      obs.Tracing.Enabled,
	})
	if err != nil {
		return nil, err
	}

	routerMetrics := router.NewMetrics("relay")
	for _, c := range routerMetrics.Collectors() {
		metrics.MustRegisterCollector(c)
	}

	rt, err := newRouterFromConfig(cfg, logger, routerMetrics)
	if err != nil {
		return nil, err
	}

	checker := health.NewChecker(version)

	server := relay.NewServer(relay.ServerConfig{
		Address:      cfg.Spec.Server.ListenAddress,
		ReadTimeout:  cfg.Spec.Server.ReadTimeout.Duration(),
		WriteTimeout: cfg.Spec.Server.WriteTimeout.Duration(),
		IdleTimeout:  cfg.Spec.Server.IdleTimeout.Duration(),
	}, rt, logger)

	checker.RegisterCheck("proxy_pool", health.ProxyPoolCheck(
		len(cfg.Spec.Proxy.ThirdParty),
		func() int { return len(server.CurrentRouter().State().FailedProxies) },
	))

	limiter := newLimiterFromConfig(cfg, checker)

	app := &application{
		cfg:           cfg,
		logger:        logger,
		metrics:       metrics,
		tracer:        tracer,
		checker:       checker,
		limiter:       limiter,
		server:        server,
		routerMetrics: routerMetrics,
	}

	return app, nil
}

// handler assembles the middleware chain around the relay server.
func (app *application) handler() http.Handler {
	middlewares := []relay.Middleware{
		middleware.Recovery(app.logger),
		middleware.RequestID(),
		observability.TracingMiddleware(app.tracer),
		observability.MetricsMiddleware(app.metrics),
		middleware.Logging(app.logger),
	}

	if app.limiter != nil {
		middlewares = append(middlewares,
			middleware.RateLimit(app.limiter, app.logger, app.metrics.RecordRateLimitHit))
	}

	cb := app.cfg.Spec.CircuitBreaker
	if cb.Enabled {
		breaker := middleware.NewCircuitBreaker("relay", middleware.CircuitBreakerSettings{
			MaxFailures:         cb.MaxFailures,
			Interval:            cb.Interval.Duration(),
			Timeout:             cb.Timeout.Duration(),
			HalfOpenMaxRequests: cb.HalfOpenMaxRequests,
		},
			middleware.WithCircuitBreakerLogger(app.logger),
			middleware.WithCircuitBreakerStateCallback(app.metrics.SetCircuitBreakerState),
		)
		middlewares = append(middlewares, middleware.CircuitBreakerMiddleware(breaker))
	}

	return app.server.Handler(middlewares...)
}

// startSideServer serves metrics and health endpoints on the side
// listener.
func (app *application) startSideServer(logger observability.Logger) {
	mux := http.NewServeMux()
	if app.cfg.Spec.Observability.Metrics.Enabled {
		mux.Handle(app.cfg.Spec.Observability.Metrics.Path, app.metrics.Handler())
	}
	mux.Handle("/health", app.checker.HealthHandler())
	mux.Handle("/health/ready", app.checker.ReadinessHandler())
	mux.Handle("/health/live", app.checker.LivenessHandler())

	app.sideServer = &http.Server{
		Addr:         app.cfg.Spec.Server.MetricsAddress,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting metrics server",
			observability.String("address", app.sideServer.Addr),
		)
		if err := app.sideServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", observability.Error(err))
		}
	}()
}

// watchConfig starts the configuration watcher. Proxy section changes
// rebuild the router and swap it into the running server.
func (app *application) watchConfig(ctx context.Context, configPath string, logger observability.Logger) (*config.Watcher, error) {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.RelayConfig) {
		rt, err := newRouterFromConfig(newCfg, logger, app.routerMetrics)
		if err != nil {
			logger.Error("rejecting reloaded proxy configuration", observability.Error(err))
			return
		}

		app.server.SetRouter(rt)
		logger.Info("proxy router rebuilt from reloaded configuration",
			observability.Int("third_party_proxies", len(newCfg.Spec.Proxy.ThirdParty)),
		)
	}, config.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	if err := watcher.Start(ctx); err != nil {
		return nil, err
	}

	return watcher, nil
}

// run starts all servers and blocks until a shutdown signal arrives.
func run(app *application, configPath string, logger observability.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := app.watchConfig(ctx, configPath, logger)
	if err != nil {
		logger.Fatal("failed to start config watcher", observability.Error(err))
	}

	app.startSideServer(logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.server.Start(app.handler())
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal",
			observability.String("signal", sig.String()),
		)
	case err := <-errCh:
		if err != nil {
			logger.Error("relay server failed", observability.Error(err))
		}
	}

	shutdown(app, watcher, logger)
}

// shutdown stops all components gracefully.
func shutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	timeout := app.cfg.Spec.Server.ShutdownTimeout.Duration()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := watcher.Stop(); err != nil {
		logger.Error("failed to stop config watcher", observability.Error(err))
	}

	if err := app.server.Stop(ctx); err != nil {
		logger.Error("failed to stop relay server", observability.Error(err))
	}

	if app.sideServer != nil {
		if err := app.sideServer.Shutdown(ctx); err != nil {
			logger.Error("failed to stop metrics server", observability.Error(err))
		}
	}

	if app.limiter != nil {
		if err := app.limiter.Close(); err != nil {
			logger.Error("failed to close rate limiter", observability.Error(err))
		}
	}

	if err := app.tracer.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down tracer", observability.Error(err))
	}

	logger.Info("shutdown complete")
}
