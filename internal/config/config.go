// Package config provides configuration management for the relay.
// Configuration is loaded from YAML files with environment variable
// substitution and validated before use.
package config

// RelayConfig is the root configuration document for the relay.
type RelayConfig struct {
	// APIVersion identifies the configuration schema version.
	APIVersion string `yaml:"apiVersion" json:"apiVersion"`

	// Kind identifies the configuration document type.
	Kind string `yaml:"kind" json:"kind"`

	// Metadata contains identifying information for this configuration.
	Metadata Metadata `yaml:"metadata" json:"metadata"`

	// Spec contains the relay specification.
	Spec RelaySpec `yaml:"spec" json:"spec"`
}

// Metadata contains identifying information for a configuration document.
type Metadata struct {
	Name   string            `yaml:"name" json:"name"`
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// RelaySpec defines the relay behavior.
type RelaySpec struct {
	// Server configures the inbound HTTP surface.
	Server ServerConfig `yaml:"server" json:"server"`

	// Proxy configures outbound proxy selection and rotation.
	Proxy ProxyConfig `yaml:"proxy" json:"proxy"`

	// RateLimit configures inbound rate limiting.
	RateLimit RateLimitConfig `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`

	// CircuitBreaker configures the inbound circuit breaker.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`

	// Observability configures logging, metrics, and tracing.
	Observability ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// ServerConfig configures the inbound HTTP server.
type ServerConfig struct {
	// ListenAddress is the address the relay server listens on.
	ListenAddress string `yaml:"listenAddress,omitempty" json:"listenAddress,omitempty"`

	// MetricsAddress is the address the metrics/health server listens on.
	MetricsAddress string `yaml:"metricsAddress,omitempty" json:"metricsAddress,omitempty"`

	ReadTimeout     Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout    Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	IdleTimeout     Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`
}

// ProxyConfig configures outbound proxy selection.
type ProxyConfig struct {
	// UseThirdParty enables third-party proxy rotation. When false,
	// every request goes through the internal proxy.
	UseThirdParty bool `yaml:"useThirdParty" json:"useThirdParty"`

	// Internal is the base URL of the internal proxy endpoint.
	Internal string `yaml:"internal,omitempty" json:"internal,omitempty"`

	// ThirdParty is the ordered list of third-party proxy base URLs.
	ThirdParty []string `yaml:"thirdParty,omitempty" json:"thirdParty,omitempty"`

	// FallbackToInternal allows falling back to the internal proxy
	// after all third-party proxies have failed.
	FallbackToInternal bool `yaml:"fallbackToInternal" json:"fallbackToInternal"`

	// RequestTimeout bounds each individual proxy attempt.
	RequestTimeout Duration `yaml:"requestTimeout,omitempty" json:"requestTimeout,omitempty"`

	// Debug enables verbose per-attempt diagnostics.
	Debug bool `yaml:"debug,omitempty" json:"debug,omitempty"`
}

// RateLimitConfig configures inbound rate limiting.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// RequestsPerSecond is the sustained request rate per client.
	RequestsPerSecond int `yaml:"requestsPerSecond,omitempty" json:"requestsPerSecond,omitempty"`

	// Burst is the maximum burst size per client.
	Burst int `yaml:"burst,omitempty" json:"burst,omitempty"`

	// Store selects the limiter backend: "memory" or "redis".
	Store string `yaml:"store,omitempty" json:"store,omitempty"`

	// Window is the counting window for the redis store.
	Window Duration `yaml:"window,omitempty" json:"window,omitempty"`

	// Redis configures the redis store when selected.
	Redis RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// RedisConfig configures the redis connection for rate limiting.
type RedisConfig struct {
	Address  string `yaml:"address,omitempty" json:"address,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
}

// CircuitBreakerConfig configures the inbound circuit breaker.
type CircuitBreakerConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// MaxFailures is the number of consecutive failures that opens
	// the breaker.
	MaxFailures uint32 `yaml:"maxFailures,omitempty" json:"maxFailures,omitempty"`

	// Interval is the cyclic period for clearing counts while closed.
	Interval Duration `yaml:"interval,omitempty" json:"interval,omitempty"`

	// Timeout is how long the breaker stays open before half-open.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// HalfOpenMaxRequests is the number of probe requests allowed in
	// the half-open state.
	HalfOpenMaxRequests uint32 `yaml:"halfOpenMaxRequests,omitempty" json:"halfOpenMaxRequests,omitempty"`
}

// ObservabilityConfig configures logging, metrics, and tracing.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Tracing TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
}

// Default configuration values.
const (
	DefaultAPIVersion     = "relay.avarelay.io/v1"
	DefaultKind           = "ProxyRelay"
	DefaultListenAddress  = ":8080"
	DefaultMetricsAddress = ":9090"
	DefaultMetricsPath    = "/metrics"
	DefaultServiceName    = "avarelay"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultLogOutput      = "stdout"
	DefaultRateLimitStore = "memory"
)

// ApplyDefaults fills in default values for unset fields.
func (c *RelayConfig) ApplyDefaults() {
	s := &c.Spec

	if s.Server.ListenAddress == "" {
		s.Server.ListenAddress = DefaultListenAddress
	}
	if s.Server.MetricsAddress == "" {
		s.Server.MetricsAddress = DefaultMetricsAddress
	}
	if s.Server.ReadTimeout == 0 {
		s.Server.ReadTimeout = Duration(defaultReadTimeout)
	}
	if s.Server.WriteTimeout == 0 {
		s.Server.WriteTimeout = Duration(defaultWriteTimeout)
	}
	if s.Server.IdleTimeout == 0 {
		s.Server.IdleTimeout = Duration(defaultIdleTimeout)
	}
	if s.Server.ShutdownTimeout == 0 {
		s.Server.ShutdownTimeout = Duration(defaultShutdownTimeout)
	}

	if s.Proxy.RequestTimeout == 0 {
		s.Proxy.RequestTimeout = Duration(defaultRequestTimeout)
	}

	if s.RateLimit.Store == "" {
		s.RateLimit.Store = DefaultRateLimitStore
	}
	if s.RateLimit.RequestsPerSecond == 0 {
		s.RateLimit.RequestsPerSecond = defaultRateLimitRPS
	}
	if s.RateLimit.Burst == 0 {
		s.RateLimit.Burst = defaultRateLimitBurst
	}
	if s.RateLimit.Window == 0 {
		s.RateLimit.Window = Duration(defaultRateLimitWindow)
	}

	if s.CircuitBreaker.MaxFailures == 0 {
		s.CircuitBreaker.MaxFailures = defaultBreakerMaxFailures
	}
	if s.CircuitBreaker.Timeout == 0 {
		s.CircuitBreaker.Timeout = Duration(defaultBreakerTimeout)
	}
	if s.CircuitBreaker.Interval == 0 {
		s.CircuitBreaker.Interval = Duration(defaultBreakerInterval)
	}
	if s.CircuitBreaker.HalfOpenMaxRequests == 0 {
		s.CircuitBreaker.HalfOpenMaxRequests = defaultBreakerHalfOpenMax
	}

	if s.Observability.Logging.Level == "" {
		s.Observability.Logging.Level = DefaultLogLevel
	}
	if s.Observability.Logging.Format == "" {
		s.Observability.Logging.Format = DefaultLogFormat
	}
	if s.Observability.Logging.Output == "" {
		s.Observability.Logging.Output = DefaultLogOutput
	}
	if s.Observability.Metrics.Path == "" {
		s.Observability.Metrics.Path = DefaultMetricsPath
	}
	if s.Observability.Tracing.ServiceName == "" {
		s.Observability.Tracing.ServiceName = DefaultServiceName
	}
	if s.Observability.Tracing.SamplingRate == 0 {
		s.Observability.Tracing.SamplingRate = 1.0
	}
}
