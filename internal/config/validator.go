package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates relay configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// ValidateConfig validates a relay configuration.
func ValidateConfig(config *RelayConfig) error {
	v := NewValidator()
	return v.Validate(config)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *RelayConfig) error {
	v.errors = make(ValidationErrors, 0)

	if config == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateRoot(config)
	v.validateServer(&config.Spec.Server)
	v.validateProxy(&config.Spec.Proxy)
	v.validateRateLimit(&config.Spec.RateLimit)
	v.validateObservability(&config.Spec.Observability)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// addError records a validation error.
func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

// validateRoot validates the document envelope.
func (v *Validator) validateRoot(config *RelayConfig) {
	if config.APIVersion == "" {
		v.addError("apiVersion", "apiVersion is required")
	} else if !strings.HasPrefix(config.APIVersion, "relay.avarelay.io/") {
		v.addError("apiVersion", fmt.Sprintf(
			"unsupported apiVersion %q, expected relay.avarelay.io/v1", config.APIVersion))
	}

	if config.Kind == "" {
		v.addError("kind", "kind is required")
	} else if config.Kind != DefaultKind {
		v.addError("kind", fmt.Sprintf("unsupported kind %q, expected %q", config.Kind, DefaultKind))
	}

	if config.Metadata.Name == "" {
		v.addError("metadata.name", "name is required")
	}
}

// validateServer validates the server section.
func (v *Validator) validateServer(server *ServerConfig) {
	if server.ListenAddress == "" {
		v.addError("spec.server.listenAddress", "listen address is required")
	}
	if server.ListenAddress != "" && server.ListenAddress == server.MetricsAddress {
		v.addError("spec.server.metricsAddress",
			"metrics address must differ from listen address")
	}
}

// validateProxy validates the proxy section. A configuration with
// third-party rotation enabled must name at least one third-party
// proxy; an empty list is rejected here rather than discovered at
// request time.
func (v *Validator) validateProxy(proxy *ProxyConfig) {
	if proxy.UseThirdParty && len(proxy.ThirdParty) == 0 {
		v.addError("spec.proxy.thirdParty",
			"at least one third-party proxy is required when useThirdParty is true")
	}

	seen := make(map[string]bool, len(proxy.ThirdParty))
	for i, p := range proxy.ThirdParty {
		path := fmt.Sprintf("spec.proxy.thirdParty[%d]", i)
		v.validateProxyURL(path, p)
		if seen[p] {
			v.addError(path, fmt.Sprintf("duplicate proxy %q", p))
		}
		seen[p] = true
	}

	needsInternal := !proxy.UseThirdParty || proxy.FallbackToInternal
	if needsInternal && proxy.Internal == "" {
		v.addError("spec.proxy.internal",
			"internal proxy is required when useThirdParty is false or fallbackToInternal is true")
	}
	if proxy.Internal != "" {
		v.validateProxyURL("spec.proxy.internal", proxy.Internal)
	}

	if proxy.RequestTimeout < 0 {
		v.addError("spec.proxy.requestTimeout", "request timeout must not be negative")
	}
}

// validateProxyURL checks that a proxy endpoint is an absolute http(s) URL.
func (v *Validator) validateProxyURL(path, raw string) {
	u, err := url.Parse(raw)
	if err != nil {
		v.addError(path, fmt.Sprintf("invalid URL %q: %v", raw, err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		v.addError(path, fmt.Sprintf("unsupported scheme %q, expected http or https", u.Scheme))
	}
	if u.Host == "" {
		v.addError(path, fmt.Sprintf("URL %q has no host", raw))
	}
}

// validateRateLimit validates the rate limit section.
func (v *Validator) validateRateLimit(rl *RateLimitConfig) {
	if !rl.Enabled {
		return
	}

	if rl.RequestsPerSecond <= 0 {
		v.addError("spec.rateLimit.requestsPerSecond", "requests per second must be positive")
	}
	if rl.Burst <= 0 {
		v.addError("spec.rateLimit.burst", "burst must be positive")
	}

	switch rl.Store {
	case "memory":
	case "redis":
		if rl.Redis.Address == "" {
			v.addError("spec.rateLimit.redis.address",
				"redis address is required when store is redis")
		}
	default:
		v.addError("spec.rateLimit.store",
			fmt.Sprintf("unsupported store %q, expected memory or redis", rl.Store))
	}
}

// validateObservability validates the observability section.
func (v *Validator) validateObservability(obs *ObservabilityConfig) {
	switch obs.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		v.addError("spec.observability.logging.level",
			fmt.Sprintf("unsupported level %q", obs.Logging.Level))
	}

	switch obs.Logging.Format {
	case "", "json", "console":
	default:
		v.addError("spec.observability.logging.format",
			fmt.Sprintf("unsupported format %q, expected json or console", obs.Logging.Format))
	}

	if obs.Tracing.SamplingRate < 0 || obs.Tracing.SamplingRate > 1 {
		v.addError("spec.observability.tracing.samplingRate",
			"sampling rate must be between 0 and 1")
	}
}
