package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigYAML = `
apiVersion: relay.avarelay.io/v1
kind: ProxyRelay
metadata:
  name: test-relay
spec:
  server:
    listenAddress: ":8080"
    metricsAddress: ":9090"
  proxy:
    useThirdParty: true
    internal: "http://internal-proxy.local/fetch?url="
    thirdParty:
      - "http://proxy-a.example.com/get?target="
      - "http://proxy-b.example.com/get?target="
    fallbackToInternal: true
    requestTimeout: "10s"
`

func TestLoadConfigFromReader(t *testing.T) {
	t.Parallel()

	config, err := LoadConfigFromReader(strings.NewReader(validConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "relay.avarelay.io/v1", config.APIVersion)
	assert.Equal(t, "ProxyRelay", config.Kind)
	assert.Equal(t, "test-relay", config.Metadata.Name)
	assert.True(t, config.Spec.Proxy.UseThirdParty)
	assert.Len(t, config.Spec.Proxy.ThirdParty, 2)
	assert.Equal(t, 10*time.Second, config.Spec.Proxy.RequestTimeout.Duration())
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfigYAML), 0o600))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "test-relay", config.Metadata.Name)
}

func TestLoadConfigFileNotFound(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig("/nonexistent/relay.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	t.Parallel()

	_, err := LoadConfigFromReader(strings.NewReader("apiVersion: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Parallel()

	minimal := `
apiVersion: relay.avarelay.io/v1
kind: ProxyRelay
metadata:
  name: minimal
spec:
  proxy:
    useThirdParty: false
    internal: "http://internal.local/fetch?url="
`

	config, err := LoadConfigFromReader(strings.NewReader(minimal))
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddress, config.Spec.Server.ListenAddress)
	assert.Equal(t, DefaultMetricsAddress, config.Spec.Server.MetricsAddress)
	assert.Equal(t, 30*time.Second, config.Spec.Proxy.RequestTimeout.Duration())
	assert.Equal(t, DefaultRateLimitStore, config.Spec.RateLimit.Store)
	assert.Equal(t, DefaultLogLevel, config.Spec.Observability.Logging.Level)
	assert.Equal(t, DefaultLogFormat, config.Spec.Observability.Logging.Format)
	assert.Equal(t, 1.0, config.Spec.Observability.Tracing.SamplingRate)
}

func TestSubstituteEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		env      map[string]string
		expected string
	}{
		{
			name:     "set variable",
			content:  "internal: ${RELAY_INTERNAL}",
			env:      map[string]string{"RELAY_INTERNAL": "http://internal.local"},
			expected: "internal: http://internal.local",
		},
		{
			name:     "unset variable with default",
			content:  "level: ${RELAY_LOG_LEVEL:-debug}",
			expected: "level: debug",
		},
		{
			name:     "unset variable without default",
			content:  "password: ${RELAY_REDIS_PASSWORD}",
			expected: "password: ",
		},
		{
			name:     "set variable overrides default",
			content:  "level: ${RELAY_LOG_LEVEL2:-debug}",
			env:      map[string]string{"RELAY_LOG_LEVEL2": "warn"},
			expected: "level: warn",
		},
		{
			name:     "escaped dollar",
			content:  "literal: $${NOT_A_VAR}",
			expected: "literal: ${NOT_A_VAR}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			loader := NewLoader()
			assert.Equal(t, tt.expected, loader.substituteEnvVars(tt.content))
		})
	}
}

func TestDurationRoundTrip(t *testing.T) {
	t.Parallel()

	d := Duration(90 * time.Second)

	out, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(out))

	var parsed Duration
	require.NoError(t, parsed.UnmarshalJSON(out))
	assert.Equal(t, d, parsed)
}

func TestDurationUnmarshalInvalid(t *testing.T) {
	t.Parallel()

	var d Duration
	assert.Error(t, d.UnmarshalJSON([]byte(`"not-a-duration"`)))
}

func TestDurationUnmarshalEmpty(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`""`)))
	assert.Equal(t, time.Duration(0), d.Duration())

	require.NoError(t, d.UnmarshalJSON([]byte(`null`)))
	assert.Equal(t, time.Duration(0), d.Duration())
}
