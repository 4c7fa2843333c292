package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
webhook:
  endpoint: https://automation.example.com/webhook
  method: POST
  auth_token: ${RELAY_TEST_TOKEN}
  timeout: 15s
  max_in_flight: 8
retry:
  max_attempts: 5
  base_wait: 500ms
  max_wait: 10s
  backoff_rate: 2.0
breaker:
  failure_threshold: 3
  recovery_timeout: 45s
timeouts:
  attempt: 20s
  execution: 2m
batch:
  concurrency: 6
traces:
  dir: /tmp/relay-traces
log_level: debug
`

func TestLoadString(t *testing.T) {
	t.Setenv("RELAY_TEST_TOKEN", "Bearer t0ps3cret")

	cfg, err := LoadString(sampleConfig)
	require.NoError(t, err)
	require.Equal(t, "https://automation.example.com/webhook", cfg.Webhook.Endpoint)
	require.Equal(t, "Bearer t0ps3cret", cfg.Webhook.AuthToken)
	require.Equal(t, 15*time.Second, cfg.Webhook.Timeout.Std())
	require.Equal(t, int64(8), cfg.Webhook.MaxInFlight)
	require.Equal(t, 5, cfg.Retry.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.Retry.BaseWait.Std())
	require.Equal(t, 3, cfg.Breaker.FailureThreshold)
	require.Equal(t, 45*time.Second, cfg.Breaker.RecoveryTimeout.Std())
	require.Equal(t, 2*time.Minute, cfg.Timeouts.Execution.Std())
	require.Equal(t, 6, cfg.Batch.Concurrency)
	require.Equal(t, "/tmp/relay-traces", cfg.Traces.Dir)
	require.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))
	t.Setenv("RELAY_TEST_TOKEN", "Bearer abc")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "Bearer abc", cfg.Webhook.AuthToken)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read config file")
}

func TestValidation(t *testing.T) {
	t.Run("endpoint is required", func(t *testing.T) {
		_, err := LoadString("retry:\n  max_attempts: 2\n")
		require.Error(t, err)
		require.Contains(t, err.Error(), "config validation failed")
	})

	t.Run("endpoint must be a URL", func(t *testing.T) {
		_, err := LoadString("webhook:\n  endpoint: not a url\n")
		require.Error(t, err)
	})

	t.Run("log level vocabulary is closed", func(t *testing.T) {
		_, err := LoadString("webhook:\n  endpoint: https://example.com\nlog_level: verbose\n")
		require.Error(t, err)
	})

	t.Run("backoff rate must exceed one", func(t *testing.T) {
		_, err := LoadString("webhook:\n  endpoint: https://example.com\nretry:\n  backoff_rate: 0.5\n")
		require.Error(t, err)
	})

	t.Run("minimal config passes", func(t *testing.T) {
		cfg, err := LoadString("webhook:\n  endpoint: https://example.com/webhook\n")
		require.NoError(t, err)
		require.Equal(t, slog.LevelInfo, cfg.Level())
	})
}

func TestDuration(t *testing.T) {
	t.Run("parses duration strings", func(t *testing.T) {
		cfg, err := LoadString("webhook:\n  endpoint: https://example.com\n  timeout: 1m30s\n")
		require.NoError(t, err)
		require.Equal(t, 90*time.Second, cfg.Webhook.Timeout.Std())
	})

	t.Run("bare numbers are seconds", func(t *testing.T) {
		cfg, err := LoadString("webhook:\n  endpoint: https://example.com\n  timeout: 30\n")
		require.NoError(t, err)
		require.Equal(t, 30*time.Second, cfg.Webhook.Timeout.Std())
	})

	t.Run("rejects nonsense", func(t *testing.T) {
		_, err := LoadString("webhook:\n  endpoint: https://example.com\n  timeout: soon\n")
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid duration")
	})
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("RELAY_HOST", "example.com")

	t.Run("expands known names", func(t *testing.T) {
		require.Equal(t, "https://example.com/webhook", expandEnv("https://${RELAY_HOST}/webhook"))
	})

	t.Run("unset names expand to empty", func(t *testing.T) {
		require.Equal(t, "token=", expandEnv("token=${RELAY_DEFINITELY_UNSET}"))
	})

	t.Run("bare dollar passes through", func(t *testing.T) {
		require.Equal(t, "cost is $5", expandEnv("cost is $5"))
	})

	t.Run("unterminated reference passes through", func(t *testing.T) {
		require.Equal(t, "${RELAY_HOST", expandEnv("${RELAY_HOST"))
	})

	t.Run("invalid names pass through", func(t *testing.T) {
		require.Equal(t, "${not a name}", expandEnv("${not a name}"))
	})
}

func TestBridging(t *testing.T) {
	t.Setenv("RELAY_TEST_TOKEN", "Bearer x")
	cfg, err := LoadString(sampleConfig)
	require.NoError(t, err)

	policy := cfg.RetryPolicy()
	require.Equal(t, 5, policy.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, policy.BaseWait)

	breaker := cfg.BreakerOptions(nil)
	require.Equal(t, 3, breaker.FailureThreshold)

	opts := cfg.WebhookOptions(nil)
	require.Equal(t, cfg.Webhook.Endpoint, opts.Endpoint)
	require.Equal(t, "Bearer x", opts.AuthToken)
}
