package config

import (
	"log/slog"

	"github.com/deepnoodle-ai/relay"
	"github.com/deepnoodle-ai/relay/webhook"
)

// RetryPolicy converts the retry section. Zero values defer to the
// orchestrator defaults.
func (c *Config) RetryPolicy() relay.RetryPolicy {
	return relay.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseWait:    c.Retry.BaseWait.Std(),
		MaxWait:     c.Retry.MaxWait.Std(),
		BackoffRate: c.Retry.BackoffRate,
		FailClosed:  c.Retry.FailClosed,
	}
}

// BreakerOptions converts the breaker section.
func (c *Config) BreakerOptions(logger *slog.Logger) relay.BreakerOptions {
	return relay.BreakerOptions{
		FailureThreshold: c.Breaker.FailureThreshold,
		RecoveryTimeout:  c.Breaker.RecoveryTimeout.Std(),
		HalfOpenProbes:   c.Breaker.HalfOpenProbes,
		Logger:           logger,
	}
}

// WebhookOptions converts the webhook section.
func (c *Config) WebhookOptions(logger *slog.Logger) webhook.Options {
	return webhook.Options{
		Endpoint:          c.Webhook.Endpoint,
		Method:            c.Webhook.Method,
		AuthToken:         c.Webhook.AuthToken,
		Timeout:           c.Webhook.Timeout.Std(),
		MaxInFlight:       c.Webhook.MaxInFlight,
		RequestsPerSecond: c.Webhook.RequestsPerSecond,
		Logger:            logger,
	}
}

// Level maps the log_level field to a slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
