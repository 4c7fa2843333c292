// Package config loads orchestrator configuration from YAML files. Values
// of the form ${NAME} are expanded from the environment before parsing, so
// secrets like auth tokens can stay out of the file itself.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// or "1m30s", or from bare numbers interpreted as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err == nil {
		parsed, err := time.ParseDuration(text)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", text, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var seconds float64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value on line %d", value.Line)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// WebhookConfig describes the webhook host executions are sent to.
type WebhookConfig struct {
	Endpoint          string   `json:"endpoint" yaml:"endpoint" validate:"required,url"`
	Method            string   `json:"method,omitempty" yaml:"method,omitempty" validate:"omitempty,oneof=GET POST get post"`
	AuthToken         string   `json:"auth_token,omitempty" yaml:"auth_token,omitempty"`
	Timeout           Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxInFlight       int64    `json:"max_in_flight,omitempty" yaml:"max_in_flight,omitempty" validate:"omitempty,min=1"`
	RequestsPerSecond float64  `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty" validate:"omitempty,gt=0"`
}

// RetryConfig describes the retry policy applied to each execution.
type RetryConfig struct {
	MaxAttempts int      `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty" validate:"omitempty,min=1"`
	BaseWait    Duration `json:"base_wait,omitempty" yaml:"base_wait,omitempty"`
	MaxWait     Duration `json:"max_wait,omitempty" yaml:"max_wait,omitempty"`
	BackoffRate float64  `json:"backoff_rate,omitempty" yaml:"backoff_rate,omitempty" validate:"omitempty,gt=1"`
	FailClosed  bool     `json:"fail_closed,omitempty" yaml:"fail_closed,omitempty"`
}

// BreakerConfig describes the per-workflow circuit breakers.
type BreakerConfig struct {
	FailureThreshold int      `json:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty" validate:"omitempty,min=1"`
	RecoveryTimeout  Duration `json:"recovery_timeout,omitempty" yaml:"recovery_timeout,omitempty"`
	HalfOpenProbes   int      `json:"half_open_probes,omitempty" yaml:"half_open_probes,omitempty" validate:"omitempty,min=1"`
}

// TimeoutConfig bounds individual attempts and whole executions.
type TimeoutConfig struct {
	Attempt   Duration `json:"attempt,omitempty" yaml:"attempt,omitempty"`
	Execution Duration `json:"execution,omitempty" yaml:"execution,omitempty"`
}

// BatchConfig bounds batch fan-out.
type BatchConfig struct {
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty" validate:"omitempty,min=1"`
}

// TraceConfig configures where execution traces go.
type TraceConfig struct {
	// Dir enables JSONL trace files under the given directory.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
	// OpenTelemetry enables OTel spans for executions.
	OpenTelemetry bool `json:"opentelemetry,omitempty" yaml:"opentelemetry,omitempty"`
}

// StorageConfig configures payload and archive storage. BaseURL accepts any
// scheme the storage layer understands, e.g. "file:///var/relay" or
// "s3://bucket/prefix".
type StorageConfig struct {
	BaseURL         string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	CredentialsFile string `json:"credentials_file,omitempty" yaml:"credentials_file,omitempty"`
}

// PostgresConfig configures the execution history store.
type PostgresConfig struct {
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty" validate:"omitempty,hostname_port"`
}

// Config is the root configuration document.
type Config struct {
	Webhook  WebhookConfig  `json:"webhook" yaml:"webhook" validate:"required"`
	Retry    RetryConfig    `json:"retry,omitempty" yaml:"retry,omitempty"`
	Breaker  BreakerConfig  `json:"breaker,omitempty" yaml:"breaker,omitempty"`
	Timeouts TimeoutConfig  `json:"timeouts,omitempty" yaml:"timeouts,omitempty"`
	Batch    BatchConfig    `json:"batch,omitempty" yaml:"batch,omitempty"`
	Traces   TraceConfig    `json:"traces,omitempty" yaml:"traces,omitempty"`
	Storage  StorageConfig  `json:"storage,omitempty" yaml:"storage,omitempty"`
	Postgres PostgresConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
	Metrics  MetricsConfig  `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	LogLevel string         `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
}

// LoadFile loads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadString(string(data))
}

// LoadString loads configuration from a YAML string.
func LoadString(data string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnv(data)), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration against its declared constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// expandEnv replaces ${NAME} with the value of the environment variable
// NAME, or the empty string when unset. Anything that is not a well-formed
// reference, including bare $NAME, passes through untouched.
func expandEnv(data string) string {
	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(data[i:], "${")
		if idx < 0 {
			b.WriteString(data[i:])
			break
		}
		b.WriteString(data[i : i+idx])
		start := i + idx + 2
		end := strings.IndexByte(data[start:], '}')
		if end < 0 {
			b.WriteString(data[i+idx:])
			break
		}
		name := data[start : start+end]
		if isEnvName(name) {
			b.WriteString(os.Getenv(name))
			i = start + end + 1
			continue
		}
		b.WriteString(data[i+idx : start])
		i = start
	}
	return b.String()
}

func isEnvName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}
