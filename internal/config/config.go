// Package config defines the global configuration structure for the billing
// sync service. Configuration is loaded once at process initialization and is
// immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> SecretProvider (Lowest)
//
// Any missing required value or invalid format causes the application to exit
// immediately on startup (fail fast).
package config

import (
	"strings"
	"time"

	"billingsync/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the billing sync service.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"billingsync"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	Payment       PaymentConfig
	TokenService  TokenServiceConfig
	Audit         AuditConfig
	Redis         RedisConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s"`
	MaxBodyBytes   int64         `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"65536" validate:"min=1024"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`     // Fail fast when pool exhausted
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"` // Detect dead connections during failover
}

// PaymentConfig holds the payment provider's signing secrets and header names.
//
// WebhookSecret is deliberately not required: an unset secret makes every
// signature check fail, which rejects all webhooks with 401 instead of
// refusing to boot. cmd/api logs a warning in that case.
type PaymentConfig struct {
	WebhookSecret   SecretString `envconfig:"PAYMENT_WEBHOOK_SECRET"`
	KeySecret       SecretString `envconfig:"PAYMENT_KEY_SECRET"`
	SignatureHeader string       `envconfig:"PAYMENT_SIGNATURE_HEADER" default:"X-Razorpay-Signature" validate:"required"`
	EventIDHeader   string       `envconfig:"PAYMENT_EVENT_ID_HEADER" default:"X-Razorpay-Event-Id"`
}

// TokenServiceConfig selects the token-balance backend. An empty URL credits
// balances directly in Postgres.
type TokenServiceConfig struct {
	URL     string        `envconfig:"TOKEN_SERVICE_URL" validate:"omitempty,url"`
	APIKey  SecretString  `envconfig:"TOKEN_SERVICE_API_KEY"`
	Timeout time.Duration `envconfig:"TOKEN_SERVICE_TIMEOUT" default:"5s"`
}

// Audit sink names accepted in AUDIT_SINKS.
const (
	AuditSinkPostgres   = "postgres"
	AuditSinkSQS        = "sqs"
	AuditSinkRedis      = "redis"
	AuditSinkCloudWatch = "cloudwatch"
	AuditSinkLog        = "log"
)

// AuditConfig controls the asynchronous audit dispatcher and its backends.
type AuditConfig struct {
	Sinks        []string `envconfig:"AUDIT_SINKS" default:"postgres" validate:"min=1,dive,oneof=postgres sqs redis cloudwatch log"`
	BufferSize   int      `envconfig:"AUDIT_BUFFER_SIZE" default:"1024" validate:"min=1"`
	QueueURL     string   `envconfig:"SQS_AUDIT_QUEUE" validate:"omitempty,url"`
	RedisStream  string   `envconfig:"AUDIT_REDIS_STREAM" default:"billing:audit"`
	StreamMaxLen int64    `envconfig:"AUDIT_REDIS_STREAM_MAXLEN" default:"100000"`
}

// Enabled reports whether the named sink is configured.
func (a AuditConfig) Enabled(sink string) bool {
	for _, s := range a.Sinks {
		if strings.EqualFold(strings.TrimSpace(s), sink) {
			return true
		}
	}
	return false
}

// RedisConfig holds the Redis connection used by the stream audit backend
// and the health check.
type RedisConfig struct {
	URL SecretString `envconfig:"REDIS_URL"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"BillingSync"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a failure when fetching secrets from the
	// SecretProvider.
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
