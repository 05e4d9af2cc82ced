// Package config defines the configuration structure for the campaign task
// service. Configuration is loaded once at process initialization (cold start)
// and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Secret Store (Lowest)
//
// The secret store is GCP Secret Manager by default, AWS SSM Parameter Store
// when SECRET_BACKEND=ssm. Any missing required value or invalid format causes
// startup to fail immediately.
package config

import (
	"time"

	"campaigntasks/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"campaign-tasks"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server  ServerConfig
	Tasks   TasksConfig
	Redis   RedisConfig
	Store   StoreConfig
	Auth    AuthConfig
	Secrets SecretsConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// IsLocal reports whether the process runs on a developer machine.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// TasksConfig holds the push queue target and retry settings. The first five
// fields are the variables the orchestrator cannot run without.
type TasksConfig struct {
	ProjectID      string `envconfig:"PROJECT_ID"`
	Region         string `envconfig:"REGION"`
	TargetURL      string `envconfig:"SURVEY_EXECUTOR_FUNCTION_URL" validate:"omitempty,url"`
	ServiceAccount string `envconfig:"SERVICE_ACCOUNT" validate:"omitempty,email"`
	QueueName      string `envconfig:"QUEUE_NAME"`

	Backend        string        `envconfig:"TASK_BACKEND" default:"cloudtasks" validate:"oneof=cloudtasks redis"`
	CreateAttempts int           `envconfig:"TASK_CREATE_ATTEMPTS" default:"3" validate:"min=1,max=10"`
	BackoffUnit    time.Duration `envconfig:"TASK_BACKOFF_UNIT" default:"1s"`
	BackoffMax     time.Duration `envconfig:"TASK_BACKOFF_MAX" default:"3s"`
}

// RedisConfig holds the connection settings for the local push queue.
type RedisConfig struct {
	Addr      string       `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password  SecretString `envconfig:"REDIS_PASSWORD"`
	DB        int          `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix string       `envconfig:"REDIS_KEY_PREFIX" default:"campaigntasks"`
}

// StoreConfig selects and configures the campaign backing store.
type StoreConfig struct {
	Backend     string        `envconfig:"STORE_BACKEND" default:"rest" validate:"oneof=rest postgres"`
	BaseURL     string        `envconfig:"SUPABASE_URL" validate:"required_if=Backend rest,omitempty,url"`
	APIKey      SecretString  `envconfig:"SUPABASE_KEY" validate:"required_if=Backend rest"`
	DatabaseURL SecretString  `envconfig:"DATABASE_URL" validate:"required_if=Backend postgres"`
	Timeout     time.Duration `envconfig:"STORE_TIMEOUT" default:"10s"`
	MaxConns    int32         `envconfig:"DB_MAX_CONNS" default:"4"`
}

// AuthConfig holds the identity token verification settings. The jwt verifier
// checks signatures locally with JWTSecret; the remote verifier asks the
// identity provider at ProviderURL (SUPABASE_URL when unset).
type AuthConfig struct {
	Verifier    string       `envconfig:"AUTH_VERIFIER" default:"jwt" validate:"oneof=jwt remote"`
	JWTSecret   SecretString `envconfig:"JWT_SECRET" validate:"required_if=Verifier jwt"`
	Audience    string       `envconfig:"JWT_AUDIENCE" default:"authenticated"`
	Issuer      string       `envconfig:"JWT_ISSUER"`
	ProviderURL string       `envconfig:"AUTH_URL" validate:"omitempty,url"`
}

// SecretsConfig selects where _SECRET_REF pointers are resolved.
type SecretsConfig struct {
	Backend   string `envconfig:"SECRET_BACKEND" default:"gsm" validate:"oneof=gsm ssm env"`
	AWSRegion string `envconfig:"AWS_REGION" default:"us-east-1"`
}

// BuildInfo holds build-time metadata injected via ldflags.
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
	// secret store.
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
