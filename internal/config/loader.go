// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone so schedule times without a zone stay stable.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Scan environment for _SECRET_REF suffix variables.
//  4. If APP_ENV != "local", resolve the referenced secrets via the
//     SecretProvider and inject the resolved values back into the environment.
//  5. Use envconfig to process struct tags and populate the Config struct.
//  6. Fail with the list of undefined push queue variables, if any.
//  7. Validate the struct using go-playground/validator.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// secretRefSuffix identifies secret pointer variables. For example,
// SUPABASE_KEY_SECRET_REF=supabase-service-key:3 points to version 3 of the
// supabase-service-key secret that becomes SUPABASE_KEY.
const secretRefSuffix = "_SECRET_REF"

// localEnv is the APP_ENV value that bypasses secret resolution.
const localEnv = "local"

type envLookup func(key string) (string, bool)

type envSet func(key, value string) error

type environ func() []string

// loaderDeps holds the injectable dependencies for the loader, enabling
// testing without mutating global state.
type loaderDeps struct {
	lookupEnv envLookup
	setEnv    envSet
	environ   environ
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// LoadConfig loads and validates the service configuration.
//
// The provider parameter is the SecretProvider used for _SECRET_REF
// resolution. For local development the provider may be nil (resolution is
// skipped). For non-local environments it must be non-nil whenever a
// reference needs resolving.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// godotenv.Load does NOT override existing environment variables.
	_ = godotenv.Load()

	appEnv, _ := deps.lookupEnv("APP_ENV")
	if appEnv != localEnv {
		if err := resolveSecretRefs(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := requireVars(ReadEnvVars(deps.lookupEnv)); err != nil {
		return nil, err
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// LoadRedisConfig loads only the Redis settings. It serves processes, such as
// the local dispatcher, that do not need the full API configuration.
func LoadRedisConfig() (*RedisConfig, error) {
	_ = godotenv.Load()

	var rc RedisConfig
	if err := envconfig.Process("", &rc); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process redis configuration",
			Err:     err,
		}
	}
	return &rc, nil
}

// ResolveSecrets performs the secret resolution step in isolation, without
// loading or validating the full Config struct. It is a no-op when APP_ENV is
// "local" or no _SECRET_REF variables are set.
func ResolveSecrets(provider SecretProvider) error {
	appEnv, _ := os.LookupEnv("APP_ENV")
	if appEnv == localEnv {
		return nil
	}
	return resolveSecretRefs(provider, defaultDeps())
}

// resolveSecretRefs scans the environment for variables ending in _SECRET_REF,
// fetches the referenced values via the SecretProvider, and injects them back
// into the environment so that envconfig can process them.
//
// If the target variable is already set in the environment (via direct env var
// or .env file), resolution is skipped for that variable.
func resolveSecretRefs(provider SecretProvider, deps loaderDeps) error {
	type secretBinding struct {
		targetEnvVar string
		ref          string
	}

	var bindings []secretBinding
	refToTargets := make(map[string][]string)

	for _, envEntry := range deps.environ() {
		eqIdx := strings.IndexByte(envEntry, '=')
		if eqIdx < 0 {
			continue
		}
		key := envEntry[:eqIdx]
		if !strings.HasSuffix(key, secretRefSuffix) {
			continue
		}

		targetEnvVar := strings.TrimSuffix(key, secretRefSuffix)
		if _, exists := deps.lookupEnv(targetEnvVar); exists {
			continue
		}

		ref := envEntry[eqIdx+1:]
		if ref == "" {
			continue
		}

		bindings = append(bindings, secretBinding{targetEnvVar: targetEnvVar, ref: ref})
		refToTargets[ref] = append(refToTargets[ref], targetEnvVar)
	}

	if len(bindings) == 0 {
		return nil
	}

	if provider == nil {
		targetVars := make([]string, 0, len(bindings))
		for _, b := range bindings {
			targetVars = append(targetVars, b.targetEnvVar)
		}
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("SecretProvider is required for non-local environments (need to resolve: %s)", strings.Join(targetVars, ", ")),
		}
	}

	refs := make([]string, 0, len(refToTargets))
	for ref := range refToTargets {
		refs = append(refs, ref)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, refs)
	if err != nil {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("failed to resolve %d secret references", len(refs)),
			Err:     err,
		}
	}

	for ref, value := range resolved {
		for _, target := range refToTargets[ref] {
			if err := deps.setEnv(target, value); err != nil {
				return &ConfigError{
					Type:    ErrSecretResolution,
					Message: fmt.Sprintf("failed to set resolved value for %s", target),
					Err:     err,
				}
			}
		}
	}

	var missing []string
	for _, b := range bindings {
		if _, ok := resolved[b.ref]; !ok {
			missing = append(missing, b.targetEnvVar)
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("secrets not found for: %s", strings.Join(missing, ", ")),
		}
	}

	return nil
}
