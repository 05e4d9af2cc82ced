package config

import (
	"context"
	"os"
)

// EnvVarProvider implements SecretProvider by resolving each reference as the
// name of another environment variable. It backs SECRET_BACKEND=env, used by
// CI and container setups that mount secrets as variables.
type EnvVarProvider struct {
	lookup envLookup
}

// NewEnvVarProvider creates a new EnvVarProvider reading the process environment.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{lookup: os.LookupEnv}
}

// GetParametersBatch returns the value of every key set in the environment;
// missing keys are omitted.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	lookup := p.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := lookup(key); ok {
			result[key] = val
		}
	}
	return result, nil
}
