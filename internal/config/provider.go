package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// NewSecretProviderFromEnv builds the SecretProvider selected by SECRET_BACKEND
// before the rest of the configuration is loaded. Local environments get a nil
// provider because reference resolution is skipped for them.
func NewSecretProviderFromEnv(ctx context.Context, logger *slog.Logger) (SecretProvider, error) {
	return newSecretProvider(ctx, os.LookupEnv, logger)
}

func newSecretProvider(ctx context.Context, lookup envLookup, logger *slog.Logger) (SecretProvider, error) {
	if appEnv, _ := lookup("APP_ENV"); appEnv == localEnv {
		return nil, nil
	}

	backend, _ := lookup("SECRET_BACKEND")
	switch backend {
	case "", "gsm":
		projectID, _ := lookup(EnvProjectID)
		if projectID == "" {
			return nil, &ConfigError{
				Type:    ErrMissingEnv,
				Message: "PROJECT_ID is required to resolve secrets from Secret Manager",
			}
		}
		return NewGSMProvider(ctx, projectID, logger)
	case "ssm":
		region, ok := lookup("AWS_REGION")
		if !ok || region == "" {
			region = "us-east-1"
		}
		return NewSSMProvider(region), nil
	case "env":
		return &EnvVarProvider{lookup: lookup}, nil
	default:
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("unknown SECRET_BACKEND %q (want gsm, ssm or env)", backend),
		}
	}
}
