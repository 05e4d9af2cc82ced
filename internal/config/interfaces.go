package config

import "context"

// SecretProvider abstracts the retrieval of secrets so that GCP Secret Manager,
// AWS SSM Parameter Store and plain environment variables are interchangeable.
type SecretProvider interface {
	// GetParametersBatch resolves multiple secret references. Returns a map of
	// reference -> plaintext value for all successfully resolved entries.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
