package types

import "log/slog"

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString is a string type that prevents accidental logging or serialization
// of sensitive values such as the store API key, the database URL or the token
// signing secret. String() and MarshalJSON() return a redacted placeholder.
//
// Use Unmask() to retrieve the raw plaintext value when it is genuinely needed
// (e.g., building the store's apikey header or a pgx connection string).
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// LogValue implements slog.LogValuer so structured loggers never see the raw value.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redactedPlaceholder)
}

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsEmpty reports whether no secret value has been configured.
func (s SecretString) IsEmpty() bool {
	return s == ""
}
