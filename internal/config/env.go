package config

import (
	"fmt"
	"os"
	"strings"
)

// Environment variable names the push queue client requires.
const (
	EnvProjectID      = "PROJECT_ID"
	EnvRegion         = "REGION"
	EnvTargetURL      = "SURVEY_EXECUTOR_FUNCTION_URL"
	EnvServiceAccount = "SERVICE_ACCOUNT"
	EnvQueueName      = "QUEUE_NAME"
)

// RequiredTaskKeys lists the required variables in the order they are
// reported when missing.
var RequiredTaskKeys = []string{
	EnvProjectID,
	EnvRegion,
	EnvTargetURL,
	EnvServiceAccount,
	EnvQueueName,
}

// ReadEnvVars reads the required task variables through lookup. Absent
// variables map to the empty string; ReadEnvVars itself never fails.
// A nil lookup reads the process environment.
func ReadEnvVars(lookup func(string) (string, bool)) map[string]string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	vars := make(map[string]string, len(RequiredTaskKeys))
	for _, key := range RequiredTaskKeys {
		v, _ := lookup(key)
		vars[key] = v
	}
	return vars
}

// MissingKeys returns the required keys that are absent or empty in vars,
// in RequiredTaskKeys order.
func MissingKeys(vars map[string]string) []string {
	var missing []string
	for _, key := range RequiredTaskKeys {
		if strings.TrimSpace(vars[key]) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// Vars returns the required variables as a key/value map.
func (c TasksConfig) Vars() map[string]string {
	return map[string]string{
		EnvProjectID:      c.ProjectID,
		EnvRegion:         c.Region,
		EnvTargetURL:      c.TargetURL,
		EnvServiceAccount: c.ServiceAccount,
		EnvQueueName:      c.QueueName,
	}
}

// Require returns a *ConfigError naming every missing required variable, or
// nil when all are set.
func (c TasksConfig) Require() error {
	return requireVars(c.Vars())
}

// requireVars reports every required key missing from vars as a single
// *ConfigError.
func requireVars(vars map[string]string) error {
	missing := MissingKeys(vars)
	if len(missing) == 0 {
		return nil
	}
	return &ConfigError{
		Type:    ErrMissingEnv,
		Message: fmt.Sprintf("Undefined environment variables: %s", strings.Join(missing, ", ")),
	}
}

// QueuePath returns the fully-qualified name of queue under this project and
// region.
func (c TasksConfig) QueuePath(queue string) string {
	return fmt.Sprintf("projects/%s/locations/%s/queues/%s", c.ProjectID, c.Region, queue)
}
