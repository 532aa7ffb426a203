package sources

import (
	"context"
	"os"

	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

// EnvSource reads credential fields from the process environment. Each
// listed variable becomes a field keyed by its own name.
type EnvSource struct {
	variables []string
	// lookup overrides os.LookupEnv in tests
	lookup func(string) (string, bool)
}

// NewEnvSource builds an env source. Configuration key "variables" holds the
// list of environment variable names to read.
func NewEnvSource(cfg map[string]interface{}) (Source, error) {
	raw, ok := cfg["variables"].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, dserrors.ConfigError{
			Field:      "variables",
			Message:    "variables is required for the env source",
			Suggestion: "list the environment variable names to read",
		}
	}

	variables := make([]string, 0, len(raw))
	for _, v := range raw {
		name, ok := v.(string)
		if !ok || name == "" {
			return nil, dserrors.ConfigError{
				Field:   "variables",
				Message: "entries must be non-empty strings",
			}
		}
		variables = append(variables, name)
	}

	return &EnvSource{variables: variables, lookup: os.LookupEnv}, nil
}

func (s *EnvSource) Type() string { return "env" }

// Resolve fails closed: one missing variable aborts the whole set.
func (s *EnvSource) Resolve(_ context.Context) (secretstore.ValueSet, error) {
	values := make(secretstore.ValueSet, len(s.variables))
	for _, name := range s.variables {
		value, ok := s.lookup(name)
		if !ok {
			return nil, MissingVariableError{Name: name}
		}
		values[name] = value
	}
	return values, nil
}
