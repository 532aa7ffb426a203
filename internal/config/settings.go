package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
	"github.com/lgtm-migrator/amplify-ci-support/internal/workflow"
)

// Settings is the tool's own YAML configuration, as opposed to the plan,
// which describes what to propagate.
type Settings struct {
	Store    StoreSettings    `yaml:"store"`
	Rotation RotationSettings `yaml:"rotation"`
	Workflow WorkflowSettings `yaml:"workflow"`
}

// StoreSettings configures the backing credential store.
type StoreSettings struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// RotationSettings configures candidate generation and verification.
type RotationSettings struct {
	// Field is the value-set key the generator replaces.
	Field  string `yaml:"field"`
	Length int    `yaml:"length"`
}

// WorkflowSettings configures deletion workflows.
type WorkflowSettings struct {
	// Dir overrides where workflow records are stored.
	Dir string `yaml:"dir,omitempty"`
	// GracePeriod is how long a deletion workflow waits before
	// invalidating the previous version.
	GracePeriod Duration `yaml:"grace_period"`
}

// Duration is a time.Duration that reads from YAML in the usual "24h"
// notation.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// AsDuration returns the standard library form.
func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

// DefaultSettings returns the settings used when no file is present.
func DefaultSettings() *Settings {
	return &Settings{
		Store:    StoreSettings{Region: "us-east-1"},
		Rotation: RotationSettings{Field: "password", Length: 32},
		Workflow: WorkflowSettings{
			Dir:         workflow.DefaultStorageDir(),
			GracePeriod: Duration(24 * time.Hour),
		},
	}
}

// LoadSettings reads settings from path, layering the file over the
// defaults. A missing file is not an error; a malformed one is.
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, dserrors.UserError{
			Message:    fmt.Sprintf("settings file %s is not valid YAML", path),
			Details:    err.Error(),
			Suggestion: "fix the syntax error or remove the file to use defaults",
		}
	}

	if settings.Rotation.Length < 0 {
		return nil, dserrors.ConfigError{
			Field:   "rotation.length",
			Value:   fmt.Sprintf("%d", settings.Rotation.Length),
			Message: "must not be negative",
		}
	}
	if settings.Workflow.GracePeriod < 0 {
		return nil, dserrors.ConfigError{
			Field:   "workflow.grace_period",
			Value:   settings.Workflow.GracePeriod.AsDuration().String(),
			Message: "must not be negative",
		}
	}
	return settings, nil
}
