package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

// SSMClient is the subset of the Systems Manager API the parameter store
// source uses.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ParameterStoreSource reads a SecureString parameter from Systems Manager
// Parameter Store. The decrypted value becomes a single field.
type ParameterStoreSource struct {
	client SSMClient
	name   string
	field  string
}

// NewParameterStoreSource builds a parameter store source. Configuration
// keys: name (required, the parameter path), field (the value-set field to
// expose the value under; defaults to the parameter's base name), region.
func NewParameterStoreSource(cfg map[string]interface{}) (Source, error) {
	name, _ := cfg["name"].(string)
	if name == "" {
		return nil, dserrors.ConfigError{
			Field:      "name",
			Message:    "name is required for the parameterstore source",
			Suggestion: "provide the parameter path, e.g. /ci/github/token",
		}
	}

	field, _ := cfg["field"].(string)
	if field == "" {
		parts := strings.Split(name, "/")
		field = parts[len(parts)-1]
	}

	region := "us-east-1"
	if r, ok := cfg["region"].(string); ok && r != "" {
		region = r
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &ParameterStoreSource{
		client: ssm.NewFromConfig(awsCfg),
		name:   name,
		field:  field,
	}, nil
}

func (s *ParameterStoreSource) Type() string { return "parameterstore" }

func (s *ParameterStoreSource) Resolve(ctx context.Context) (secretstore.ValueSet, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "ParameterNotFound"):
			return nil, secretstore.NotFoundError{ID: s.name}
		case strings.Contains(msg, "AccessDenied"):
			return nil, AuthorizationError{SourceType: "parameterstore", Err: err}
		case strings.Contains(msg, "Throttling"):
			return nil, dserrors.ThrottlingError{Service: "ssm", Err: err}
		}
		return nil, fmt.Errorf("get parameter failed: %w", err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, fmt.Errorf("parameter %q has no value", s.name)
	}

	return secretstore.ValueSet{s.field: *out.Parameter.Value}, nil
}
