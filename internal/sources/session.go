package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

// STSClient is the subset of the STS API the session source uses.
type STSClient interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// SessionSource mints short-lived credentials by assuming an IAM role.
// Resolve returns the fields access_key_id, secret_access_key and
// session_token.
type SessionSource struct {
	client      STSClient
	roleARN     string
	sessionName string
	externalID  string
	duration    int32
}

// NewSessionSource builds a session source. Recognized configuration keys:
// role_arn (required), region, session_name, external_id, duration_seconds.
func NewSessionSource(cfg map[string]interface{}) (Source, error) {
	roleARN, _ := cfg["role_arn"].(string)
	if roleARN == "" {
		return nil, dserrors.ConfigError{
			Field:      "role_arn",
			Message:    "role_arn is required for the session source",
			Suggestion: "provide the ARN of the role to assume",
		}
	}

	s := &SessionSource{
		roleARN:     roleARN,
		sessionName: fmt.Sprintf("credrotate-%d", time.Now().Unix()),
		duration:    3600,
	}
	if name, ok := cfg["session_name"].(string); ok && name != "" {
		s.sessionName = name
	}
	if externalID, ok := cfg["external_id"].(string); ok {
		s.externalID = externalID
	}
	if duration, ok := cfg["duration_seconds"].(int); ok {
		s.duration = int32(duration)
	}
	if duration, ok := cfg["duration_seconds"].(float64); ok {
		s.duration = int32(duration)
	}

	region := "us-east-1"
	if r, ok := cfg["region"].(string); ok && r != "" {
		region = r
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	s.client = sts.NewFromConfig(awsCfg)

	return s, nil
}

func (s *SessionSource) Type() string { return "session" }

func (s *SessionSource) Resolve(ctx context.Context) (secretstore.ValueSet, error) {
	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(s.roleARN),
		RoleSessionName: aws.String(s.sessionName),
		DurationSeconds: aws.Int32(s.duration),
	}
	if s.externalID != "" {
		input.ExternalId = aws.String(s.externalID)
	}

	out, err := s.client.AssumeRole(ctx, input)
	if err != nil {
		return nil, classifySTSError(err)
	}
	if out.Credentials == nil {
		return nil, fmt.Errorf("assume role returned no credentials")
	}

	return secretstore.ValueSet{
		"access_key_id":     aws.ToString(out.Credentials.AccessKeyId),
		"secret_access_key": aws.ToString(out.Credentials.SecretAccessKey),
		"session_token":     aws.ToString(out.Credentials.SessionToken),
	}, nil
}

func classifySTSError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "AccessDenied"):
		return AuthorizationError{SourceType: "session", Err: err}
	case strings.Contains(msg, "ExpiredToken"):
		return ExpiredError{SourceType: "session", Err: err}
	case strings.Contains(msg, "Throttling"):
		return dserrors.ThrottlingError{Service: "sts", Err: err}
	}
	return fmt.Errorf("assume role failed: %w", err)
}
