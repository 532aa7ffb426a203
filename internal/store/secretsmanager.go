// Package store implements the credential store interface on top of AWS
// Secrets Manager. Version labels map onto the service's staging labels:
// CURRENT is AWSCURRENT, PENDING is AWSPENDING, PREVIOUS is AWSPREVIOUS.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

// Client is the subset of the Secrets Manager API the store uses.
// Narrowed so tests can substitute a fake.
type Client interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	UpdateSecretVersionStage(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error)
}

var stageForLabel = map[secretstore.Label]string{
	secretstore.LabelCurrent:  "AWSCURRENT",
	secretstore.LabelPending:  "AWSPENDING",
	secretstore.LabelPrevious: "AWSPREVIOUS",
}

var labelForStage = map[string]secretstore.Label{
	"AWSCURRENT":  secretstore.LabelCurrent,
	"AWSPENDING":  secretstore.LabelPending,
	"AWSPREVIOUS": secretstore.LabelPrevious,
}

// SecretsManager implements secretstore.Store against AWS Secrets Manager.
type SecretsManager struct {
	client Client
	region string
}

// Option configures a SecretsManager store.
type Option func(*SecretsManager)

// WithClient sets a custom Secrets Manager client (for testing).
func WithClient(client Client) Option {
	return func(s *SecretsManager) {
		s.client = client
	}
}

// NewSecretsManager creates a store from configuration. Recognized keys:
// region, endpoint (for LocalStack), access_key_id / secret_access_key
// (static credentials for testing).
func NewSecretsManager(cfg map[string]interface{}, opts ...Option) (*SecretsManager, error) {
	region := "us-east-1"
	if r, ok := cfg["region"].(string); ok && r != "" {
		region = r
	}

	var endpoint string
	if e, ok := cfg["endpoint"].(string); ok && e != "" {
		endpoint = e
	}

	var accessKeyID, secretAccessKey string
	if ak, ok := cfg["access_key_id"].(string); ok {
		accessKeyID = ak
	}
	if sk, ok := cfg["secret_access_key"].(string); ok {
		secretAccessKey = sk
	}

	s := &SecretsManager{region: region}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		configOpts := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(region),
		}
		if accessKeyID != "" && secretAccessKey != "" {
			configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
			))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), configOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		var clientOpts []func(*secretsmanager.Options)
		if endpoint != "" {
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		s.client = secretsmanager.NewFromConfig(awsCfg, clientOpts...)
	}

	return s, nil
}

// GetLabeled returns the version carrying label for the credential.
func (s *SecretsManager) GetLabeled(ctx context.Context, id string, label secretstore.Label) (*secretstore.Version, error) {
	stage, ok := stageForLabel[label]
	if !ok {
		return nil, fmt.Errorf("unknown credential label %q", label)
	}

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(id),
		VersionStage: aws.String(stage),
	})
	if err != nil {
		if isNotFound(err) {
			// The service reports the same error for an unknown secret and
			// for a known secret missing the stage; describe to tell them
			// apart.
			if s.secretExists(ctx, id) {
				return nil, secretstore.StaleReadError{ID: id, Label: label}
			}
			return nil, secretstore.NotFoundError{ID: id}
		}
		return nil, classifyError("getLabeled", err)
	}

	if out.SecretString == nil {
		return nil, fmt.Errorf("credential %q version has no string value", id)
	}

	return versionFromOutput(out), nil
}

// PutPending stages value as the PENDING version under ownerToken. Repeating
// the call with the same token and value is a no-op at the service level
// (ClientRequestToken idempotency).
func (s *SecretsManager) PutPending(ctx context.Context, id, value, ownerToken string) (*secretstore.Version, error) {
	out, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:           aws.String(id),
		SecretString:       aws.String(value),
		ClientRequestToken: aws.String(ownerToken),
		VersionStages:      []string{stageForLabel[secretstore.LabelPending]},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, secretstore.NotFoundError{ID: id}
		}
		return nil, classifyError("putPending", err)
	}

	v := &secretstore.Version{
		Value:     value,
		Labels:    []secretstore.Label{secretstore.LabelPending},
		CreatedAt: time.Now(),
	}
	if out.VersionId != nil {
		v.ID = *out.VersionId
	} else {
		v.ID = ownerToken
	}
	return v, nil
}

// Relabel promotes PENDING to CURRENT in a single UpdateSecretVersionStage
// call. The service atomically attaches AWSPREVIOUS to the displaced version
// as part of the same move, so no reader observes zero or two CURRENTs.
func (s *SecretsManager) Relabel(ctx context.Context, id string) (*secretstore.Version, error) {
	pendingID, err := s.findStagedVersion(ctx, id, "AWSPENDING")
	if err != nil {
		return nil, err
	}
	if pendingID == "" {
		return nil, secretstore.StaleReadError{ID: id, Label: secretstore.LabelPending}
	}

	currentID, err := s.findStagedVersion(ctx, id, "AWSCURRENT")
	if err != nil {
		return nil, err
	}

	if currentID == pendingID {
		// Already promoted by a previous attempt; idempotent re-entry.
		return s.GetLabeled(ctx, id, secretstore.LabelCurrent)
	}

	input := &secretsmanager.UpdateSecretVersionStageInput{
		SecretId:        aws.String(id),
		VersionStage:    aws.String("AWSCURRENT"),
		MoveToVersionId: aws.String(pendingID),
	}
	if currentID != "" {
		input.RemoveFromVersionId = aws.String(currentID)
	}

	if _, err := s.client.UpdateSecretVersionStage(ctx, input); err != nil {
		return nil, classifyError("relabel", err)
	}

	// Drop the staging label from the promoted version. Non-fatal: the next
	// rotation's PutPending displaces it anyway.
	_, _ = s.client.UpdateSecretVersionStage(ctx, &secretsmanager.UpdateSecretVersionStageInput{
		SecretId:            aws.String(id),
		VersionStage:        aws.String("AWSPENDING"),
		RemoveFromVersionId: aws.String(pendingID),
	})

	return s.GetLabeled(ctx, id, secretstore.LabelCurrent)
}

// Invalidate removes the stage for label from whichever version carries it.
// A credential with no such version is treated as already invalidated.
func (s *SecretsManager) Invalidate(ctx context.Context, id string, label secretstore.Label) error {
	stage, ok := stageForLabel[label]
	if !ok {
		return fmt.Errorf("unknown credential label %q", label)
	}

	versionID, err := s.findStagedVersion(ctx, id, stage)
	if err != nil {
		return err
	}
	if versionID == "" {
		return nil
	}

	_, err = s.client.UpdateSecretVersionStage(ctx, &secretsmanager.UpdateSecretVersionStageInput{
		SecretId:            aws.String(id),
		VersionStage:        aws.String(stage),
		RemoveFromVersionId: aws.String(versionID),
	})
	if err != nil {
		if strings.Contains(err.Error(), "InvalidParameterValue") ||
			strings.Contains(err.Error(), "InvalidRequestException") {
			// Stage already detached.
			return nil
		}
		return classifyError("invalidate", err)
	}

	return nil
}

func (s *SecretsManager) secretExists(ctx context.Context, id string) bool {
	_, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(id),
	})
	return err == nil
}

// findStagedVersion returns the version id carrying stage, or "" when no
// version does.
func (s *SecretsManager) findStagedVersion(ctx context.Context, id, stage string) (string, error) {
	out, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		if isNotFound(err) {
			return "", secretstore.NotFoundError{ID: id}
		}
		return "", classifyError("describeSecret", err)
	}

	for versionID, stages := range out.VersionIdsToStages {
		for _, st := range stages {
			if st == stage {
				return versionID, nil
			}
		}
	}
	return "", nil
}

func versionFromOutput(out *secretsmanager.GetSecretValueOutput) *secretstore.Version {
	v := &secretstore.Version{
		Value: aws.ToString(out.SecretString),
	}
	if out.VersionId != nil {
		v.ID = *out.VersionId
	}
	if out.CreatedDate != nil {
		v.CreatedAt = *out.CreatedDate
	}
	for _, stage := range out.VersionStages {
		if label, ok := labelForStage[stage]; ok {
			v.Labels = append(v.Labels, label)
		}
	}
	return v
}

func isNotFound(err error) bool {
	var notFound *types.ResourceNotFoundException
	return errors.As(err, &notFound)
}

func isThrottling(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "ThrottlingException") ||
		strings.Contains(msg, "TooManyRequestsException") ||
		strings.Contains(msg, "Rate exceeded")
}

// classifyError wraps service failures so retry loops can tell transient
// ones apart from permanent rejections.
func classifyError(op string, err error) error {
	if isThrottling(err) {
		return dserrors.ThrottlingError{Service: "secretsmanager", Err: err}
	}
	msg := err.Error()
	if strings.Contains(msg, "InternalServiceError") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") {
		return dserrors.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("secrets manager %s failed: %w", op, err)
}
