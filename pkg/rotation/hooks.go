package rotation

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

// Registrar installs the staged candidate in the system the credential
// authenticates against. For self-contained credentials, such as API
// tokens minted by the store itself, use NoopRegistrar.
type Registrar interface {
	Register(ctx context.Context, credentialID string, candidate secretstore.ValueSet) error
}

// Verifier checks that the staged candidate actually authenticates. A
// verifier must use only the candidate, never the ambient process
// credentials, or the check proves nothing.
type Verifier interface {
	Verify(ctx context.Context, credentialID string, candidate secretstore.ValueSet) error
}

// NoopRegistrar is for credentials whose staging in the store is the whole
// installation.
type NoopRegistrar struct{}

func (NoopRegistrar) Register(context.Context, string, secretstore.ValueSet) error { return nil }

// NoopVerifier accepts every candidate. Only for credential types verified
// out of band; a rotation wired with it promotes untested values.
type NoopVerifier struct{}

func (NoopVerifier) Verify(context.Context, string, secretstore.ValueSet) error { return nil }

// CallerIdentityAPI is the single STS call the access key verifier needs.
type CallerIdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// AccessKeyVerifier verifies AWS access key candidates by calling
// GetCallerIdentity with the candidate's own keys. The call requires no
// permissions, so it isolates "do these keys authenticate" from policy.
type AccessKeyVerifier struct {
	Region string

	// newClient overrides client construction in tests.
	newClient func(region, accessKeyID, secretAccessKey, sessionToken string) CallerIdentityAPI
}

// NewAccessKeyVerifier creates a verifier for the given region.
func NewAccessKeyVerifier(region string) *AccessKeyVerifier {
	return &AccessKeyVerifier{Region: region}
}

func (v *AccessKeyVerifier) Verify(ctx context.Context, credentialID string, candidate secretstore.ValueSet) error {
	accessKeyID, ok := candidate["access_key_id"]
	if !ok {
		return fmt.Errorf("credential %q candidate has no access_key_id field", credentialID)
	}
	secretAccessKey, ok := candidate["secret_access_key"]
	if !ok {
		return fmt.Errorf("credential %q candidate has no secret_access_key field", credentialID)
	}
	sessionToken := candidate["session_token"]

	client := v.buildClient(accessKeyID, secretAccessKey, sessionToken)
	_, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "InvalidClientTokenId"):
			// Freshly minted keys take a few seconds to propagate, so this
			// is retryable; a key that never authenticates still fails the
			// run once attempts run out.
			return dserrors.TransientError{Op: "verify candidate", Err: err}
		case strings.Contains(msg, "SignatureDoesNotMatch"):
			return fmt.Errorf("credential %q candidate does not authenticate: %w", credentialID, err)
		case strings.Contains(msg, "Throttling"):
			return dserrors.ThrottlingError{Service: "sts", Err: err}
		}
		return dserrors.TransientError{Op: "verify candidate", Err: err}
	}
	return nil
}

func (v *AccessKeyVerifier) buildClient(accessKeyID, secretAccessKey, sessionToken string) CallerIdentityAPI {
	if v.newClient != nil {
		return v.newClient(v.Region, accessKeyID, secretAccessKey, sessionToken)
	}
	cfg := aws.Config{
		Region:      v.Region,
		Credentials: credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken),
	}
	return sts.NewFromConfig(cfg)
}
