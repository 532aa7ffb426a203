package sources

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

type fakeSTS struct {
	out *sts.AssumeRoleOutput
	err error
}

func (f *fakeSTS) AssumeRole(_ context.Context, _ *sts.AssumeRoleInput, _ ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	return f.out, f.err
}

func TestSessionSourceResolve(t *testing.T) {
	t.Parallel()

	src := &SessionSource{
		client: &fakeSTS{out: &sts.AssumeRoleOutput{
			Credentials: &ststypes.Credentials{
				AccessKeyId:     aws.String("AKIAEXAMPLE"),
				SecretAccessKey: aws.String("sk-example"),
				SessionToken:    aws.String("tok-example"),
				Expiration:      aws.Time(time.Now().Add(time.Hour)),
			},
		}},
		roleARN:     "arn:aws:iam::123456789012:role/ci",
		sessionName: "test",
		duration:    900,
	}

	values, err := src.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, secretstore.ValueSet{
		"access_key_id":     "AKIAEXAMPLE",
		"secret_access_key": "sk-example",
		"session_token":     "tok-example",
	}, values)
}

func TestSessionSourceClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		target interface{}
	}{
		{"access denied", errors.New("api error AccessDenied: not authorized"), &AuthorizationError{}},
		{"expired token", errors.New("api error ExpiredToken: token expired"), &ExpiredError{}},
		{"throttling", errors.New("api error Throttling: rate exceeded"), &dserrors.ThrottlingError{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src := &SessionSource{client: &fakeSTS{err: tt.err}, roleARN: "arn:aws:iam::1:role/x", sessionName: "t", duration: 900}
			_, err := src.Resolve(context.Background())
			require.Error(t, err)
			switch target := tt.target.(type) {
			case *AuthorizationError:
				assert.ErrorAs(t, err, target)
			case *ExpiredError:
				assert.ErrorAs(t, err, target)
			case *dserrors.ThrottlingError:
				assert.ErrorAs(t, err, target)
			}
		})
	}
}

func TestSessionSourceRequiresRoleARN(t *testing.T) {
	t.Parallel()

	_, err := NewSessionSource(map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, dserrors.IsConfigError(err))
}

func TestEnvSource(t *testing.T) {
	t.Parallel()

	env := map[string]string{"CIRCLE_TOKEN": "tok", "OTHER": "v"}
	src := &EnvSource{
		variables: []string{"CIRCLE_TOKEN", "OTHER"},
		lookup: func(name string) (string, bool) {
			v, ok := env[name]
			return v, ok
		},
	}

	values, err := src.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, secretstore.ValueSet{"CIRCLE_TOKEN": "tok", "OTHER": "v"}, values)
}

func TestEnvSourceMissingVariable(t *testing.T) {
	t.Parallel()

	src := &EnvSource{
		variables: []string{"PRESENT", "ABSENT"},
		lookup: func(name string) (string, bool) {
			if name == "PRESENT" {
				return "v", true
			}
			return "", false
		},
	}

	values, err := src.Resolve(context.Background())
	var missing MissingVariableError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "ABSENT", missing.Name)
	assert.Nil(t, values)
}

type fakeStore struct {
	secretstore.Store
	current *secretstore.Version
	err     error
}

func (f *fakeStore) GetLabeled(_ context.Context, _ string, _ secretstore.Label) (*secretstore.Version, error) {
	return f.current, f.err
}

func TestStoreSourceReadsCurrent(t *testing.T) {
	t.Parallel()

	store := &fakeStore{current: &secretstore.Version{
		ID:    "v1",
		Value: `{"username":"svc","password":"hunter2"}`,
	}}
	src, err := NewStoreSource(store, map[string]interface{}{"credential_id": "db-password"})
	require.NoError(t, err)

	values, err := src.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, secretstore.ValueSet{"username": "svc", "password": "hunter2"}, values)
}

func TestStoreSourcePropagatesNotFound(t *testing.T) {
	t.Parallel()

	store := &fakeStore{err: secretstore.NotFoundError{ID: "db-password"}}
	src, err := NewStoreSource(store, map[string]interface{}{"credential_id": "db-password"})
	require.NoError(t, err)

	_, err = src.Resolve(context.Background())
	var notFound secretstore.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

type fakeSSM struct {
	out *ssm.GetParameterOutput
	err error
}

func (f *fakeSSM) GetParameter(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return f.out, f.err
}

func TestParameterStoreSource(t *testing.T) {
	t.Parallel()

	src := &ParameterStoreSource{
		client: &fakeSSM{out: &ssm.GetParameterOutput{
			Parameter: &ssmtypes.Parameter{Value: aws.String("tok-example")},
		}},
		name:  "/ci/github/token",
		field: "token",
	}

	values, err := src.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, secretstore.ValueSet{"token": "tok-example"}, values)
}

func TestParameterStoreSourceNotFound(t *testing.T) {
	t.Parallel()

	src := &ParameterStoreSource{
		client: &fakeSSM{err: errors.New("operation error SSM: GetParameter, ParameterNotFound")},
		name:   "/ci/github/token",
		field:  "token",
	}

	_, err := src.Resolve(context.Background())
	var notFound secretstore.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestParameterStoreRequiresName(t *testing.T) {
	t.Parallel()

	_, err := NewParameterStoreSource(map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, dserrors.IsConfigError(err))
}

func TestRegistryUnknownType(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	_, err := r.Create("carrier-pigeon", nil)
	require.Error(t, err)
	assert.True(t, dserrors.IsConfigError(err))
	assert.Contains(t, err.Error(), "carrier-pigeon")
}
