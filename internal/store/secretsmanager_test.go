package store

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

// fakeSecretsManager keeps versions in memory and mimics the staging label
// semantics of the real service closely enough for store tests.
type fakeSecretsManager struct {
	secrets map[string]*fakeSecret
}

type fakeSecret struct {
	versions map[string]*fakeVersion
}

type fakeVersion struct {
	value     string
	stages    []string
	createdAt time.Time
}

func newFakeSecretsManager() *fakeSecretsManager {
	return &fakeSecretsManager{secrets: map[string]*fakeSecret{}}
}

func (f *fakeSecretsManager) seed(id, versionID, value string, stages ...string) {
	sec, ok := f.secrets[id]
	if !ok {
		sec = &fakeSecret{versions: map[string]*fakeVersion{}}
		f.secrets[id] = sec
	}
	sec.versions[versionID] = &fakeVersion{value: value, stages: stages, createdAt: time.Now()}
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	sec, ok := f.secrets[aws.ToString(params.SecretId)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Secrets Manager can't find the specified secret.")}
	}
	stage := aws.ToString(params.VersionStage)
	for id, v := range sec.versions {
		for _, st := range v.stages {
			if st == stage {
				return &secretsmanager.GetSecretValueOutput{
					VersionId:     aws.String(id),
					SecretString:  aws.String(v.value),
					VersionStages: v.stages,
					CreatedDate:   aws.Time(v.createdAt),
				}, nil
			}
		}
	}
	return nil, &types.ResourceNotFoundException{Message: aws.String("Secrets Manager can't find the specified secret value for staging label: " + stage)}
}

func (f *fakeSecretsManager) DescribeSecret(_ context.Context, params *secretsmanager.DescribeSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	sec, ok := f.secrets[aws.ToString(params.SecretId)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Secrets Manager can't find the specified secret.")}
	}
	stages := map[string][]string{}
	for id, v := range sec.versions {
		stages[id] = append([]string{}, v.stages...)
	}
	return &secretsmanager.DescribeSecretOutput{VersionIdsToStages: stages}, nil
}

func (f *fakeSecretsManager) PutSecretValue(_ context.Context, params *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	id := aws.ToString(params.SecretId)
	sec, ok := f.secrets[id]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Secrets Manager can't find the specified secret.")}
	}
	token := aws.ToString(params.ClientRequestToken)

	if existing, ok := sec.versions[token]; ok {
		if existing.value == aws.ToString(params.SecretString) {
			// Idempotent replay of the same request token.
			return &secretsmanager.PutSecretValueOutput{
				VersionId:     aws.String(token),
				VersionStages: existing.stages,
			}, nil
		}
		return nil, &types.ResourceExistsException{Message: aws.String("A resource with the ID you requested already exists.")}
	}

	// A new PENDING displaces the stage from any prior holder.
	for _, v := range sec.versions {
		v.stages = removeStage(v.stages, "AWSPENDING")
	}
	sec.versions[token] = &fakeVersion{
		value:     aws.ToString(params.SecretString),
		stages:    append([]string{}, params.VersionStages...),
		createdAt: time.Now(),
	}
	return &secretsmanager.PutSecretValueOutput{
		VersionId:     aws.String(token),
		VersionStages: params.VersionStages,
	}, nil
}

func (f *fakeSecretsManager) UpdateSecretVersionStage(_ context.Context, params *secretsmanager.UpdateSecretVersionStageInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error) {
	sec, ok := f.secrets[aws.ToString(params.SecretId)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Secrets Manager can't find the specified secret.")}
	}
	stage := aws.ToString(params.VersionStage)

	if params.RemoveFromVersionId != nil {
		if v, ok := sec.versions[*params.RemoveFromVersionId]; ok {
			v.stages = removeStage(v.stages, stage)
			if stage == "AWSCURRENT" && params.MoveToVersionId != nil {
				v.stages = append(v.stages, "AWSPREVIOUS")
			}
		}
	}
	if params.MoveToVersionId != nil {
		if v, ok := sec.versions[*params.MoveToVersionId]; ok {
			v.stages = append(removeStage(v.stages, stage), stage)
		}
	}
	return &secretsmanager.UpdateSecretVersionStageOutput{}, nil
}

func removeStage(stages []string, stage string) []string {
	out := stages[:0]
	for _, st := range stages {
		if st != stage {
			out = append(out, st)
		}
	}
	return out
}

func newTestStore(t *testing.T, fake *fakeSecretsManager) *SecretsManager {
	t.Helper()
	s, err := NewSecretsManager(map[string]interface{}{"region": "us-west-2"}, WithClient(fake))
	require.NoError(t, err)
	return s
}

func TestGetLabeled(t *testing.T) {
	t.Parallel()

	fake := newFakeSecretsManager()
	fake.seed("db-password", "v1", `{"password":"hunter2"}`, "AWSCURRENT")

	s := newTestStore(t, fake)

	v, err := s.GetLabeled(context.Background(), "db-password", secretstore.LabelCurrent)
	require.NoError(t, err)
	assert.Equal(t, "v1", v.ID)
	assert.Equal(t, `{"password":"hunter2"}`, v.Value)
	assert.True(t, v.HasLabel(secretstore.LabelCurrent))
}

func TestGetLabeledUnknownSecret(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, newFakeSecretsManager())

	_, err := s.GetLabeled(context.Background(), "missing", secretstore.LabelCurrent)
	var notFound secretstore.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.ID)
}

func TestGetLabeledMissingStage(t *testing.T) {
	t.Parallel()

	fake := newFakeSecretsManager()
	fake.seed("db-password", "v1", `{"password":"hunter2"}`, "AWSCURRENT")

	s := newTestStore(t, fake)

	_, err := s.GetLabeled(context.Background(), "db-password", secretstore.LabelPending)
	var stale secretstore.StaleReadError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, secretstore.LabelPending, stale.Label)
}

func TestPutPendingIdempotent(t *testing.T) {
	t.Parallel()

	fake := newFakeSecretsManager()
	fake.seed("db-password", "v1", `{"password":"old"}`, "AWSCURRENT")

	s := newTestStore(t, fake)
	ctx := context.Background()

	first, err := s.PutPending(ctx, "db-password", `{"password":"new"}`, "token-abc")
	require.NoError(t, err)
	assert.Equal(t, "token-abc", first.ID)

	// Replaying the same token and value must not create a second version.
	second, err := s.PutPending(ctx, "db-password", `{"password":"new"}`, "token-abc")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, fake.secrets["db-password"].versions, 2)
}

func TestRelabelPromotesPending(t *testing.T) {
	t.Parallel()

	fake := newFakeSecretsManager()
	fake.seed("db-password", "v1", `{"password":"old"}`, "AWSCURRENT")
	fake.seed("db-password", "v2", `{"password":"new"}`, "AWSPENDING")

	s := newTestStore(t, fake)

	promoted, err := s.Relabel(context.Background(), "db-password")
	require.NoError(t, err)
	assert.Equal(t, "v2", promoted.ID)
	assert.Equal(t, `{"password":"new"}`, promoted.Value)

	// The displaced version keeps its value under the PREVIOUS label.
	prev, err := s.GetLabeled(context.Background(), "db-password", secretstore.LabelPrevious)
	require.NoError(t, err)
	assert.Equal(t, "v1", prev.ID)
	assert.Equal(t, `{"password":"old"}`, prev.Value)
}

func TestRelabelWithoutPending(t *testing.T) {
	t.Parallel()

	fake := newFakeSecretsManager()
	fake.seed("db-password", "v1", `{"password":"old"}`, "AWSCURRENT")

	s := newTestStore(t, fake)

	_, err := s.Relabel(context.Background(), "db-password")
	var stale secretstore.StaleReadError
	require.ErrorAs(t, err, &stale)
}

func TestInvalidatePrevious(t *testing.T) {
	t.Parallel()

	fake := newFakeSecretsManager()
	fake.seed("db-password", "v1", `{"password":"old"}`, "AWSPREVIOUS")
	fake.seed("db-password", "v2", `{"password":"new"}`, "AWSCURRENT")

	s := newTestStore(t, fake)
	ctx := context.Background()

	require.NoError(t, s.Invalidate(ctx, "db-password", secretstore.LabelPrevious))

	_, err := s.GetLabeled(ctx, "db-password", secretstore.LabelPrevious)
	var stale secretstore.StaleReadError
	require.ErrorAs(t, err, &stale)

	// Re-invalidating an already detached label is a no-op.
	require.NoError(t, s.Invalidate(ctx, "db-password", secretstore.LabelPrevious))
}
