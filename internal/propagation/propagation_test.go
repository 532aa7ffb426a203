package propagation

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
	"github.com/lgtm-migrator/amplify-ci-support/internal/logging"
	"github.com/lgtm-migrator/amplify-ci-support/internal/mapping"
	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

type stubSource struct {
	values secretstore.ValueSet
	err    error
}

func (s *stubSource) Type() string { return "stub" }

func (s *stubSource) Resolve(_ context.Context) (secretstore.ValueSet, error) {
	return s.values, s.err
}

type recordingPublisher struct {
	published [][]mapping.Pair
	err       error
}

func (p *recordingPublisher) Type() string { return "recording" }

func (p *recordingPublisher) Publish(_ context.Context, pairs []mapping.Pair) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, pairs)
	return nil
}

func testRunner() *Runner {
	return NewRunner(logging.NewWithWriter(io.Discard, false, true))
}

func TestRunAllPairsSucceed(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	result := testRunner().Run(context.Background(), []Pair{
		{
			Specifier: "ci-project",
			Source:    &stubSource{values: secretstore.ValueSet{"token": "tok"}},
			Rule:      mapping.Rule{{DestinationKeyName: "API_TOKEN", ResultValueKey: "token"}},
			Publisher: pub,
		},
	})

	require.NoError(t, result.Err())
	assert.Equal(t, 1, result.Succeeded())
	require.Len(t, pub.published, 1)
	assert.Equal(t, "API_TOKEN", pub.published[0][0].Key)
}

func TestRunIsolatesFailures(t *testing.T) {
	t.Parallel()

	good := &recordingPublisher{}
	result := testRunner().Run(context.Background(), []Pair{
		{
			Specifier: "broken",
			Source:    &stubSource{err: errors.New("upstream down")},
			Rule:      mapping.Rule{{DestinationKeyName: "A"}},
			Publisher: &recordingPublisher{},
		},
		{
			Specifier: "healthy",
			Source:    &stubSource{values: secretstore.ValueSet{"A": "v"}},
			Rule:      mapping.Rule{{DestinationKeyName: "A"}},
			Publisher: good,
		},
	})

	assert.Equal(t, 1, result.Succeeded())
	assert.Equal(t, 1, result.Failed())
	require.Error(t, result.Err())
	assert.Contains(t, result.Err().Error(), "broken")
	assert.NotContains(t, result.Err().Error(), "healthy")
	require.Len(t, good.published, 1, "healthy pair still publishes")
}

func TestRunSkipsPublishOnMappingFailure(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	result := testRunner().Run(context.Background(), []Pair{
		{
			Specifier: "ci-project",
			Source:    &stubSource{values: secretstore.ValueSet{"present": "v"}},
			Rule:      mapping.Rule{{DestinationKeyName: "MISSING"}},
			Publisher: pub,
		},
	})

	assert.Equal(t, 1, result.Failed())
	var unresolved mapping.UnresolvedFieldError
	require.ErrorAs(t, result.Results[0].Err, &unresolved)
	assert.Empty(t, pub.published, "no publish after a failed mapping")
}

type staleThenGoodSource struct {
	stalesLeft int
	values     secretstore.ValueSet
}

func (s *staleThenGoodSource) Type() string { return "stale" }

func (s *staleThenGoodSource) Resolve(context.Context) (secretstore.ValueSet, error) {
	if s.stalesLeft > 0 {
		s.stalesLeft--
		return nil, secretstore.StaleReadError{ID: "db-password", Label: secretstore.LabelCurrent}
	}
	return s.values, nil
}

func TestRunRetriesStaleReads(t *testing.T) {
	t.Parallel()

	runner := testRunner()
	runner.staleDelay = time.Millisecond

	pub := &recordingPublisher{}
	result := runner.Run(context.Background(), []Pair{
		{
			Specifier: "ci-project",
			Source:    &staleThenGoodSource{stalesLeft: 2, values: secretstore.ValueSet{"token": "tok"}},
			Rule:      mapping.Rule{{DestinationKeyName: "API_TOKEN", ResultValueKey: "token"}},
			Publisher: pub,
		},
	})

	require.NoError(t, result.Err())
	require.Len(t, pub.published, 1)
}

func TestRunGivesUpOnPersistentStaleReads(t *testing.T) {
	t.Parallel()

	runner := testRunner()
	runner.staleDelay = time.Millisecond

	result := runner.Run(context.Background(), []Pair{
		{
			Specifier: "ci-project",
			Source:    &staleThenGoodSource{stalesLeft: 10},
			Rule:      mapping.Rule{{DestinationKeyName: "API_TOKEN", ResultValueKey: "token"}},
			Publisher: &recordingPublisher{},
		},
	})

	assert.Equal(t, 1, result.Failed())
	var stale secretstore.StaleReadError
	assert.ErrorAs(t, result.Results[0].Err, &stale)
}

func TestRunRejectsInvalidRule(t *testing.T) {
	t.Parallel()

	result := testRunner().Run(context.Background(), []Pair{
		{
			Specifier: "ci-project",
			Source:    &stubSource{values: secretstore.ValueSet{"a": "v"}},
			Rule: mapping.Rule{
				{DestinationKeyName: "DUP", ResultValueKey: "a"},
				{DestinationKeyName: "DUP", ResultValueKey: "a"},
			},
			Publisher: &recordingPublisher{},
		},
	})

	assert.Equal(t, 1, result.Failed())
}

func TestRunResultRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		results []PairResult
		want    bool
	}{
		{"all succeeded", []PairResult{{}}, false},
		{"transient failure", []PairResult{
			{Err: dserrors.TransientError{Op: "publish", Err: errors.New("HTTP 503")}},
		}, true},
		{"mixed with non-retryable", []PairResult{
			{Err: dserrors.TransientError{Op: "publish", Err: errors.New("HTTP 503")}},
			{Err: errors.New("bad mapping")},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RunResult{Results: tt.results}.Retryable())
		})
	}
}
