package rotation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
)

func TestBackoffStopsOnSuccess(t *testing.T) {
	t.Parallel()

	b := Backoff{Attempts: 5, Base: time.Millisecond}
	calls := 0
	err := b.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return dserrors.TransientError{Op: "x", Err: errors.New("flaky")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBackoffDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	b := Backoff{Attempts: 5, Base: time.Millisecond}
	calls := 0
	boom := errors.New("bad credentials")
	err := b.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestBackoffExhaustsAttempts(t *testing.T) {
	t.Parallel()

	b := Backoff{Attempts: 3, Base: time.Millisecond, Max: time.Millisecond}
	calls := 0
	err := b.Do(context.Background(), func(context.Context) error {
		calls++
		return dserrors.TransientError{Op: "x", Err: errors.New("still down")}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestBackoffHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := Backoff{Attempts: 3, Base: time.Minute}
	err := b.Do(ctx, func(context.Context) error {
		return dserrors.TransientError{Op: "x", Err: errors.New("down")}
	})
	assert.ErrorIs(t, err, context.Canceled)
}
