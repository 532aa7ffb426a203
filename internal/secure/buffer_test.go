package secure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferRoundTrip(t *testing.T) {
	buf := NewBuffer([]byte("candidate-credential"))
	defer buf.Destroy()

	locked, err := buf.Open()
	require.NoError(t, err)
	defer locked.Destroy()

	assert.Equal(t, "candidate-credential", locked.String())
}

func TestBufferDestroyIdempotent(t *testing.T) {
	buf := NewBuffer([]byte("candidate-credential"))

	buf.Destroy()
	buf.Destroy()

	locked, err := buf.Open()
	require.ErrorIs(t, err, ErrDestroyed)
	assert.Nil(t, locked)
}
