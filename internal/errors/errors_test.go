package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserErrorFormatting(t *testing.T) {
	t.Parallel()

	err := UserError{
		Message:    "Failed to assume role",
		Details:    "AccessDenied",
		Suggestion: "Check the role trust policy",
	}

	msg := err.Error()
	assert.Contains(t, msg, "Failed to assume role")
	assert.Contains(t, msg, "Details: AccessDenied")
	assert.Contains(t, msg, "Try: Check the role trust policy")
}

func TestUserErrorUnwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("root cause")
	err := UserError{Message: "outer", Err: inner}
	assert.ErrorIs(t, err, inner)
}

func TestConfigErrorFormatting(t *testing.T) {
	t.Parallel()

	err := ConfigError{
		Field:      "destination",
		Value:      "ios-sdk",
		Message:    "no destination with this specifier",
		Suggestion: "Add it to the destinations map",
	}

	msg := err.Error()
	assert.Contains(t, msg, "field 'destination'")
	assert.Contains(t, msg, "value: ios-sdk")
	assert.Contains(t, msg, "no destination with this specifier")
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "transient_typed", err: TransientError{Op: "putPending", Err: errors.New("boom")}, want: true},
		{name: "throttling_typed", err: ThrottlingError{Service: "secretsmanager", Err: errors.New("slow down")}, want: true},
		{name: "wrapped_transient", err: fmt.Errorf("step failed: %w", TransientError{Op: "relabel", Err: errors.New("io")}), want: true},
		{name: "throttling_pattern", err: errors.New("ThrottlingException: Rate exceeded"), want: true},
		{name: "timeout_pattern", err: errors.New("dial tcp: i/o timeout"), want: true},
		{name: "config_error", err: ConfigError{Message: "bad mapping"}, want: false},
		{name: "ordinary_error", err: errors.New("secret not found"), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
