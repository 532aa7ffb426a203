// Package errors defines the cross-cutting error types used throughout the
// credential rotation tooling, plus the classification used by retry loops.
//
// Domain-specific failures (conflicts, stale reads, unresolved mapping
// fields, destination write failures) are declared in their owning packages;
// this package only carries the operator-facing wrappers and the transient
// classification.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError is an error that should be shown to the operator with context.
type UserError struct {
	Message    string
	Details    string
	Suggestion string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError is a configuration problem. Configuration errors fail fast
// and are never retried.
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce ConfigError
	return errors.As(err, &ce)
}

// TransientError marks a store or network failure that is expected to
// succeed on retry. Retry loops back off and re-attempt the operation up
// to their bounded attempt count.
type TransientError struct {
	Op  string
	Err error
}

func (e TransientError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Op, e.Err)
}

func (e TransientError) Unwrap() error {
	return e.Err
}

// ThrottlingError marks a rate-limit rejection from a backing service.
// Retried like TransientError but indicates the caller should back off
// harder.
type ThrottlingError struct {
	Service string
	Err     error
}

func (e ThrottlingError) Error() string {
	return fmt.Sprintf("%s throttled the request: %v", e.Service, e.Err)
}

func (e ThrottlingError) Unwrap() error {
	return e.Err
}

// retryablePatterns covers SDK errors that do not arrive as typed
// transient errors.
var retryablePatterns = []string{
	"timeout",
	"temporary failure",
	"connection reset",
	"broken pipe",
	"rate limit",
	"throttling",
	"too many requests",
	"service unavailable",
	"internalservice",
}

// IsRetryable reports whether err should be retried with backoff.
// Typed transient and throttling errors always qualify; anything else is
// classified by message patterns.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te TransientError
	if errors.As(err, &te) {
		return true
	}
	var th ThrottlingError
	if errors.As(err, &th) {
		return true
	}
	if IsConfigError(err) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}
