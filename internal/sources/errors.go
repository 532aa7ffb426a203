package sources

import "fmt"

// AuthorizationError reports a source rejecting the ambient credentials.
type AuthorizationError struct {
	SourceType string
	Err        error
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("source %q refused authorization: %v", e.SourceType, e.Err)
}

func (e AuthorizationError) Unwrap() error { return e.Err }

// ExpiredError reports a source whose backing credentials have expired.
type ExpiredError struct {
	SourceType string
	Err        error
}

func (e ExpiredError) Error() string {
	return fmt.Sprintf("source %q credentials expired: %v", e.SourceType, e.Err)
}

func (e ExpiredError) Unwrap() error { return e.Err }

// MissingVariableError reports an environment variable a source needs but
// the process does not have.
type MissingVariableError struct {
	Name string
}

func (e MissingVariableError) Error() string {
	return fmt.Sprintf("environment variable %q is not set", e.Name)
}
