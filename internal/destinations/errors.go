package destinations

import (
	"fmt"
	"sort"
	"strings"
)

// AuthError reports a destination rejecting the publishing token.
type AuthError struct {
	DestinationType string
	StatusCode      int
}

func (e AuthError) Error() string {
	return fmt.Sprintf("destination %q rejected the token (HTTP %d)", e.DestinationType, e.StatusCode)
}

// NotFoundError reports a destination target that does not exist, such as a
// project slug the token cannot see.
type NotFoundError struct {
	DestinationType string
	Target          string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("destination %q target %q not found", e.DestinationType, e.Target)
}

// PartialWriteError reports a publish where some keys were written and
// others were not. Key names only; values never appear.
type PartialWriteError struct {
	Written []string
	Failed  map[string]error
}

func (e PartialWriteError) Error() string {
	failed := make([]string, 0, len(e.Failed))
	for key := range e.Failed {
		failed = append(failed, key)
	}
	sort.Strings(failed)
	return fmt.Sprintf("partial write: %d key(s) written, failed: %s",
		len(e.Written), strings.Join(failed, ", "))
}
