// Package mapping turns a resolved credential value set into the named
// key/value pairs a destination expects.
package mapping

import (
	"fmt"

	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

// Entry maps one field of a resolved value set to a destination key.
// An empty ResultValueKey means the destination key name doubles as the
// lookup key in the value set.
type Entry struct {
	DestinationKeyName string `json:"destination_key_name"`
	ResultValueKey     string `json:"result_value_key,omitempty"`
}

// resultKey returns the value-set field this entry reads from.
func (e Entry) resultKey() string {
	if e.ResultValueKey != "" {
		return e.ResultValueKey
	}
	return e.DestinationKeyName
}

// Rule is an ordered list of entries applied as a unit. Order is preserved
// end to end so published output is deterministic.
type Rule []Entry

// Pair is one destination key with its mapped value. Callers must not log
// the value; use the key alone in diagnostics.
type Pair struct {
	Key   string
	Value string
}

// UnresolvedFieldError reports a mapping entry whose source field is absent
// from the resolved value set. The missing field name is safe to log; the
// values never appear in the message.
type UnresolvedFieldError struct {
	DestinationKey string
	ResultKey      string
}

func (e UnresolvedFieldError) Error() string {
	return fmt.Sprintf("cannot map destination key %q: field %q not present in resolved values", e.DestinationKey, e.ResultKey)
}

// Validate rejects rules that would write the same destination key twice.
func (r Rule) Validate() error {
	seen := map[string]bool{}
	for _, entry := range r {
		if entry.DestinationKeyName == "" {
			return dserrors.ConfigError{
				Field:      "destination_key_name",
				Message:    "must not be empty",
				Suggestion: "name the environment variable or key the destination should receive",
			}
		}
		if seen[entry.DestinationKeyName] {
			return dserrors.ConfigError{
				Field:      "destination_key_name",
				Value:      entry.DestinationKeyName,
				Message:    "targeted by more than one mapping entry",
				Suggestion: "each destination key may be written by exactly one entry",
			}
		}
		seen[entry.DestinationKeyName] = true
	}
	return nil
}

// Apply maps values through the rule. It fails closed: any unresolved field
// aborts the whole rule and no pairs are returned.
func (r Rule) Apply(values secretstore.ValueSet) ([]Pair, error) {
	pairs := make([]Pair, 0, len(r))
	for _, entry := range r {
		key := entry.resultKey()
		value, ok := values[key]
		if !ok {
			return nil, UnresolvedFieldError{
				DestinationKey: entry.DestinationKeyName,
				ResultKey:      key,
			}
		}
		pairs = append(pairs, Pair{Key: entry.DestinationKeyName, Value: value})
	}
	return pairs, nil
}
