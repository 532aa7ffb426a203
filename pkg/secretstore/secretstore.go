// Package secretstore defines the credential store abstraction used by the
// rotation state machine and the propagation pipeline.
//
// A credential store holds the versions of each rotatable credential and the
// labels attached to them. At most one version carries each label at any
// time:
//
//   - CURRENT:  the active version; always present once a credential has
//     rotated at least once
//   - PENDING:  the candidate version produced by an in-flight rotation
//   - PREVIOUS: the version displaced by the most recent promotion, kept
//     valid through the grace window
//
// Rotation is the only writer: it stages a PENDING version, promotes it with
// a single atomic relabel, and later invalidates PREVIOUS. The propagation
// path only ever reads CURRENT.
//
// The canonical implementation is AWS Secrets Manager (internal/store),
// where the labels map onto the AWSCURRENT/AWSPENDING/AWSPREVIOUS staging
// labels and the rotation token maps onto the ClientRequestToken. Other
// stores can implement Store as long as Relabel is atomic: no reader may
// observe zero or two CURRENT versions.
package secretstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Label identifies the role a version plays within its credential.
type Label string

const (
	// LabelCurrent marks the active version of a credential.
	LabelCurrent Label = "CURRENT"

	// LabelPending marks the candidate version staged by an in-flight
	// rotation. Owned by exactly one rotation token.
	LabelPending Label = "PENDING"

	// LabelPrevious marks the version displaced by the last promotion.
	// Remains valid until the grace-period workflow invalidates it.
	LabelPrevious Label = "PREVIOUS"
)

// Version is one stored version of a credential.
type Version struct {
	// ID is the store-assigned version identifier. For versions created by
	// PutPending this equals the rotation token that created them, which is
	// what makes staging idempotent and lets the rotation machine detect a
	// pending version owned by a different rotation attempt.
	ID string

	// Value is the raw secret string. Credentials managed by this tooling
	// store their value-set as a JSON object (see DecodeValueSet).
	Value string

	// Labels lists the labels attached to this version.
	Labels []Label

	// CreatedAt is when the version was written, if the store reports it.
	CreatedAt time.Time
}

// HasLabel reports whether the version carries the given label.
func (v *Version) HasLabel(label Label) bool {
	for _, l := range v.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Store is the credential store consumed by rotation and propagation.
//
// Implementations must be safe for concurrent use. Relabel must be atomic at
// the store level; the other operations may be retried by callers and should
// therefore be idempotent with respect to their inputs.
type Store interface {
	// GetLabeled returns the version carrying label for the credential, a
	// NotFoundError if the credential id is unknown, or a StaleReadError if
	// the credential exists but no version currently carries the label.
	GetLabeled(ctx context.Context, id string, label Label) (*Version, error)

	// PutPending stages value as the PENDING version, owned by ownerToken.
	// Calling it again with the same ownerToken and value is a no-op that
	// returns the already-staged version.
	PutPending(ctx context.Context, id, value, ownerToken string) (*Version, error)

	// Relabel atomically promotes PENDING to CURRENT and demotes CURRENT to
	// PREVIOUS, returning the new CURRENT version. Any version previously
	// labeled PREVIOUS loses the label.
	Relabel(ctx context.Context, id string) (*Version, error)

	// Invalidate revokes the version carrying label so it can no longer
	// authenticate. Invalidating an already-invalidated label is a no-op.
	Invalidate(ctx context.Context, id string, label Label) error
}

// NotFoundError indicates the credential id is unknown to the store.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("credential %q not found in secret store", e.ID)
}

// StaleReadError indicates the credential exists but no version carries the
// requested label. Expected mid-rotation; callers should retry after a short
// delay.
type StaleReadError struct {
	ID    string
	Label Label
}

func (e StaleReadError) Error() string {
	return fmt.Sprintf("credential %q has no %s version (rotation in progress?)", e.ID, e.Label)
}

// ValueSet is the material of one credential: a mapping from field name to
// secret string. Produced by sources, consumed by mapping rules, and stored
// as a JSON object in the credential store.
type ValueSet map[string]string

// Fields returns the field names in sorted order. Safe to log.
func (vs ValueSet) Fields() []string {
	fields := make([]string, 0, len(vs))
	for f := range vs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Encode serializes the value-set into the JSON object form stored in the
// secret string.
func (vs ValueSet) Encode() (string, error) {
	data, err := json.Marshal(vs)
	if err != nil {
		return "", fmt.Errorf("failed to encode value-set: %w", err)
	}
	return string(data), nil
}

// String implements fmt.Stringer with a redacted representation so a
// value-set can never leak through formatted output.
func (vs ValueSet) String() string {
	return fmt.Sprintf("ValueSet%v", vs.Fields())
}

// DecodeValueSet parses the JSON object form of a credential value.
func DecodeValueSet(raw string) (ValueSet, error) {
	var vs ValueSet
	if err := json.Unmarshal([]byte(raw), &vs); err != nil {
		return nil, fmt.Errorf("credential value is not a JSON object of string fields: %w", err)
	}
	return vs, nil
}
