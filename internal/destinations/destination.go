// Package destinations publishes mapped key/value pairs to the systems
// that consume credentials, such as CI providers.
package destinations

import (
	"context"
	"fmt"
	"sort"
	"strings"

	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
	"github.com/lgtm-migrator/amplify-ci-support/internal/mapping"
	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

// Publisher writes mapped pairs to one destination. Publish must report
// partial outcomes through PartialWriteError so callers can tell a clean
// failure from a half-applied one.
type Publisher interface {
	// Type returns the destination's registered type discriminator.
	Type() string
	// Publish writes pairs in order. Pair values are sensitive and must
	// never appear in logs or errors.
	Publish(ctx context.Context, pairs []mapping.Pair) error
}

// Factory builds a Publisher from its configuration block.
type Factory func(cfg map[string]interface{}) (Publisher, error)

// Registry maps type discriminators to destination factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in destination types.
// Destinations resolve their own auth tokens through store when their
// configuration names a managed credential; store may be nil when no
// destination does.
func NewRegistry(store secretstore.Store) *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("circleci", func(cfg map[string]interface{}) (Publisher, error) {
		return NewCircleCIPublisher(store, cfg)
	})
	return r
}

// Register adds or replaces a factory for a type discriminator.
func (r *Registry) Register(destinationType string, factory Factory) {
	r.factories[destinationType] = factory
}

// Create instantiates the publisher a plan entry describes.
func (r *Registry) Create(destinationType string, cfg map[string]interface{}) (Publisher, error) {
	factory, ok := r.factories[destinationType]
	if !ok {
		names := make([]string, 0, len(r.factories))
		for name := range r.factories {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, dserrors.ConfigError{
			Field:      "type",
			Value:      destinationType,
			Message:    "unknown destination type",
			Suggestion: fmt.Sprintf("available types: %s", strings.Join(names, ", ")),
		}
	}
	return factory(cfg)
}
