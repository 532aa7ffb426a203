// Package sources resolves credential material from its place of record
// into a value set ready for mapping. Each source type is self-contained;
// a registry turns plan entries into live resolvers.
package sources

import (
	"context"
	"fmt"
	"sort"
	"strings"

	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

// Source resolves credential material into a value set of named fields.
type Source interface {
	// Type returns the source's registered type discriminator.
	Type() string
	// Resolve fetches the credential material. Values in the returned set
	// are sensitive and must never be logged.
	Resolve(ctx context.Context) (secretstore.ValueSet, error)
}

// Factory builds a Source from its configuration block.
type Factory func(cfg map[string]interface{}) (Source, error)

// Registry maps type discriminators to source factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in source types. The
// credential store backs the "secretstore" type; pass nil to leave it
// unregistered.
func NewRegistry(store secretstore.Store) *Registry {
	r := &Registry{factories: make(map[string]Factory)}

	r.Register("session", NewSessionSource)
	r.Register("env", NewEnvSource)
	r.Register("parameterstore", NewParameterStoreSource)
	if store != nil {
		r.Register("secretstore", func(cfg map[string]interface{}) (Source, error) {
			return NewStoreSource(store, cfg)
		})
	}

	return r
}

// Register adds or replaces a factory for a type discriminator.
func (r *Registry) Register(sourceType string, factory Factory) {
	r.factories[sourceType] = factory
}

// Create instantiates the source a plan entry describes.
func (r *Registry) Create(sourceType string, cfg map[string]interface{}) (Source, error) {
	factory, ok := r.factories[sourceType]
	if !ok {
		return nil, dserrors.ConfigError{
			Field:      "type",
			Value:      sourceType,
			Message:    "unknown source type",
			Suggestion: fmt.Sprintf("available types: %s", knownTypes(r.factories)),
		}
	}
	return factory(cfg)
}

func knownTypes(factories map[string]Factory) string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
