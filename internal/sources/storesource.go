package sources

import (
	"context"
	"fmt"

	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

// StoreSource reads the CURRENT version of a managed credential and decodes
// its value set. Propagation always reads CURRENT; staged PENDING material
// is never published.
type StoreSource struct {
	store        secretstore.Store
	credentialID string
}

// NewStoreSource builds a store-backed source. Configuration key
// "credential_id" names the credential to read.
func NewStoreSource(store secretstore.Store, cfg map[string]interface{}) (Source, error) {
	id, _ := cfg["credential_id"].(string)
	if id == "" {
		return nil, dserrors.ConfigError{
			Field:      "credential_id",
			Message:    "credential_id is required for the secretstore source",
			Suggestion: "name the managed credential to read",
		}
	}
	return &StoreSource{store: store, credentialID: id}, nil
}

func (s *StoreSource) Type() string { return "secretstore" }

func (s *StoreSource) Resolve(ctx context.Context) (secretstore.ValueSet, error) {
	version, err := s.store.GetLabeled(ctx, s.credentialID, secretstore.LabelCurrent)
	if err != nil {
		return nil, err
	}
	values, err := secretstore.DecodeValueSet(version.Value)
	if err != nil {
		return nil, fmt.Errorf("credential %q: %w", s.credentialID, err)
	}
	return values, nil
}
