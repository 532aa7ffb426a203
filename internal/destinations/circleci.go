package destinations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
	"github.com/lgtm-migrator/amplify-ci-support/internal/mapping"
	"github.com/lgtm-migrator/amplify-ci-support/internal/sources"
	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

const defaultCircleCIBaseURL = "https://circleci.com/api/v2"

// CircleCIPublisher writes project environment variables through the
// CircleCI v2 API. Each pair becomes one POST; the API upserts by name.
type CircleCIPublisher struct {
	httpClient  *http.Client
	baseURL     string
	projectSlug string
	token       string

	// The API token may itself be a managed credential; it is then
	// resolved through the store at publish time.
	tokenSource sources.Source
	tokenField  string
}

// NewCircleCIPublisher builds a CircleCI publisher. Configuration keys:
// project_slug (required, e.g. gh/acme/widget), base_url (for test
// servers), and one of three ways to supply the API token:
//
//   - token: the literal token
//   - token_credential_id: a managed credential whose CURRENT value holds
//     the token (token_field names the field, default "token")
//   - token_env: an environment variable (default CIRCLE_TOKEN)
func NewCircleCIPublisher(store secretstore.Store, cfg map[string]interface{}) (Publisher, error) {
	projectSlug, _ := cfg["project_slug"].(string)
	if projectSlug == "" {
		return nil, dserrors.ConfigError{
			Field:      "project_slug",
			Message:    "project_slug is required for the circleci destination",
			Suggestion: "use the vcs/org/repo form, e.g. gh/acme/widget",
		}
	}

	baseURL := defaultCircleCIBaseURL
	if u, ok := cfg["base_url"].(string); ok && u != "" {
		baseURL = u
	}

	p := &CircleCIPublisher{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     baseURL,
		projectSlug: projectSlug,
	}

	token, _ := cfg["token"].(string)
	tokenCredentialID, _ := cfg["token_credential_id"].(string)
	switch {
	case token != "":
		p.token = token
	case tokenCredentialID != "":
		if store == nil {
			return nil, dserrors.ConfigError{
				Field:      "token_credential_id",
				Value:      tokenCredentialID,
				Message:    "no secret store available to resolve the token",
				Suggestion: "configure the store, or provide token / token_env instead",
			}
		}
		src, err := sources.NewStoreSource(store, map[string]interface{}{
			"credential_id": tokenCredentialID,
		})
		if err != nil {
			return nil, err
		}
		p.tokenSource = src
		if field, ok := cfg["token_field"].(string); ok && field != "" {
			p.tokenField = field
		} else {
			p.tokenField = "token"
		}
	default:
		tokenEnv, _ := cfg["token_env"].(string)
		if tokenEnv == "" {
			tokenEnv = "CIRCLE_TOKEN"
		}
		p.token = os.Getenv(tokenEnv)
		if p.token == "" {
			return nil, dserrors.ConfigError{
				Field:      "token",
				Message:    fmt.Sprintf("no token configured and %s is not set", tokenEnv),
				Suggestion: "provide token or token_credential_id in the destination configuration, or export " + tokenEnv,
			}
		}
	}

	return p, nil
}

// authToken returns the API token, resolving it through the store on
// first use when the destination names a managed credential.
func (p *CircleCIPublisher) authToken(ctx context.Context) (string, error) {
	if p.token != "" {
		return p.token, nil
	}
	values, err := p.tokenSource.Resolve(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving circleci token: %w", err)
	}
	token := values[p.tokenField]
	if token == "" {
		return "", dserrors.ConfigError{
			Field:      "token_field",
			Value:      p.tokenField,
			Message:    "token credential has no such field",
			Suggestion: "set token_field to a field of the credential's value set",
		}
	}
	p.token = token
	return token, nil
}

func (p *CircleCIPublisher) Type() string { return "circleci" }

// Publish upserts each pair as a project environment variable. Writes
// continue past individual failures so the error reflects the true final
// state of the project.
func (p *CircleCIPublisher) Publish(ctx context.Context, pairs []mapping.Pair) error {
	token, err := p.authToken(ctx)
	if err != nil {
		return err
	}

	var written []string
	failed := map[string]error{}

	for _, pair := range pairs {
		if err := p.putEnvVar(ctx, token, pair.Key, pair.Value); err != nil {
			// Auth and missing-project failures apply to every remaining
			// pair; stop early and report them directly when nothing was
			// written yet.
			var authErr AuthError
			var notFound NotFoundError
			if errors.As(err, &authErr) || errors.As(err, &notFound) {
				if len(written) == 0 {
					return err
				}
				failed[pair.Key] = err
				break
			}
			failed[pair.Key] = err
			continue
		}
		written = append(written, pair.Key)
	}

	if len(failed) == 0 {
		return nil
	}
	if len(written) == 0 {
		// Nothing landed; surface the single failure as-is, otherwise
		// wrap the first so its classification survives.
		keys := make([]string, 0, len(failed))
		for key := range failed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		if len(keys) == 1 {
			return failed[keys[0]]
		}
		return fmt.Errorf("no env vars written, %d key(s) failed (%s): %w",
			len(keys), strings.Join(keys, ", "), failed[keys[0]])
	}
	return PartialWriteError{Written: written, Failed: failed}
}

func (p *CircleCIPublisher) putEnvVar(ctx context.Context, token, name, value string) error {
	body, err := json.Marshal(map[string]string{"name": name, "value": value})
	if err != nil {
		return fmt.Errorf("encoding env var %q: %w", name, err)
	}

	endpoint := fmt.Sprintf("%s/project/%s/envvar", p.baseURL, url.PathEscape(p.projectSlug))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request for %q: %w", name, err)
	}
	req.Header.Set("Circle-Token", token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return dserrors.TransientError{Op: "circleci publish", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return AuthError{DestinationType: "circleci", StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound:
		return NotFoundError{DestinationType: "circleci", Target: p.projectSlug}
	case resp.StatusCode == http.StatusTooManyRequests:
		return dserrors.ThrottlingError{Service: "circleci", Err: fmt.Errorf("HTTP 429 for %q", name)}
	case resp.StatusCode >= 500:
		return dserrors.TransientError{Op: "circleci publish", Err: fmt.Errorf("HTTP %d for %q", resp.StatusCode, name)}
	}
	return fmt.Errorf("circleci rejected env var %q: HTTP %d", name, resp.StatusCode)
}
