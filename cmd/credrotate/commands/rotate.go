package commands

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lgtm-migrator/amplify-ci-support/internal/audit"
	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
	"github.com/lgtm-migrator/amplify-ci-support/pkg/rotation"
)

// NewRotateCommand rotates one managed credential.
func NewRotateCommand(app *App) *cobra.Command {
	var (
		credentialID string
		token        string
		verify       string
		region       string
		planPath     string
		grace        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate a managed credential through the staged state machine",
		Long: `Rotate stages a candidate value, installs and verifies it, and then
atomically promotes it. Consumers keep reading the old value until the
final promote step.

Re-run an interrupted rotation with the token it printed; a fresh token
is generated otherwise.

With --plan, a successful rotation starts a deletion workflow that
publishes the new value and retires the old one after the grace
period.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := app.loadSettings()
			if err != nil {
				return err
			}
			st, err := app.openStore(settings)
			if err != nil {
				return err
			}

			if token == "" {
				token, err = newRotationToken()
				if err != nil {
					return err
				}
				app.Logger.Info("rotation token: %s", token)
			}

			verifier, err := buildVerifier(verify, region, settings.Store.Region)
			if err != nil {
				return err
			}

			machine := rotation.NewMachine(
				st,
				rotation.PasswordGenerator{
					Field:  settings.Rotation.Field,
					Length: settings.Rotation.Length,
				},
				rotation.NoopRegistrar{},
				verifier,
				rotation.WithLogger(app.Logger),
			)

			ctx := context.Background()
			promoted, err := machine.Rotate(ctx, credentialID, token)
			if err != nil {
				var conflict rotation.ConflictError
				if errors.As(err, &conflict) {
					app.Logger.Warn("another rotation holds the staged version; resume it with --token %s", conflict.HolderToken)
				}
				app.recordAudit(audit.Entry{
					Action:       "rotation_failed",
					CredentialID: credentialID,
					Token:        token,
					Outcome:      "failed",
					Detail:       err.Error(),
				})
				return err
			}
			app.Logger.Info("promoted version %s", promoted.ID)
			app.recordAudit(audit.Entry{
				Action:       "rotation_completed",
				CredentialID: credentialID,
				Token:        token,
				Outcome:      "success",
			})

			if planPath == "" {
				return nil
			}

			// Retire the displaced version through the grace-period
			// workflow: publish the new value now, invalidate later.
			engine, pairs, err := app.buildEngine(planPath)
			if err != nil {
				return err
			}
			if grace == 0 {
				grace = settings.Workflow.GracePeriod.AsDuration()
			}
			workflowID := "rot-" + token
			if err := engine.Start(ctx, workflowID, credentialID, pairs, grace); err != nil {
				return err
			}
			app.Logger.Info("deletion workflow %s started; resume it after %s", workflowID, grace)
			app.recordAudit(audit.Entry{
				Action:       "workflow_started",
				CredentialID: credentialID,
				Token:        token,
				WorkflowID:   workflowID,
				Outcome:      "waiting",
			})
			return nil
		},
	}

	cmd.Flags().StringVar(&credentialID, "credential", "", "Credential to rotate (required)")
	cmd.Flags().StringVar(&token, "token", "", "Rotation token; reuse to resume an interrupted run")
	cmd.Flags().StringVar(&verify, "verify", "none", "Verification mode: none or access-keys")
	cmd.Flags().StringVar(&region, "verify-region", "", "Region for access key verification (defaults to store region)")
	cmd.Flags().StringVar(&planPath, "plan", "", "Plan file; when set, start a deletion workflow after promotion")
	cmd.Flags().DurationVar(&grace, "grace", 0, "Grace period before the old version is invalidated (defaults to settings)")
	_ = cmd.MarkFlagRequired("credential")

	return cmd
}

func buildVerifier(mode, region, defaultRegion string) (rotation.Verifier, error) {
	switch mode {
	case "none":
		return rotation.NoopVerifier{}, nil
	case "access-keys":
		if region == "" {
			region = defaultRegion
		}
		return rotation.NewAccessKeyVerifier(region), nil
	}
	return nil, dserrors.ConfigError{
		Field:      "verify",
		Value:      mode,
		Message:    "unknown verification mode",
		Suggestion: "use none or access-keys",
	}
}

// newRotationToken returns a fresh 32 hex character token, the run's
// identity for idempotent re-entry.
func newRotationToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating rotation token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
