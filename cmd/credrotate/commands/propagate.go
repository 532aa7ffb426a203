package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lgtm-migrator/amplify-ci-support/internal/propagation"
)

// NewPropagateCommand runs the plan's source/destination pairs once.
func NewPropagateCommand(app *App) *cobra.Command {
	var planPath string

	cmd := &cobra.Command{
		Use:   "propagate",
		Short: "Resolve sources and publish their values to destinations",
		Long: `Propagate runs every source/destination pair in the plan. Pairs are
independent: a failing pair is reported and skipped while the rest
still publish.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := app.loadSettings()
			if err != nil {
				return err
			}
			st, err := app.openStore(settings)
			if err != nil {
				return err
			}
			pairs, _, err := app.loadPairs(planPath, st)
			if err != nil {
				return err
			}

			runner := propagation.NewRunner(app.Logger)
			result := runner.Run(context.Background(), pairs)
			app.Logger.Info("propagation finished: %d succeeded, %d failed", result.Succeeded(), result.Failed())
			if err := result.Err(); err != nil {
				return fmt.Errorf("propagation incomplete: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&planPath, "plan", "plan.json", "Plan file path")

	return cmd
}
