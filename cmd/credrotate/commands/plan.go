package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lgtm-migrator/amplify-ci-support/internal/config"
)

// NewPlanCommand validates a plan and shows what would be published,
// without resolving any values.
func NewPlanCommand(app *App) *cobra.Command {
	var (
		planPath   string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Validate the plan and show its source/destination pairs",
		Long: `Plan parses and validates the plan file and lists which destination
keys each source feeds, without contacting any source or destination.
No secret values are resolved or shown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(planPath)
			if err != nil {
				return fmt.Errorf("failed to read plan %s: %w", planPath, err)
			}
			plan, err := config.ParsePlan(data)
			if err != nil {
				return err
			}

			if outputJSON {
				encoded, err := plan.Encode()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE\tDESTINATION\tKEYS")
			for _, src := range plan.Sources {
				keys := ""
				for i, entry := range src.Destination.MappingToDestination {
					if i > 0 {
						keys += ","
					}
					keys += entry.DestinationKeyName
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", src.Type, src.Destination.Specifier, keys)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			app.Logger.Info("plan is valid: %d pair(s), %d destination(s)", len(plan.Sources), len(plan.Destinations))
			return nil
		},
	}

	cmd.Flags().StringVar(&planPath, "plan", "plan.json", "Plan file path")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print the normalized plan as JSON")

	return cmd
}
