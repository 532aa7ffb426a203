package commands

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lgtm-migrator/amplify-ci-support/internal/audit"
	"github.com/lgtm-migrator/amplify-ci-support/internal/propagation"
	"github.com/lgtm-migrator/amplify-ci-support/internal/workflow"
)

// NewWorkflowCommand groups the deletion workflow subcommands.
func NewWorkflowCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage grace-period deletion workflows",
		Long: `A deletion workflow republishes the live credential, waits out a grace
period, and then invalidates the superseded version. The wait survives
process restarts; schedule "workflow resume" to advance due workflows.`,
	}

	cmd.AddCommand(
		newWorkflowStartCommand(app),
		newWorkflowResumeCommand(app),
		newWorkflowStatusCommand(app),
		newWorkflowListCommand(app),
	)
	return cmd
}

func (a *App) buildEngine(planPath string) (*workflow.Engine, []propagation.Pair, error) {
	settings, err := a.loadSettings()
	if err != nil {
		return nil, nil, err
	}
	st, err := a.openStore(settings)
	if err != nil {
		return nil, nil, err
	}
	pairs, _, err := a.loadPairs(planPath, st)
	if err != nil {
		return nil, nil, err
	}

	storage := workflow.NewFileStorage(settings.Workflow.Dir)
	engine := workflow.NewEngine(storage, st, propagation.NewRunner(a.Logger), a.Logger)
	return engine, pairs, nil
}

func newWorkflowStartCommand(app *App) *cobra.Command {
	var (
		id           string
		credentialID string
		planPath     string
		grace        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a deletion workflow for a credential's previous version",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, pairs, err := app.buildEngine(planPath)
			if err != nil {
				return err
			}
			if grace == 0 {
				settings, err := app.loadSettings()
				if err != nil {
					return err
				}
				grace = settings.Workflow.GracePeriod.AsDuration()
			}
			if err := engine.Start(context.Background(), id, credentialID, pairs, grace); err != nil {
				return err
			}
			app.recordAudit(audit.Entry{
				Action:       "workflow_started",
				CredentialID: credentialID,
				WorkflowID:   id,
				Outcome:      "waiting",
			})
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Workflow id (required)")
	cmd.Flags().StringVar(&credentialID, "credential", "", "Credential whose previous version to retire (required)")
	cmd.Flags().StringVar(&planPath, "plan", "plan.json", "Plan file path")
	cmd.Flags().DurationVar(&grace, "grace", 0, "Grace period before invalidation (defaults to settings)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("credential")

	return cmd
}

func newWorkflowResumeCommand(app *App) *cobra.Command {
	var (
		id       string
		planPath string
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Advance a suspended workflow if its grace period has elapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, pairs, err := app.buildEngine(planPath)
			if err != nil {
				return err
			}
			err = engine.Resume(context.Background(), id, pairs)
			var notDue workflow.NotDueError
			if errors.As(err, &notDue) {
				app.Logger.Info("%v", notDue)
				return nil
			}
			if err != nil {
				app.recordAudit(audit.Entry{
					Action:     "workflow_resume_failed",
					WorkflowID: id,
					Outcome:    "failed",
					Detail:     err.Error(),
				})
				return err
			}
			app.recordAudit(audit.Entry{
				Action:     "workflow_resumed",
				WorkflowID: id,
				Outcome:    "advanced",
			})
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Workflow id (required)")
	cmd.Flags().StringVar(&planPath, "plan", "plan.json", "Plan file path")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func newWorkflowStatusCommand(app *App) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show one workflow's durable state",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := app.loadSettings()
			if err != nil {
				return err
			}
			storage := workflow.NewFileStorage(settings.Workflow.Dir)
			record, err := storage.Load(id)
			if err != nil {
				return err
			}
			printRecord(cmd, record)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Workflow id (required)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func newWorkflowListCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all known workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := app.loadSettings()
			if err != nil {
				return err
			}
			records, err := workflow.NewFileStorage(settings.Workflow.Dir).List()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREDENTIAL\tSTATE\tRESUMES")
			for _, record := range records {
				resumes := "-"
				if record.State == workflow.StateWaiting {
					resumes = record.ResumeAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", record.ID, record.CredentialID, record.State, resumes)
			}
			return w.Flush()
		},
	}

	return cmd
}

func printRecord(cmd *cobra.Command, record *workflow.Record) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Workflow:   %s\n", record.ID)
	fmt.Fprintf(out, "Credential: %s\n", record.CredentialID)
	fmt.Fprintf(out, "State:      %s\n", record.State)
	if record.State == workflow.StateWaiting {
		fmt.Fprintf(out, "Resumes:    %s\n", record.ResumeAt.Format(time.RFC3339))
	}
	if record.LastError != "" {
		fmt.Fprintf(out, "Last error: %s\n", record.LastError)
	}
	fmt.Fprintf(out, "Updated:    %s\n", record.UpdatedAt.Format(time.RFC3339))
}
