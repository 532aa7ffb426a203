package main

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/lgtm-migrator/amplify-ci-support/cmd/credrotate/commands"
	"github.com/lgtm-migrator/amplify-ci-support/internal/logging"
	"github.com/lgtm-migrator/amplify-ci-support/internal/metrics"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	defer memguard.Purge()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		settingsFile  string
		noColor       bool
		debug         bool
		enableMetrics bool
	)

	app := &commands.App{}

	rootCmd := &cobra.Command{
		Use:   "credrotate",
		Short: "Rotate credentials and propagate them to their consumers",
		Long: `credrotate rotates managed credentials through a staged state machine,
publishes the results to the systems that consume them, and retires
superseded versions after a grace period.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			app.Logger = logging.New(debug, noColor)
			app.SettingsPath = settingsFile
			if enableMetrics {
				metrics.Init()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&settingsFile, "config", "credrotate.yaml", "Settings file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&enableMetrics, "metrics", false, "Register Prometheus collectors")

	rootCmd.AddCommand(
		commands.NewRotateCommand(app),
		commands.NewPropagateCommand(app),
		commands.NewPlanCommand(app),
		commands.NewWorkflowCommand(app),
	)

	return rootCmd.Execute()
}
