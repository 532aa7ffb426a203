package commands

import (
	"fmt"
	"os"

	"github.com/lgtm-migrator/amplify-ci-support/internal/audit"
	"github.com/lgtm-migrator/amplify-ci-support/internal/config"
	"github.com/lgtm-migrator/amplify-ci-support/internal/destinations"
	"github.com/lgtm-migrator/amplify-ci-support/internal/logging"
	"github.com/lgtm-migrator/amplify-ci-support/internal/propagation"
	"github.com/lgtm-migrator/amplify-ci-support/internal/sources"
	"github.com/lgtm-migrator/amplify-ci-support/internal/store"
	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

// App carries state shared across commands, populated by the root
// command's PersistentPreRun.
type App struct {
	Logger       *logging.Logger
	SettingsPath string

	trail *audit.Trail
}

// recordAudit appends an entry to the audit trail. Failures are
// reported but never fail the command.
func (a *App) recordAudit(entry audit.Entry) {
	if a.trail == nil {
		a.trail = audit.NewTrail(audit.DefaultPath())
	}
	if err := a.trail.Record(entry); err != nil {
		a.Logger.Warn("failed to write audit log: %v", err)
	}
}

func (a *App) loadSettings() (*config.Settings, error) {
	settings, err := config.LoadSettings(a.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return settings, nil
}

func (a *App) openStore(settings *config.Settings) (secretstore.Store, error) {
	cfg := map[string]interface{}{"region": settings.Store.Region}
	if settings.Store.Endpoint != "" {
		cfg["endpoint"] = settings.Store.Endpoint
	}
	return store.NewSecretsManager(cfg)
}

// loadPairs reads a plan file and instantiates its sources and publishers.
func (a *App) loadPairs(planPath string, st secretstore.Store) ([]propagation.Pair, *config.Plan, error) {
	data, err := os.ReadFile(planPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read plan %s: %w", planPath, err)
	}
	plan, err := config.ParsePlan(data)
	if err != nil {
		return nil, nil, err
	}

	pairs, err := plan.BuildPairs(sources.NewRegistry(st), destinations.NewRegistry(st))
	if err != nil {
		return nil, nil, err
	}
	return pairs, plan, nil
}
