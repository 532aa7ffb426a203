package commands

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgtm-migrator/amplify-ci-support/internal/logging"
)

func testApp() *App {
	return &App{Logger: logging.NewWithWriter(io.Discard, false, true)}
}

func writePlanFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

const validPlan = `{
  "sources": [
    {
      "type": "env",
      "configuration": {"variables": ["NPM_TOKEN"]},
      "destination": {
        "specifier": "widget-ci",
        "mapping_to_destination": [{"destination_key_name": "NPM_TOKEN"}]
      }
    }
  ],
  "destinations": {
    "widget-ci": {
      "type": "circleci",
      "configuration": {"project_slug": "gh/acme/widget"}
    }
  }
}`

func TestPlanCommandShowsPairs(t *testing.T) {
	path := writePlanFile(t, validPlan)

	cmd := NewPlanCommand(testApp())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--plan", path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "env")
	assert.Contains(t, out.String(), "widget-ci")
	assert.Contains(t, out.String(), "NPM_TOKEN")
}

func TestPlanCommandJSONOutput(t *testing.T) {
	path := writePlanFile(t, validPlan)

	cmd := NewPlanCommand(testApp())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--plan", path, "--json"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"widget-ci"`)
}

func TestPlanCommandRejectsBrokenPlan(t *testing.T) {
	path := writePlanFile(t, `{
		"sources": [
			{
				"type": "env",
				"destination": {
					"specifier": "missing",
					"mapping_to_destination": [{"destination_key_name": "A"}]
				}
			}
		],
		"destinations": {}
	}`)

	cmd := NewPlanCommand(testApp())
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--plan", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestPlanCommandMissingFile(t *testing.T) {
	cmd := NewPlanCommand(testApp())
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--plan", filepath.Join(t.TempDir(), "absent.json")})

	assert.Error(t, cmd.Execute())
}
