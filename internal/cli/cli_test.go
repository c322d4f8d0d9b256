package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/flotilla/internal/engine"
	"github.com/mmr-tortoise/flotilla/internal/model"
	"github.com/mmr-tortoise/flotilla/internal/runtime"
	"github.com/mmr-tortoise/flotilla/internal/runtime/runtimetest"
)

const spec = `name: shop
services:
  db:
    image: postgres:16
  api:
    image: shop/api:1
    replicas: 2
    depends_on: [db]
`

// withFake points the CLI at an in-memory runtime and returns the path of a
// compose file containing content.
func withFake(t *testing.T, content string) (*runtimetest.Fake, string) {
	t.Helper()
	fake := runtimetest.New()
	prev := openRuntime
	openRuntime = func(name string, opts runtime.Options) (runtime.Adapter, error) {
		return fake, nil
	}
	t.Cleanup(func() { openRuntime = prev })

	// Keep configuration files on the host out of the test.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "compose.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return fake, path
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestUp_JSONReport(t *testing.T) {
	// Arrange
	fake, path := withFake(t, spec)

	// Act
	out, err := run(t, "up", "-f", path, "--json", "--parallelism", "2")

	// Assert
	require.NoError(t, err)
	var rep struct {
		Project string `json:"project"`
		Command string `json:"command"`
		Success bool   `json:"success"`
		Actions []struct {
			Slot    model.ReplicaSlot `json:"slot"`
			Kind    string            `json:"kind"`
			Layer   int               `json:"layer"`
			Outcome string            `json:"outcome"`
		} `json:"actions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "shop", rep.Project)
	assert.Equal(t, "up", rep.Command)
	assert.True(t, rep.Success)
	require.Len(t, rep.Actions, 3)
	for _, a := range rep.Actions {
		assert.Equal(t, "succeeded", a.Outcome)
		if a.Slot.Service == "db" {
			assert.Equal(t, 0, a.Layer)
		} else {
			assert.Equal(t, 1, a.Layer)
		}
	}
	assert.Len(t, fake.Containers(), 3)
	assert.LessOrEqual(t, fake.MaxConcurrent(), 2)
}

func TestUp_DryRunDoesNotMutate(t *testing.T) {
	fake, path := withFake(t, spec)

	out, err := run(t, "up", "--dry-run", "-f", path)

	require.NoError(t, err)
	assert.Contains(t, out, "Project shop: 3 action(s) for up")
	assert.Contains(t, out, "api-1")
	assert.Zero(t, fake.Mutations())
}

func TestUp_FailureExitCode(t *testing.T) {
	fake, path := withFake(t, spec)
	fake.FailOn(runtimetest.OpCreate, "db", 0, assert.AnError)

	out, err := run(t, "up", "-f", path)

	require.Error(t, err)
	assert.Equal(t, model.ExitActionFailed, model.ExitCodeOf(err))
	assert.Contains(t, out, "dependency db failed", "report is printed before the error")
}

func TestUp_InvalidPullPolicy(t *testing.T) {
	_, path := withFake(t, spec)

	_, err := run(t, "up", "-f", path, "--pull", "sometimes")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestDown_AfterUp(t *testing.T) {
	fake, path := withFake(t, spec)
	_, err := run(t, "up", "-f", path)
	require.NoError(t, err)

	out, err := run(t, "down", "-f", path)

	require.NoError(t, err)
	assert.Empty(t, fake.Containers())
	assert.False(t, fake.HasNetwork("shop_default"))
	assert.Contains(t, out, "down")
}

func TestStop_ThenPs(t *testing.T) {
	_, path := withFake(t, spec)
	_, err := run(t, "up", "-f", path)
	require.NoError(t, err)
	_, err = run(t, "stop", "-f", path)
	require.NoError(t, err)

	out, err := run(t, "ps", "-f", path, "--json")

	require.NoError(t, err)
	var result struct {
		Containers []engine.PsEntry `json:"containers"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Containers, 3)
	for _, c := range result.Containers {
		assert.Equal(t, model.ContainerExited, c.Status)
		assert.Equal(t, engine.StateUpToDate, c.State)
	}
}

func TestPs_StateFilter(t *testing.T) {
	_, path := withFake(t, spec)
	_, err := run(t, "up", "-f", path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(spec, "shop/api:1", "shop/api:2", 1)), 0o644))

	out, err := run(t, "ps", "-f", path, "--state", "outdated")

	require.NoError(t, err)
	assert.Contains(t, out, "shop_api_0")
	assert.Contains(t, out, "shop_api_1")
	assert.NotContains(t, out, "shop_db_0")
}

func TestPs_InvalidStateFilter(t *testing.T) {
	_, path := withFake(t, spec)

	_, err := run(t, "ps", "-f", path, "--state", "sleepy")

	require.Error(t, err)
	assert.Equal(t, model.ExitGeneralError, model.ExitCodeOf(err))
}

func TestPlan_InvalidCommand(t *testing.T) {
	_, path := withFake(t, spec)

	_, err := run(t, "plan", "build", "-f", path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot plan")
}

func TestMissingSpec(t *testing.T) {
	withFake(t, spec)

	_, err := run(t, "up")

	assert.Equal(t, model.ExitSpecError, model.ExitCodeOf(err))
}

func TestPrintPsText(t *testing.T) {
	tests := []struct {
		name    string
		entries []engine.PsEntry
		want    []string
	}{
		{
			name: "empty",
			want: []string{"No containers found."},
		},
		{
			name: "rows",
			entries: []engine.PsEntry{
				{Name: "app_api_0", ID: "abc", Service: "api", Replica: 0, Status: model.ContainerRunning, State: engine.StateUpToDate},
				{Name: "stray", ID: "def", Status: model.ContainerExited, State: engine.StateOrphan},
			},
			want: []string{"NAME", "app_api_0", "up-to-date", "stray", "orphan"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			printPsText(&buf, tt.entries)

			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}
